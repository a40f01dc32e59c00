package govdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Wire format: [0x7E][LEN][ECU_ID][CMD][DATA...][CHECKSUM][0x7F]
// LEN counts every byte of the frame including both sentinels.
const (
	StartByte   = 0x7E
	EndByte     = 0x7F
	MinFrameLen = 6   // [7E][06][ECU][CMD][CHK][7F]
	MaxFrameLen = 253 // largest valid LEN; the valid range is 6..253
	MaxDataLen  = MaxFrameLen - MinFrameLen

	// ResponseBit is OR'd into the ECU id of response frames. ECU n answers as n|0x80.
	ResponseBit = 0x80

	// BroadcastECU is reserved for KeepAlive traffic.
	BroadcastECU = 0x00
)

type Command uint8

const (
	ReadData    Command = 0x10
	WriteData   Command = 0x20
	ClearCodes  Command = 0x30
	EcuReset    Command = 0x40
	KeepAlive   Command = 0x50
	Acknowledge Command = 0x06
	NegativeAck Command = 0x15
)

func (c Command) Valid() bool {
	switch c {
	case ReadData, WriteData, ClearCodes, EcuReset, KeepAlive, Acknowledge, NegativeAck:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case ReadData:
		return "ReadData"
	case WriteData:
		return "WriteData"
	case ClearCodes:
		return "ClearCodes"
	case EcuReset:
		return "EcuReset"
	case KeepAlive:
		return "KeepAlive"
	case Acknowledge:
		return "ACK"
	case NegativeAck:
		return "NAK"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(c))
	}
}

type ResponseStatus uint8

const (
	StatusSuccess        ResponseStatus = 0x00
	StatusInvalidCommand ResponseStatus = 0x01
	StatusInvalidData    ResponseStatus = 0x02
	StatusEcuBusy        ResponseStatus = 0x03
	StatusInvalidStatus  ResponseStatus = 0x80 // peer sent a status we do not recognize
	StatusTimeout        ResponseStatus = 0xFE // synthesized locally, never on the wire
	StatusGeneralError   ResponseStatus = 0xFF
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusInvalidCommand:
		return "Invalid Command"
	case StatusInvalidData:
		return "Invalid Data"
	case StatusEcuBusy:
		return "ECU Busy"
	case StatusInvalidStatus:
		return "Invalid Status"
	case StatusTimeout:
		return "Timeout"
	case StatusGeneralError:
		return "General Error"
	default:
		return fmt.Sprintf("Unknown Status (0x%02X)", uint8(s))
	}
}

// Frame is one VDP protocol data unit.
type Frame struct {
	EcuID   uint8
	Command Command
	Data    []byte
}

// NewFrame creates a new Frame and copies the data slice
func NewFrame(ecuID uint8, command Command, data []byte) *Frame {
	d := make([]byte, len(data))
	copy(d, data)
	return &Frame{
		EcuID:   ecuID,
		Command: command,
		Data:    d,
	}
}

// IsResponse reports whether the response bit is set in the ECU id.
func (f *Frame) IsResponse() bool {
	return f.EcuID&ResponseBit != 0
}

// RequestECU returns the ECU id with the response bit stripped.
func (f *Frame) RequestECU() uint8 {
	return f.EcuID &^ ResponseBit
}

// Length returns the number of data bytes in the frame.
func (f *Frame) Length() int {
	return len(f.Data)
}

// WireLength returns the full on-wire length including sentinels.
func (f *Frame) WireLength() int {
	return len(f.Data) + MinFrameLen
}

// AckFrame builds an ACK for the given sequence number.
func AckFrame(ecuID, seq uint8) *Frame {
	return &Frame{
		EcuID:   ecuID &^ ResponseBit,
		Command: Acknowledge,
		Data:    []byte{seq},
	}
}

// NakFrame builds a NAK naming the rejected command and a status code.
func NakFrame(ecuID uint8, rejected Command, code ResponseStatus) *Frame {
	return &Frame{
		EcuID:   ecuID &^ ResponseBit,
		Command: NegativeAck,
		Data:    []byte{uint8(rejected), uint8(code)},
	}
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) String() string {
	var out strings.Builder
	if f.IsResponse() {
		out.WriteString("<i> || ")
	} else {
		out.WriteString("<o> || ")
	}
	out.WriteString(fmt.Sprintf("0x%02X", f.EcuID) + " || ")
	out.WriteString(fmt.Sprintf("%-10s", f.Command.String()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *Frame) ColorString() string {
	var out strings.Builder
	if f.IsResponse() {
		out.WriteString("<i> || ")
	} else {
		out.WriteString("<o> || ")
	}
	out.WriteString(green("0x%02X", f.EcuID) + " || ")
	out.WriteString(red("%-10s", f.Command.String()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 127 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
