package govdp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "serial",
		Description:        "serial port transport (K-line / USB bridge)",
		RequiresSerialPort: true,
		New:                NewSerial,
	}); err != nil {
		panic(err)
	}
}

type Serial struct {
	BaseAdapter
	port   serial.Port
	closed bool
}

func NewSerial(cfg *AdapterConfig) (Adapter, error) {
	return &Serial{
		BaseAdapter: NewBaseAdapter("serial", cfg),
	}, nil
}

func (sa *Serial) Open(ctx context.Context) error {
	portName, err := portInfo(sa.cfg.Port)
	if err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: sa.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	err = retry.Do(
		func() error {
			p, err := serial.Open(portName, mode)
			if err != nil {
				return fmt.Errorf("failed to open com port %q : %v", portName, err)
			}
			sa.port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("#%d: %s\n", n, err.Error())
		}),
	)
	if err != nil {
		return err
	}
	sa.port.SetReadTimeout(3 * time.Millisecond)
	sa.port.ResetOutputBuffer()
	sa.port.ResetInputBuffer()

	go sa.sendManager(ctx)
	go sa.recvManager(ctx)
	return nil
}

func (sa *Serial) Close() error {
	sa.BaseAdapter.Close()
	sa.closed = true
	time.Sleep(10 * time.Millisecond)
	if sa.port == nil {
		return nil
	}
	return sa.port.Close()
}

func (sa *Serial) recvManager(ctx context.Context) {
	readBuf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := sa.port.Read(readBuf)
		if err != nil {
			if !sa.closed {
				sa.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, readBuf[:n])
		select {
		case sa.recvChan <- chunk:
		case <-ctx.Done():
			return
		default:
			sa.Error(ErrDroppedChunk)
		}
	}
}

func (sa *Serial) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sa.closeChan:
			return
		case chunk := <-sa.sendChan:
			if sa.cfg.Debug {
				log.Printf(">> %X", chunk)
			}
			if _, err := sa.port.Write(chunk); err != nil {
				sa.Error(fmt.Errorf("failed to write to com port: %w", err))
			}
		}
	}
}

func portInfo(portName string) (string, error) {
	if runtime.GOOS == "windows" {
		portName = strings.ToUpper(portName)
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	if portName == "*" {
		log.Println("discovered com ports:")
	}
	for _, port := range ports {
		if port.Name == portName || portName == "*" {
			log.Printf("port: %s\n", port.Name)
			if port.IsUSB {
				log.Printf("   USB ID      %s:%s\n", port.VID, port.PID)
				log.Printf("   USB serial  %s\n", port.SerialNumber)
			}
			if portName == "*" {
				continue
			}
			return portName, nil
		}
	}
	return "", errors.New("no device selected")
}
