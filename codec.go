package govdp

import "fmt"

// xorChecksum folds every byte of b with XOR. The wire checksum covers the
// bytes strictly between START and CHECKSUM, i.e. LEN through the last data byte.
func xorChecksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// Serialize encodes a frame into its wire representation.
func Serialize(f *Frame) ([]byte, error) {
	if len(f.Data) > MaxDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Data))
	}
	out := make([]byte, 0, len(f.Data)+MinFrameLen)
	out = append(out, StartByte, byte(len(f.Data)+MinFrameLen), f.EcuID, byte(f.Command))
	out = append(out, f.Data...)
	out = append(out, xorChecksum(out[1:]), EndByte)
	return out, nil
}

// Verify checks a byte window presumed to hold exactly one complete frame.
// A nil return means the window is a well formed frame of its declared length.
func Verify(window []byte) error {
	if len(window) < MinFrameLen || len(window) > MaxFrameLen {
		return &FrameError{Kind: BadLength, Reason: fmt.Sprintf("invalid frame length: %d", len(window))}
	}
	if int(window[1]) != len(window) {
		return &FrameError{Kind: BadLength, Reason: fmt.Sprintf("declared length %d does not match window of %d", window[1], len(window))}
	}
	if window[0] != StartByte {
		return &FrameError{Kind: BadStart, Reason: fmt.Sprintf("start marker not found, got 0x%02X", window[0])}
	}
	if window[len(window)-1] != EndByte {
		return &FrameError{Kind: BadEnd, Reason: fmt.Sprintf("end marker not found at position: %d", len(window)-1)}
	}
	calculated := xorChecksum(window[1 : len(window)-2])
	expected := window[len(window)-2]
	if calculated != expected {
		return &FrameError{Kind: BadChecksum, Reason: fmt.Sprintf("checksum verification failed: calculated=0x%02X, expected=0x%02X", calculated, expected)}
	}
	return nil
}

// decodeFrame lifts a verified window into a logical frame. The window must
// have passed Verify first.
func decodeFrame(window []byte) *Frame {
	data := make([]byte, len(window)-MinFrameLen)
	copy(data, window[4:len(window)-2])
	return &Frame{
		EcuID:   window[2],
		Command: Command(window[3]),
		Data:    data,
	}
}
