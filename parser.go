package govdp

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type ParseStatus int

const (
	Success ParseStatus = iota
	Incomplete
	Invalid
	Timeout
	Nack
)

func (s ParseStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Incomplete:
		return "incomplete"
	case Invalid:
		return "invalid"
	case Timeout:
		return "timeout"
	case Nack:
		return "nack"
	default:
		return "unknown"
	}
}

// Result is one classification drained from the parser or delivered to a
// response handler.
type Result struct {
	Status    ParseStatus
	Frame     *Frame // set on Success and on routed ACK/NAK frames
	Kind      InvalidKind
	Reason    string
	Raw       []byte // original wire bytes, or the offending window
	Missing   int    // Incomplete: bytes still needed for the frame in flight
	Timestamp time.Time
}

// maxBuffer bounds the parse buffer against a peer that streams garbage
// without ever producing a start marker.
const maxBuffer = 16 * MaxFrameLen

// Parser consumes a possibly fragmented, possibly corrupted byte stream and
// drains typed outcomes. Feed appends, Extract classifies. A parser never
// desynchronizes permanently: after any malformed prefix it discards a single
// byte and rescans for the next start marker.
type Parser struct {
	mu        sync.Mutex
	buf       []byte
	seenFrame bool // at least one valid frame emitted this session
	overflow  int  // bytes dropped by the buffer cap since the last Extract
	reported  bool // trailing Incomplete already emitted for the current tail
}

func NewParser() *Parser {
	return &Parser{
		buf: make([]byte, 0, 4*MaxFrameLen),
	}
}

// Feed appends bytes to the internal buffer. It never parses and never fails.
func (p *Parser) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	p.reported = false
	if excess := len(p.buf) - maxBuffer; excess > 0 {
		p.buf = p.buf[excess:]
		p.overflow += excess
	}
}

// Buffered returns the number of bytes waiting to be classified.
func (p *Parser) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Reset clears the buffer and per-session framing state. Pending transactions
// registered elsewhere are untouched.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.seenFrame = false
	p.overflow = 0
	p.reported = false
}

// Extract drains as many classifications as the current buffer admits and
// leaves the tail that cannot yet be judged. Outcomes come back in the order
// their first byte arrived. Calling Extract again without feeding returns nil.
func (p *Parser) Extract() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	var results []Result
	now := time.Now()

	if p.overflow > 0 {
		if p.seenFrame {
			results = append(results, Result{
				Status:    Invalid,
				Kind:      GarbageBeforeStart,
				Reason:    fmt.Sprintf("buffer overflow, dropped %d unclassified bytes", p.overflow),
				Timestamp: now,
			})
		}
		p.overflow = 0
	}

	for {
		// Resynchronize: everything ahead of the next start marker is garbage.
		// Silent before the first valid frame of a session, diagnostic after.
		skip := 0
		for skip < len(p.buf) && p.buf[skip] != StartByte {
			skip++
		}
		if skip > 0 {
			if p.seenFrame {
				garbage := make([]byte, skip)
				copy(garbage, p.buf[:skip])
				results = append(results, Result{
					Status:    Invalid,
					Kind:      GarbageBeforeStart,
					Reason:    fmt.Sprintf("discarded %d bytes before start marker", skip),
					Raw:       garbage,
					Timestamp: now,
				})
			}
			p.buf = p.buf[skip:]
		}

		if len(p.buf) < 2 {
			break
		}

		// The length field of a malformed header is itself suspect, so every
		// rejection below advances a single byte rather than trusting LEN.
		frameLen := int(p.buf[1])
		if frameLen < MinFrameLen || frameLen > MaxFrameLen {
			raw := make([]byte, 2)
			copy(raw, p.buf[:2])
			results = append(results, Result{
				Status:    Invalid,
				Kind:      BadLength,
				Reason:    fmt.Sprintf("invalid frame length: %d", frameLen),
				Raw:       raw,
				Timestamp: now,
			})
			p.buf = p.buf[1:]
			continue
		}

		if len(p.buf) < frameLen {
			// Wait for the rest of the frame.
			break
		}

		if p.buf[frameLen-1] != EndByte {
			raw := make([]byte, frameLen)
			copy(raw, p.buf[:frameLen])
			results = append(results, Result{
				Status:    Invalid,
				Kind:      BadEnd,
				Reason:    fmt.Sprintf("end marker not found at position: %d", frameLen-1),
				Raw:       raw,
				Timestamp: now,
			})
			p.buf = p.buf[1:]
			continue
		}

		window := make([]byte, frameLen)
		copy(window, p.buf[:frameLen])
		if err := Verify(window); err != nil {
			var fe *FrameError
			kind, reason := BadChecksum, err.Error()
			if errors.As(err, &fe) {
				kind = fe.Kind
			}
			results = append(results, Result{
				Status:    Invalid,
				Kind:      kind,
				Reason:    reason,
				Raw:       window,
				Timestamp: now,
			})
			p.buf = p.buf[1:]
			continue
		}

		results = append(results, Result{
			Status:    Success,
			Frame:     decodeFrame(window),
			Raw:       window,
			Timestamp: now,
		})
		p.buf = p.buf[frameLen:]
		p.seenFrame = true
	}

	// At most one advisory Incomplete per Extract, and only while the tail
	// begins with a plausible header we have not reported yet.
	if !p.reported && len(p.buf) >= 2 && p.buf[0] == StartByte {
		if l := int(p.buf[1]); l >= MinFrameLen && l <= MaxFrameLen && len(p.buf) < l {
			results = append(results, Result{
				Status:    Incomplete,
				Missing:   l - len(p.buf),
				Timestamp: now,
			})
			p.reported = true
		}
	}

	return results
}
