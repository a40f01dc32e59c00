package govdp

import (
	"context"
	"fmt"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "mock",
		Description:        "loopback adapter with scriptable ECU responses",
		RequiresSerialPort: false,
		New:                NewMock,
	}); err != nil {
		panic(err)
	}
}

// Mock is an in-process transport. In loopback mode every outbound chunk
// comes straight back on the receive channel. In simulator mode outbound
// bytes run through their own parser and each valid frame is answered by the
// scripted responder for its command, or by a generic success response.
// ACK and NAK frames without a scripted responder are not answered.
type Mock struct {
	BaseAdapter
	parser *Parser

	mu         sync.Mutex
	loopback   bool
	responders map[Command]func(*Frame) *Frame
}

func NewMock(cfg *AdapterConfig) (Adapter, error) {
	return &Mock{
		BaseAdapter: NewBaseAdapter("mock", cfg),
		parser:      NewParser(),
		responders:  make(map[Command]func(*Frame) *Frame),
	}, nil
}

// SetLoopback switches the adapter to echo raw bytes instead of simulating
// ECU responses.
func (m *Mock) SetLoopback(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loopback = enabled
}

// Respond scripts the simulated ECU's answer for a command. Returning nil
// from the responder swallows the request.
func (m *Mock) Respond(cmd Command, fn func(*Frame) *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responders[cmd] = fn
}

// Inject delivers raw bytes as if they arrived from the wire.
func (m *Mock) Inject(b []byte) {
	chunk := make([]byte, len(b))
	copy(chunk, b)
	select {
	case m.recvChan <- chunk:
	default:
		m.Error(ErrDroppedChunk)
	}
}

// InjectFrame serializes a frame and delivers it as inbound bytes.
func (m *Mock) InjectFrame(f *Frame) error {
	b, err := Serialize(f)
	if err != nil {
		return err
	}
	m.Inject(b)
	return nil
}

func (m *Mock) Open(ctx context.Context) error {
	go m.sendManager(ctx)
	return nil
}

func (m *Mock) Close() error {
	m.BaseAdapter.Close()
	return nil
}

func (m *Mock) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeChan:
			return
		case chunk := <-m.sendChan:
			m.handleOutbound(chunk)
		}
	}
}

func (m *Mock) handleOutbound(chunk []byte) {
	m.mu.Lock()
	loopback := m.loopback
	m.mu.Unlock()

	if loopback {
		m.Inject(chunk)
		return
	}
	m.parser.Feed(chunk)
	for _, r := range m.parser.Extract() {
		if r.Status != Success {
			continue
		}
		if resp := m.respond(r.Frame); resp != nil {
			if err := m.InjectFrame(resp); err != nil {
				m.Error(fmt.Errorf("mock response: %w", err))
			}
		}
	}
}

func (m *Mock) respond(req *Frame) *Frame {
	m.mu.Lock()
	fn := m.responders[req.Command]
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	switch req.Command {
	case Acknowledge, NegativeAck:
		return nil
	default:
		return NewFrame(req.EcuID|ResponseBit, req.Command, []byte{uint8(StatusSuccess)})
	}
}
