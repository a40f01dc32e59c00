package govdp

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResponseHandler receives the single outcome of a registered request:
// Success, Nack or Timeout. It is called exactly once, from either the
// goroutine feeding inbound bytes or the timeout sweeper.
type ResponseHandler func(Result)

type pendingEntry struct {
	seq      uint8
	frame    *Frame
	handler  ResponseHandler
	deadline time.Time
}

// transactionTable tracks outstanding requests against their responses.
// Data frames carry no sequence number on the wire, so responses are matched
// on (command, ecu id with the response bit stripped); ACK and NAK frames
// name the sequence they refer to in data[0].
type transactionTable struct {
	mu      sync.Mutex
	entries map[uint8]*pendingEntry
	seq     uint32

	unsolicited func(*Frame)
}

func newTransactionTable() *transactionTable {
	return &transactionTable{
		entries: make(map[uint8]*pendingEntry),
	}
}

// SetUnsolicited installs a sink for incoming frames that match no pending
// request. KeepAlive frames are never forwarded.
func (t *transactionTable) SetUnsolicited(fn func(*Frame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsolicited = fn
}

// Register allocates a sequence number and stores a pending entry for the
// request. The 8-bit counter wraps; a candidate already in flight is skipped.
// With all 256 slots live it fails with ErrTableFull.
func (t *transactionTable) Register(frame *Frame, handler ResponseHandler, timeout time.Duration) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= 256 {
		return 0, ErrTableFull
	}
	var seq uint8
	for {
		seq = uint8(atomic.AddUint32(&t.seq, 1))
		if _, live := t.entries[seq]; !live {
			break
		}
	}
	t.entries[seq] = &pendingEntry{
		seq:      seq,
		frame:    frame,
		handler:  handler,
		deadline: time.Now().Add(timeout),
	}
	return seq, nil
}

// Cancel removes a pending entry without invoking its handler. It reports
// whether the entry was still live.
func (t *transactionTable) Cancel(seq uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, live := t.entries[seq]; !live {
		return false
	}
	delete(t.entries, seq)
	return true
}

// Live returns the number of outstanding requests.
func (t *transactionTable) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RouteResponse matches an incoming data frame against the pending entries.
// When several entries share the (ecu, command) key the oldest deadline wins;
// the wire format permits no finer discrimination. Unmatched frames go to the
// unsolicited sink, except KeepAlive which is dropped.
func (t *transactionTable) RouteResponse(frame *Frame, raw []byte) {
	t.mu.Lock()
	var match *pendingEntry
	for _, e := range t.entries {
		if e.frame.Command != frame.Command || e.frame.RequestECU() != frame.RequestECU() {
			continue
		}
		if match == nil || e.deadline.Before(match.deadline) {
			match = e
		}
	}
	if match != nil {
		delete(t.entries, match.seq)
	}
	sink := t.unsolicited
	t.mu.Unlock()

	if match != nil {
		match.handler(Result{
			Status:    Success,
			Frame:     frame,
			Raw:       raw,
			Timestamp: time.Now(),
		})
		return
	}
	if frame.Command == KeepAlive {
		return
	}
	if sink != nil {
		sink(frame)
	}
}

// RouteControl handles an ACK or NAK frame. The referenced sequence lives in
// data[0]; NAK frames may carry a status code in data[1]. Malformed or
// unmatched control frames are dropped.
func (t *transactionTable) RouteControl(frame *Frame, raw []byte) {
	if len(frame.Data) < 1 {
		return
	}
	seq := frame.Data[0]

	t.mu.Lock()
	entry, live := t.entries[seq]
	if live {
		delete(t.entries, seq)
	}
	t.mu.Unlock()
	if !live {
		return
	}

	switch frame.Command {
	case Acknowledge:
		entry.handler(Result{
			Status:    Success,
			Frame:     frame,
			Raw:       raw,
			Timestamp: time.Now(),
		})
	case NegativeAck:
		status := StatusGeneralError
		if len(frame.Data) > 1 {
			status = ResponseStatus(frame.Data[1])
		}
		entry.handler(Result{
			Status:    Nack,
			Frame:     frame,
			Reason:    status.String(),
			Raw:       raw,
			Timestamp: time.Now(),
		})
	}
}

// Sweep expires every entry whose deadline has passed, invoking each handler
// with a Timeout outcome. Handlers run outside the table lock so they may
// register new requests.
func (t *transactionTable) Sweep(now time.Time) {
	t.mu.Lock()
	var expired []*pendingEntry
	for seq, e := range t.entries {
		if !e.deadline.After(now) {
			expired = append(expired, e)
			delete(t.entries, seq)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.handler(Result{
			Status:    Timeout,
			Frame:     e.frame,
			Reason:    (&TimeoutError{EcuID: e.frame.EcuID, Command: e.frame.Command}).Error(),
			Timestamp: now,
		})
	}
}
