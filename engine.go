package govdp

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout   = 1000 * time.Millisecond
	defaultSweepInterval = 50 * time.Millisecond
)

type EngineOpt func(*Engine)

// OptDefaultTimeout sets the timeout used by SendDefault. The diag client
// keeps its own default and does not read this one.
func OptDefaultTimeout(d time.Duration) EngineOpt {
	return func(e *Engine) { e.defaultTimeout = d }
}

// OptSweepInterval sets how often the timeout sweeper runs.
func OptSweepInterval(d time.Duration) EngineOpt {
	return func(e *Engine) { e.sweepInterval = d }
}

// OptOnIncoming installs a hook invoked for every valid inbound frame before
// it is routed. Used by monitors; must not block.
func OptOnIncoming(fn func(*Frame)) EngineOpt {
	return func(e *Engine) { e.onIncoming = fn }
}

// OptUnsolicited installs a sink for frames that match no pending request.
func OptUnsolicited(fn func(*Frame)) EngineOpt {
	return func(e *Engine) { e.table.SetUnsolicited(fn) }
}

func OptDebug(enabled bool) EngineOpt {
	return func(e *Engine) { e.debug = enabled }
}

// Engine composes the codec, the streaming parser and the transaction table
// over a byte transport. Inbound chunks are fed to the parser, drained
// outcomes are classified and routed; outbound frames register a pending
// entry before their bytes hit the wire.
type Engine struct {
	adapter Adapter
	parser  *Parser
	table   *transactionTable

	defaultTimeout time.Duration
	sweepInterval  time.Duration
	onIncoming     func(*Frame)
	debug          bool

	closeOnce sync.Once
	closed    chan struct{}

	errMu   sync.Mutex
	lastErr string
}

func NewEngine(adapter Adapter, opts ...EngineOpt) (*Engine, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	e := &Engine{
		adapter:        adapter,
		parser:         NewParser(),
		table:          newTransactionTable(),
		defaultTimeout: defaultSendTimeout,
		sweepInterval:  defaultSweepInterval,
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run opens the adapter and services it until ctx is cancelled, the adapter
// reports a fatal error or Close is called. It blocks.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.adapter.Open(ctx); err != nil {
		return fmt.Errorf("failed to open adapter %s: %w", e.adapter.Name(), err)
	}
	defer e.adapter.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.recvManager(ctx) })
	g.Go(func() error { return e.sweepManager(ctx) })
	g.Go(func() error { return e.errManager(ctx) })
	return g.Wait()
}

// Close stops the engine. Pending transactions are not cancelled; they will
// still fire on timeout through a later sweep or fall away with the engine.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

// Reset clears the parse buffer and framing state. Pending transactions are
// untouched and will still expire on their deadlines.
func (e *Engine) Reset() {
	e.parser.Reset()
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int {
	return e.table.Live()
}

// LastError returns the most recent transport or routing error message.
func (e *Engine) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastError(msg string) {
	e.errMu.Lock()
	e.lastErr = msg
	e.errMu.Unlock()
}

func (e *Engine) recvManager(ctx context.Context) error {
	recv := e.adapter.Recv()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		case chunk, ok := <-recv:
			if !ok {
				return ErrAdapterClosed
			}
			e.ProcessIncoming(chunk)
		}
	}
}

func (e *Engine) sweepManager(ctx context.Context) error {
	t := time.NewTicker(e.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		case now := <-t.C:
			e.table.Sweep(now)
		}
	}
}

func (e *Engine) errManager(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		case err := <-e.adapter.Err():
			if err == nil {
				return nil
			}
			e.setLastError(err.Error())
			return Unrecoverable(err)
		case evt := <-e.adapter.Event():
			if evt.Type == EventTypeError {
				e.setLastError(evt.Details)
			}
			if e.debug {
				log.Println(evt.String())
			}
		}
	}
}

// ProcessIncoming feeds raw transport bytes through the parser and routes
// every drained outcome. Expired transactions are swept first so a response
// arriving after its deadline cannot resurrect a dead entry.
func (e *Engine) ProcessIncoming(chunk []byte) {
	e.table.Sweep(time.Now())
	e.parser.Feed(chunk)
	for _, r := range e.parser.Extract() {
		switch r.Status {
		case Success:
			e.classify(r)
		case Invalid:
			e.handleInvalid(r)
		case Incomplete:
			// advisory only, more bytes will come
		}
	}
}

func (e *Engine) classify(r Result) {
	frame := r.Frame
	if e.onIncoming != nil {
		e.onIncoming(frame)
	}
	switch frame.Command {
	case Acknowledge, NegativeAck:
		e.table.RouteControl(frame, r.Raw)
		return
	}
	if !frame.Command.Valid() {
		e.nak(frame.EcuID, frame.Command, StatusInvalidCommand)
		return
	}
	if frame.IsResponse() && len(frame.Data) > 0 && ResponseStatus(frame.Data[0]) == StatusInvalidStatus {
		// 0x00 is a plain Success status and routes normally; only the
		// 0x80 sentinel marks a status byte we must reject.
		e.nak(frame.EcuID, frame.Command, StatusInvalidStatus)
		return
	}
	e.table.RouteResponse(frame, r.Raw)
}

// handleInvalid answers structurally broken frames whose intended command is
// still recoverable from the window with a NAK; everything else is dropped
// after the parser has already reported it.
func (e *Engine) handleInvalid(r Result) {
	if e.debug {
		log.Printf("invalid frame: %s: %s", r.Kind, r.Reason)
	}
	switch r.Kind {
	case BadEnd, BadChecksum:
	default:
		return
	}
	if len(r.Raw) < 4 {
		return
	}
	if cmd := Command(r.Raw[3]); cmd.Valid() {
		e.nak(r.Raw[2], cmd, StatusInvalidData)
	}
}

func (e *Engine) nak(ecuID uint8, rejected Command, code ResponseStatus) {
	if err := e.Transmit(NakFrame(ecuID, rejected, code)); err != nil {
		e.setLastError(err.Error())
	}
}

// Transmit serializes a frame and hands it to the adapter without
// registering a pending entry. NAKs and fire-and-forget traffic use this.
func (e *Engine) Transmit(frame *Frame) error {
	b, err := Serialize(frame)
	if err != nil {
		return err
	}
	return e.transmitRaw(b)
}

func (e *Engine) transmitRaw(b []byte) error {
	select {
	case e.adapter.Send() <- b:
		return nil
	case <-e.closed:
		return ErrEngineClosed
	}
}

// Send registers the frame in the transaction table, serializes it and hands
// the bytes to the adapter. The handler fires exactly once with Success,
// Nack or Timeout. Responses are matched on (ecu, command); two outstanding
// requests with the same key cannot be told apart, the oldest wins.
func (e *Engine) Send(frame *Frame, handler ResponseHandler, timeout time.Duration) (uint8, error) {
	b, err := Serialize(frame)
	if err != nil {
		return 0, err
	}
	seq, err := e.table.Register(frame, handler, timeout)
	if err != nil {
		return 0, err
	}
	if err := e.transmitRaw(b); err != nil {
		e.table.Cancel(seq)
		return 0, err
	}
	return seq, nil
}

// SendDefault sends with the engine's default timeout.
func (e *Engine) SendDefault(frame *Frame, handler ResponseHandler) (uint8, error) {
	return e.Send(frame, handler, e.defaultTimeout)
}

// SendAndWait sends the frame and blocks until its outcome arrives, the
// timeout passes or ctx is cancelled. On expiry the pending entry is removed
// before returning a Timeout outcome.
func (e *Engine) SendAndWait(ctx context.Context, frame *Frame, timeout time.Duration) (Result, error) {
	ch := make(chan Result, 1)
	seq, err := e.Send(frame, func(r Result) { ch <- r }, timeout)
	if err != nil {
		return Result{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		if !e.table.Cancel(seq) {
			// handler already fired, collect its outcome
			return <-ch, nil
		}
		return Result{
			Status:    Timeout,
			Frame:     frame,
			Reason:    (&TimeoutError{Timeout: timeout.Milliseconds(), EcuID: frame.EcuID, Command: frame.Command}).Error(),
			Timestamp: time.Now(),
		}, nil
	case <-ctx.Done():
		e.table.Cancel(seq)
		return Result{}, fmt.Errorf("send %s to ECU 0x%02X: %w", frame.Command, frame.EcuID, ctx.Err())
	}
}
