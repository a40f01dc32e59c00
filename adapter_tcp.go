package govdp

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "tcp",
		Description:        "TCP bridge to a remote diagnostic head",
		RequiresSerialPort: false,
		New:                NewTCP,
	}); err != nil {
		panic(err)
	}
}

type TCP struct {
	BaseAdapter
	conn   net.Conn
	closed bool
}

func NewTCP(cfg *AdapterConfig) (Adapter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("tcp adapter requires an address")
	}
	return &TCP{
		BaseAdapter: NewBaseAdapter("tcp", cfg),
	}, nil
}

func (ta *TCP) Open(ctx context.Context) error {
	err := retry.Do(
		func() error {
			d := net.Dialer{Timeout: 2 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", ta.cfg.Address)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", ta.cfg.Address, err)
			}
			ta.conn = conn
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

	go func() {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ta.recvManager(ctx) })
		g.Go(func() error { return ta.sendManager(ctx) })
		if err := g.Wait(); err != nil && !ta.closed {
			ta.Fatal(err)
		}
	}()
	return nil
}

func (ta *TCP) Close() error {
	ta.BaseAdapter.Close()
	ta.closed = true
	if ta.conn == nil {
		return nil
	}
	return ta.conn.Close()
}

func (ta *TCP) recvManager(ctx context.Context) error {
	readBuf := make([]byte, 1024)
	for ctx.Err() == nil {
		n, err := ta.conn.Read(readBuf)
		if err != nil {
			return fmt.Errorf("failed to read socket: %w", err)
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, readBuf[:n])
		select {
		case ta.recvChan <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		default:
			ta.Error(ErrDroppedChunk)
		}
	}
	return ctx.Err()
}

func (ta *TCP) sendManager(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ta.closeChan:
			return nil
		case chunk := <-ta.sendChan:
			if ta.cfg.Debug {
				log.Printf(">> %X", chunk)
			}
			if _, err := ta.conn.Write(chunk); err != nil {
				return fmt.Errorf("failed to write socket: %w", err)
			}
		}
	}
}
