// Package diag is a high-level diagnostic client over the protocol engine.
// It wraps the raw command set in typed helpers and translates response
// status bytes for callers that do not want to touch frames.
package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/albenik/bcd"

	"github.com/omniscan/govdp"
)

type Client struct {
	engine         *govdp.Engine
	defaultTimeout time.Duration
}

func New(engine *govdp.Engine) *Client {
	return &Client{
		engine:         engine,
		defaultTimeout: 1 * time.Second,
	}
}

// SetDefaultTimeout changes the per-request deadline used by the helpers.
func (c *Client) SetDefaultTimeout(d time.Duration) {
	c.defaultTimeout = d
}

// Response is the decoded outcome of a diagnostic request.
type Response struct {
	Status govdp.ResponseStatus
	Data   []byte
}

func (r *Response) OK() bool {
	return r.Status == govdp.StatusSuccess
}

func (c *Client) request(ctx context.Context, ecuID uint8, cmd govdp.Command, payload []byte) (*Response, error) {
	res, err := c.engine.SendAndWait(ctx, govdp.NewFrame(ecuID, cmd, payload), c.defaultTimeout)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case govdp.Success:
		return decodeResponse(res.Frame), nil
	case govdp.Nack:
		return nil, fmt.Errorf("%s rejected by ECU 0x%02X: %s", cmd, ecuID, res.Reason)
	case govdp.Timeout:
		return nil, fmt.Errorf("%s to ECU 0x%02X: %w", cmd, ecuID, govdp.ErrSendTimeout)
	default:
		return nil, fmt.Errorf("unexpected outcome %s for %s", res.Status, cmd)
	}
}

func decodeResponse(f *govdp.Frame) *Response {
	if f == nil || len(f.Data) == 0 {
		return &Response{Status: govdp.StatusSuccess}
	}
	return &Response{
		Status: govdp.ResponseStatus(f.Data[0]),
		Data:   f.Data[1:],
	}
}

// ReadData reads the data record named by pid from an ECU.
func (c *Client) ReadData(ctx context.Context, ecuID, pid uint8) (*Response, error) {
	return c.request(ctx, ecuID, govdp.ReadData, []byte{pid})
}

// WriteData writes a data record to an ECU.
func (c *Client) WriteData(ctx context.Context, ecuID, pid uint8, value []byte) (*Response, error) {
	payload := append([]byte{pid}, value...)
	return c.request(ctx, ecuID, govdp.WriteData, payload)
}

// ClearCodes erases the stored trouble codes on an ECU.
func (c *Client) ClearCodes(ctx context.Context, ecuID uint8) (*Response, error) {
	return c.request(ctx, ecuID, govdp.ClearCodes, nil)
}

// ResetECU commands a soft reset. Most units drop off the bus for a moment
// afterwards, so callers should expect the next request to time out.
func (c *Client) ResetECU(ctx context.Context, ecuID uint8) (*Response, error) {
	return c.request(ctx, ecuID, govdp.EcuReset, nil)
}

// KeepAlive pings the bus without expecting an answer.
func (c *Client) KeepAlive() error {
	return c.engine.Transmit(govdp.NewFrame(govdp.BroadcastECU, govdp.KeepAlive, nil))
}

const pidOdometer = 0x21

// Odometer reads and decodes the BCD-packed odometer record.
func (c *Client) Odometer(ctx context.Context, ecuID uint8) (uint32, error) {
	resp, err := c.ReadData(ctx, ecuID, pidOdometer)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, fmt.Errorf("odometer read failed: %s", resp.Status)
	}
	if len(resp.Data) < 4 {
		return 0, fmt.Errorf("odometer record too short: %d bytes", len(resp.Data))
	}
	return bcd.ToUint32(resp.Data[:4]), nil
}

const pidBatteryVoltage = 0x42

// BatteryVoltage reads the BCD-packed supply voltage in centivolts.
func (c *Client) BatteryVoltage(ctx context.Context, ecuID uint8) (float64, error) {
	resp, err := c.ReadData(ctx, ecuID, pidBatteryVoltage)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, fmt.Errorf("voltage read failed: %s", resp.Status)
	}
	if len(resp.Data) < 2 {
		return 0, fmt.Errorf("voltage record too short: %d bytes", len(resp.Data))
	}
	return float64(bcd.ToUint16(resp.Data[:2])) / 100, nil
}
