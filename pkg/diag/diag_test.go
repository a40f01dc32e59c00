package diag

import (
	"context"
	"testing"
	"time"

	"github.com/omniscan/govdp"
)

func newTestClient(t *testing.T) (*Client, *govdp.Mock) {
	t.Helper()
	a, err := govdp.NewAdapter("mock", &govdp.AdapterConfig{OnMessage: func(string) {}})
	if err != nil {
		t.Fatalf("NewAdapter() error: %v", err)
	}
	mock := a.(*govdp.Mock)

	engine, err := govdp.NewEngine(a, govdp.OptSweepInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		engine.Close()
		cancel()
		<-done
	})

	c := New(engine)
	c.SetDefaultTimeout(500 * time.Millisecond)
	return c, mock
}

func scriptedECU(mock *govdp.Mock) {
	mock.Respond(govdp.ReadData, func(req *govdp.Frame) *govdp.Frame {
		if len(req.Data) == 0 {
			return govdp.NewFrame(req.EcuID|govdp.ResponseBit, govdp.ReadData, []byte{uint8(govdp.StatusInvalidData)})
		}
		switch req.Data[0] {
		case 0x21: // odometer, BCD packed
			return govdp.NewFrame(req.EcuID|govdp.ResponseBit, govdp.ReadData,
				[]byte{uint8(govdp.StatusSuccess), 0x00, 0x12, 0x34, 0x56})
		case 0x42: // battery voltage, BCD centivolts
			return govdp.NewFrame(req.EcuID|govdp.ResponseBit, govdp.ReadData,
				[]byte{uint8(govdp.StatusSuccess), 0x13, 0x80})
		default:
			return govdp.NewFrame(req.EcuID|govdp.ResponseBit, govdp.ReadData,
				[]byte{uint8(govdp.StatusInvalidData)})
		}
	})
}

func TestReadData(t *testing.T) {
	c, mock := newTestClient(t)
	scriptedECU(mock)

	resp, err := c.ReadData(context.Background(), 0x01, 0x21)
	if err != nil {
		t.Fatalf("ReadData() error: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status = %s, want success", resp.Status)
	}
	if len(resp.Data) != 4 {
		t.Errorf("payload = % X, want 4 bytes", resp.Data)
	}
}

func TestReadDataRejectedStatus(t *testing.T) {
	c, mock := newTestClient(t)
	scriptedECU(mock)

	resp, err := c.ReadData(context.Background(), 0x01, 0x7A)
	if err != nil {
		t.Fatalf("ReadData() error: %v", err)
	}
	if resp.OK() {
		t.Fatal("unknown pid reported success")
	}
	if resp.Status != govdp.StatusInvalidData {
		t.Errorf("status = %s, want Invalid Data", resp.Status)
	}
}

func TestOdometer(t *testing.T) {
	c, mock := newTestClient(t)
	scriptedECU(mock)

	km, err := c.Odometer(context.Background(), 0x01)
	if err != nil {
		t.Fatalf("Odometer() error: %v", err)
	}
	if km != 123456 {
		t.Errorf("odometer = %d, want 123456", km)
	}
}

func TestBatteryVoltage(t *testing.T) {
	c, mock := newTestClient(t)
	scriptedECU(mock)

	v, err := c.BatteryVoltage(context.Background(), 0x01)
	if err != nil {
		t.Fatalf("BatteryVoltage() error: %v", err)
	}
	if v != 13.80 {
		t.Errorf("voltage = %.2f, want 13.80", v)
	}
}

func TestClearCodes(t *testing.T) {
	c, mock := newTestClient(t)
	mock.Respond(govdp.ClearCodes, func(req *govdp.Frame) *govdp.Frame {
		return govdp.NewFrame(req.EcuID|govdp.ResponseBit, govdp.ClearCodes, []byte{uint8(govdp.StatusSuccess)})
	})

	resp, err := c.ClearCodes(context.Background(), 0x03)
	if err != nil {
		t.Fatalf("ClearCodes() error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("status = %s, want success", resp.Status)
	}
}

func TestRequestTimeout(t *testing.T) {
	c, mock := newTestClient(t)
	mock.Respond(govdp.EcuReset, func(*govdp.Frame) *govdp.Frame { return nil })
	c.SetDefaultTimeout(30 * time.Millisecond)

	if _, err := c.ResetECU(context.Background(), 0x01); err == nil {
		t.Fatal("ResetECU() = nil error, want timeout")
	}
}

func TestKeepAlive(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.KeepAlive(); err != nil {
		t.Fatalf("KeepAlive() error: %v", err)
	}
}
