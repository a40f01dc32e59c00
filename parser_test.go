package govdp

import (
	"bytes"
	"testing"
)

func mustSerialize(t *testing.T, f *Frame) []byte {
	t.Helper()
	b, err := Serialize(f)
	if err != nil {
		t.Fatalf("Serialize() error: %v", err)
	}
	return b
}

// drops the advisory Incomplete markers so outcome sequences can be compared
// across different chunkings of the same input.
func settled(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status != Incomplete {
			out = append(out, r)
		}
	}
	return out
}

func TestParseSingleFrame(t *testing.T) {
	p := NewParser()
	wire := []byte{0x7E, 0x06, 0x81, 0x10, 0x97, 0x7F}
	p.Feed(wire)

	results := p.Extract()
	if len(results) != 1 {
		t.Fatalf("Extract() returned %d results, want 1", len(results))
	}
	r := results[0]
	if r.Status != Success {
		t.Fatalf("status = %s, want success", r.Status)
	}
	if r.Frame.EcuID != 0x81 || r.Frame.Command != ReadData || len(r.Frame.Data) != 0 {
		t.Errorf("frame = %+v", r.Frame)
	}
	if !r.Frame.IsResponse() {
		t.Error("response bit not detected")
	}
	if !bytes.Equal(r.Raw, wire) {
		t.Errorf("raw = % X, want % X", r.Raw, wire)
	}

	if again := p.Extract(); len(again) != 0 {
		t.Errorf("second Extract() returned %d results, want 0", len(again))
	}
}

func TestParseFrameWithData(t *testing.T) {
	p := NewParser()
	p.Feed(mustSerialize(t, NewFrame(0x82, WriteData, []byte{0x12, 0x34, 0x56})))

	results := p.Extract()
	if len(results) != 1 || results[0].Status != Success {
		t.Fatalf("results = %+v", results)
	}
	f := results[0].Frame
	if f.EcuID != 0x82 || f.Command != WriteData || !bytes.Equal(f.Data, []byte{0x12, 0x34, 0x56}) {
		t.Errorf("frame = %+v", f)
	}
}

func TestStartupGarbageSilentlyDiscarded(t *testing.T) {
	p := NewParser()
	input := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, mustSerialize(t, NewFrame(0x81, ReadData, nil))...)
	p.Feed(input)

	results := p.Extract()
	if len(results) != 1 {
		t.Fatalf("Extract() returned %d results, want 1 (startup garbage must stay silent)", len(results))
	}
	if results[0].Status != Success {
		t.Errorf("status = %s, want success", results[0].Status)
	}
}

func TestMidSessionGarbageReported(t *testing.T) {
	p := NewParser()
	frame := mustSerialize(t, NewFrame(0x81, ReadData, nil))

	p.Feed(frame)
	if results := p.Extract(); len(results) != 1 || results[0].Status != Success {
		t.Fatalf("first frame: %+v", results)
	}

	input := append([]byte{0xDE, 0xAD}, frame...)
	p.Feed(input)
	results := p.Extract()
	if len(results) != 2 {
		t.Fatalf("Extract() returned %d results, want 2", len(results))
	}
	if results[0].Status != Invalid || results[0].Kind != GarbageBeforeStart {
		t.Errorf("first outcome = %+v, want GarbageBeforeStart", results[0])
	}
	if !bytes.Equal(results[0].Raw, []byte{0xDE, 0xAD}) {
		t.Errorf("garbage bytes = % X", results[0].Raw)
	}
	if results[1].Status != Success {
		t.Errorf("second outcome = %+v, want success", results[1])
	}
}

func TestBadEndMarker(t *testing.T) {
	p := NewParser()
	wire := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	wire[len(wire)-1] = 0x7D
	p.Feed(wire)

	results := settled(p.Extract())
	if len(results) != 1 {
		t.Fatalf("Extract() returned %d results, want 1", len(results))
	}
	if results[0].Status != Invalid || results[0].Kind != BadEnd {
		t.Errorf("outcome = %+v, want BadEnd", results[0])
	}
}

func TestBadChecksum(t *testing.T) {
	p := NewParser()
	wire := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	wire[len(wire)-2] ^= 0xFF
	p.Feed(wire)

	results := settled(p.Extract())
	if len(results) != 1 {
		t.Fatalf("Extract() returned %d results, want 1", len(results))
	}
	if results[0].Status != Invalid || results[0].Kind != BadChecksum {
		t.Errorf("outcome = %+v, want BadChecksum", results[0])
	}
}

func TestBadLengthResync(t *testing.T) {
	p := NewParser()
	input := []byte{0x7E, 0x03, 0x01, 0x02, 0x03, 0x7F}
	input = append(input, mustSerialize(t, NewFrame(0x81, ReadData, nil))...)
	p.Feed(input)

	results := p.Extract()
	if len(results) != 2 {
		t.Fatalf("Extract() returned %d results, want 2: %+v", len(results), results)
	}
	if results[0].Status != Invalid || results[0].Kind != BadLength {
		t.Errorf("first outcome = %+v, want BadLength", results[0])
	}
	if results[1].Status != Success {
		t.Errorf("second outcome = %+v, want success", results[1])
	}
}

func TestByteAtATime(t *testing.T) {
	p := NewParser()
	wire := mustSerialize(t, NewFrame(0x81, ReadData, nil))

	for i, b := range wire {
		p.Feed([]byte{b})
		results := settled(p.Extract())
		if i < len(wire)-1 {
			if len(results) != 0 {
				t.Fatalf("byte %d: got %d settled results, want 0", i, len(results))
			}
			continue
		}
		if len(results) != 1 || results[0].Status != Success {
			t.Fatalf("final byte: results = %+v, want one success", results)
		}
	}
}

func TestBackToBackFrames(t *testing.T) {
	p := NewParser()
	f1 := NewFrame(0x81, ReadData, nil)
	f2 := NewFrame(0x82, WriteData, []byte{0x12, 0x34, 0x56})
	input := append(mustSerialize(t, f1), mustSerialize(t, f2)...)
	p.Feed(input)

	results := p.Extract()
	if len(results) != 2 {
		t.Fatalf("Extract() returned %d results, want 2", len(results))
	}
	if results[0].Frame.EcuID != 0x81 || results[1].Frame.EcuID != 0x82 {
		t.Errorf("frames out of order: %+v", results)
	}
}

func TestIncompleteHint(t *testing.T) {
	p := NewParser()
	wire := mustSerialize(t, NewFrame(0x01, WriteData, []byte{0xAA, 0xBB}))
	p.Feed(wire[:4])

	results := p.Extract()
	if len(results) != 1 || results[0].Status != Incomplete {
		t.Fatalf("results = %+v, want one Incomplete", results)
	}
	if want := len(wire) - 4; results[0].Missing != want {
		t.Errorf("missing = %d, want %d", results[0].Missing, want)
	}
	// Only one advisory marker per Extract and none on repeat.
	if again := p.Extract(); len(again) != 0 {
		t.Errorf("second Extract() = %+v, want empty", again)
	}

	p.Feed(wire[4:])
	results = p.Extract()
	if len(results) != 1 || results[0].Status != Success {
		t.Fatalf("completion results = %+v, want one success", results)
	}
}

func TestStreamingInvariance(t *testing.T) {
	good := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	bad := mustSerialize(t, NewFrame(0x02, ClearCodes, []byte{0x01}))
	bad[len(bad)-2] ^= 0xFF

	var input []byte
	input = append(input, 0xAA, 0x55)
	input = append(input, good...)
	input = append(input, bad...)
	input = append(input, mustSerialize(t, NewFrame(0x03, EcuReset, nil))...)

	whole := NewParser()
	whole.Feed(input)
	want := settled(whole.Extract())

	for chunkSize := 1; chunkSize <= len(input); chunkSize++ {
		p := NewParser()
		var got []Result
		for off := 0; off < len(input); off += chunkSize {
			end := off + chunkSize
			if end > len(input) {
				end = len(input)
			}
			p.Feed(input[off:end])
			got = append(got, settled(p.Extract())...)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: %d outcomes, want %d", chunkSize, len(got), len(want))
		}
		for i := range want {
			if got[i].Status != want[i].Status || got[i].Kind != want[i].Kind || !bytes.Equal(got[i].Raw, want[i].Raw) {
				t.Fatalf("chunk size %d: outcome %d = %+v, want %+v", chunkSize, i, got[i], want[i])
			}
		}
	}
}

func TestResynchronizationAfterSentinelGarbage(t *testing.T) {
	// Garbage that itself contains start sentinels and bogus headers must not
	// swallow the real frame that follows.
	p := NewParser()
	garbage := []byte{0x7E, 0xFF, 0x7E, 0x02, 0xAA, 0x7F, 0x13}
	wire := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	p.Feed(append(garbage, wire...))

	var success int
	for _, r := range p.Extract() {
		if r.Status == Success {
			success++
			if !bytes.Equal(r.Raw, wire) {
				t.Errorf("recovered frame = % X, want % X", r.Raw, wire)
			}
		}
	}
	if success != 1 {
		t.Errorf("recovered %d frames, want 1", success)
	}
}

func TestByteConservation(t *testing.T) {
	// Every input byte lands in at most one outcome's raw view.
	p := NewParser()
	f := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	input := append([]byte{}, f...)
	input = append(input, 0x11, 0x22) // mid-session garbage
	input = append(input, f...)
	p.Feed(input)

	total := 0
	for _, r := range p.Extract() {
		total += len(r.Raw)
	}
	if total != len(input) {
		t.Errorf("raw bytes across outcomes = %d, want %d", total, len(input))
	}
}

func TestReset(t *testing.T) {
	p := NewParser()
	p.Feed([]byte{0x7E, 0x08, 0x01})
	p.Reset()
	if got := p.Buffered(); got != 0 {
		t.Errorf("Buffered() = %d after Reset, want 0", got)
	}
	// Session state is fresh: garbage is silent again.
	p.Feed(append([]byte{0xDE, 0xAD}, mustSerialize(t, NewFrame(0x81, ReadData, nil))...))
	results := p.Extract()
	if len(results) != 1 || results[0].Status != Success {
		t.Errorf("post-reset results = %+v, want one success", results)
	}
}

func TestBufferCapRecovers(t *testing.T) {
	p := NewParser()
	junk := make([]byte, maxBuffer+512)
	for i := range junk {
		junk[i] = 0x55
	}
	p.Feed(junk)
	if got := p.Buffered(); got > maxBuffer {
		t.Fatalf("Buffered() = %d, cap is %d", got, maxBuffer)
	}
	p.Extract()

	wire := mustSerialize(t, NewFrame(0x81, ReadData, nil))
	p.Feed(wire)
	results := settled(p.Extract())
	if len(results) != 1 || results[0].Status != Success {
		t.Fatalf("results after overflow = %+v, want one success", results)
	}
}
