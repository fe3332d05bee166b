package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

func TestNewSimulated_DefaultReading(t *testing.T) {
	s, err := NewSimulated(SimulatedConfig{})
	if err != nil {
		t.Fatalf("NewSimulated() error = %v", err)
	}

	f, err := tlv.Decode(s.Frame())
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != tlv.TypePub {
		t.Errorf("type = %v, want pub", f.Type)
	}
	want := "[proxy/test]0{name:dummy;temp:25.56;bat:98%}"
	if string(f.Value) != want {
		t.Errorf("value = %q, want %q", f.Value, want)
	}
	if s.cfg.Interval != DefaultSimulatedInterval {
		t.Errorf("interval = %v", s.cfg.Interval)
	}
}

func TestNewSimulated_BodyTooLarge(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = 'x'
	}
	if _, err := NewSimulated(SimulatedConfig{Body: string(body)}); !errors.Is(err, tlv.ErrPayloadTooLarge) {
		t.Errorf("error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSimulated_ConnectEmitsWhileReady(t *testing.T) {
	s, err := NewSimulated(SimulatedConfig{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	rec := attach(s)

	var ready atomic.Bool
	s.SetReady(ready.Load)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	if !equalStates(rec.getStates(), []linkstate.State{linkstate.Connecting, linkstate.Connected}) {
		t.Errorf("states = %v", rec.getStates())
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(rec.getFrames()); n != 0 {
		t.Fatalf("emitted %d frames while not ready", n)
	}

	ready.Store(true)
	waitFor(t, "readings", func() bool { return len(rec.getFrames()) >= 2 })

	for _, f := range rec.getFrames() {
		if string(f) != string(s.Frame()) {
			t.Errorf("frame = %q", f)
		}
	}
}

func TestSimulated_Disconnect(t *testing.T) {
	s, _ := NewSimulated(SimulatedConfig{Interval: 5 * time.Millisecond})
	rec := attach(s)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Second connect is a no-op.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}

	count := len(rec.getFrames())
	time.Sleep(30 * time.Millisecond)
	if len(rec.getFrames()) != count {
		t.Error("frames emitted after Disconnect")
	}

	want := []linkstate.State{linkstate.Connecting, linkstate.Connected, linkstate.Disconnected}
	if !equalStates(rec.getStates(), want) {
		t.Errorf("states = %v, want %v", rec.getStates(), want)
	}
	if s.State() != linkstate.Disconnected {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSimulated_Send(t *testing.T) {
	s, _ := NewSimulated(SimulatedConfig{Interval: time.Hour})

	ack := []byte{byte(tlv.TypePubAck), 3, 'x'}
	if err := s.Send(context.Background(), ack); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before connect = %v, want ErrNotConnected", err)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()

	for i := 0; i < maxRecordedFrames+5; i++ {
		if err := s.Send(context.Background(), ack); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if n := len(s.Sent()); n != maxRecordedFrames {
		t.Errorf("Sent() = %d frames, want %d", n, maxRecordedFrames)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, ack); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() with cancelled ctx = %v", err)
	}
}
