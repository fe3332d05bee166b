package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// recorder captures frames and state transitions reported by a transport.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	states []linkstate.State
}

func (r *recorder) frame(f []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) state(s linkstate.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) getFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func (r *recorder) getStates() []linkstate.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]linkstate.State(nil), r.states...)
}

type wirable interface {
	SetOnFrame(func([]byte))
	SetOnStateChange(func(linkstate.State))
}

func attach(t wirable) *recorder {
	r := &recorder{}
	t.SetOnFrame(r.frame)
	t.SetOnStateChange(r.state)
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalStates(a, b []linkstate.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
