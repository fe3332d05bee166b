package linkstate

import (
	"sync"
	"time"
)

// Publisher receives state changes. *Notifier satisfies it.
type Publisher interface {
	Publish(Change)
}

// Snapshot is the current state of both links of a thing.
type Snapshot struct {
	Device State `json:"device"`
	MQTT   State `json:"mqtt"`
}

// Tracker holds the device and MQTT link states for one thing.
//
// Set applies a transition and publishes it under the same lock, so
// observers see transitions in the order they were applied and State never
// returns a value that has not yet been announced.
type Tracker struct {
	thingID string
	pub     Publisher
	now     func() time.Time

	mu     sync.Mutex
	device State
	mqtt   State
}

// NewTracker creates a tracker with both links Disconnected. pub may be nil.
func NewTracker(thingID string, pub Publisher) *Tracker {
	return &Tracker{thingID: thingID, pub: pub, now: time.Now}
}

// Set moves link to state and returns the state it replaced. changed is
// false when the link was already in that state, in which case nothing is
// published.
func (t *Tracker) Set(link Link, state State) (prev State, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.ptr(link)
	if cur == nil {
		return Disconnected, false
	}
	if *cur == state {
		return state, false
	}
	prev = *cur
	*cur = state

	if t.pub != nil {
		t.pub.Publish(Change{
			ThingID:  t.thingID,
			Link:     link,
			State:    state,
			Previous: prev,
			At:       t.now().UTC(),
		})
	}
	return prev, true
}

// State returns the current state of link.
func (t *Tracker) State(link Link) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p := t.ptr(link); p != nil {
		return *p
	}
	return Disconnected
}

// IsConnected reports whether link is Connected.
func (t *Tracker) IsConnected(link Link) bool {
	return t.State(link) == Connected
}

// Snapshot returns both link states read atomically.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Device: t.device, MQTT: t.mqtt}
}

func (t *Tracker) ptr(link Link) *State {
	switch link {
	case LinkDevice:
		return &t.device
	case LinkMQTT:
		return &t.mqtt
	default:
		return nil
	}
}
