package linkstate

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel buffer used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 32

// Notifier fans Change events out to any number of subscribers.
//
// Publish never blocks: when a subscriber's buffer is full the event is
// dropped for that subscriber and counted in Dropped.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Change
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]chan Change)}
}

// Subscribe registers a new consumer. The returned cancel function removes
// the subscription and closes the channel; it is safe to call more than once.
func (n *Notifier) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Change, buffer)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
			n.mu.Unlock()
		})
	}
}

// Publish delivers c to every subscriber without blocking.
func (n *Notifier) Publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- c:
		default:
			n.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Dropped returns the number of events dropped because a subscriber was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel and later publishes are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
