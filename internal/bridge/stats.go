package bridge

import (
	"sync/atomic"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// counters are updated lock-free on the hot path.
type counters struct {
	framesIn        atomic.Uint64
	framesOut       atomic.Uint64
	published       atomic.Uint64
	acks            atomic.Uint64
	dropped         atomic.Uint64
	decodeErrors    atomic.Uint64
	rejected        atomic.Uint64
	transportErrors atomic.Uint64
}

// Stats is a point-in-time copy of a bridge's counters.
type Stats struct {
	// FramesIn counts frames received from the device.
	FramesIn uint64 `json:"frames_in"`

	// FramesOut counts frames written to the device, acks included.
	FramesOut uint64 `json:"frames_out"`

	// Published counts messages the broker accepted.
	Published uint64 `json:"published"`

	// Acks counts acknowledgement frames sent to the device.
	Acks uint64 `json:"acks"`

	// Dropped counts frames and messages dropped without an error
	// reaching a transport (rate limited, ack frames, oversized).
	Dropped uint64 `json:"dropped"`

	// DecodeErrors counts device frames that failed to decode.
	DecodeErrors uint64 `json:"decode_errors"`

	// Rejected counts operations refused because a link was not Connected.
	Rejected uint64 `json:"rejected"`

	// TransportErrors counts failures reported by either transport.
	TransportErrors uint64 `json:"transport_errors"`
}

// Stats returns the bridge's counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesIn:        b.counters.framesIn.Load(),
		FramesOut:       b.counters.framesOut.Load(),
		Published:       b.counters.published.Load(),
		Acks:            b.counters.acks.Load(),
		Dropped:         b.counters.dropped.Load(),
		DecodeErrors:    b.counters.decodeErrors.Load(),
		Rejected:        b.counters.rejected.Load(),
		TransportErrors: b.counters.transportErrors.Load(),
	}
}

// Status describes one thing for the API and the health report.
type Status struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Transport     string             `json:"transport"`
	Links         linkstate.Snapshot `json:"links"`
	Subscriptions []Subscription     `json:"subscriptions"`
	Stats         Stats              `json:"stats"`
}

// Status returns the thing's current status.
func (b *Bridge) Status() Status {
	return Status{
		ID:            b.id,
		Name:          b.name,
		Transport:     b.transport,
		Links:         b.tracker.Snapshot(),
		Subscriptions: b.Subscriptions(),
		Stats:         b.Stats(),
	}
}

// Ready reports whether both links were Connected when the status was taken.
func (s Status) Ready() bool {
	return s.Links.Device == linkstate.Connected && s.Links.MQTT == linkstate.Connected
}
