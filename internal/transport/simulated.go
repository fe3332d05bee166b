package transport

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

// Simulated defaults.
const (
	DefaultSimulatedInterval = 5 * time.Second
	DefaultSimulatedTopic    = "proxy/test"
	DefaultSimulatedBody     = "name:dummy;temp:25.56;bat:98%"

	// maxRecordedFrames bounds the frames kept by Sent.
	maxRecordedFrames = 64
)

// SimulatedConfig configures the simulated thing.
type SimulatedConfig struct {
	// Interval between readings. Default: 5 seconds.
	Interval time.Duration

	// Topic the readings are published to. Default: "proxy/test".
	Topic string

	// Body is the reading text without braces.
	Body string

	// QoS of the readings. Default: AtMostOnce.
	QoS envelope.QoS
}

// Simulated is a device link with no hardware behind it. While connected,
// and while the bridge reports ready, it emits a fixed reading as a Pub
// frame every Interval. Frames sent to it are logged and recorded.
//
// Thread Safety: All methods are safe for concurrent use.
type Simulated struct {
	link

	cfg   SimulatedConfig
	frame []byte

	readyMu sync.RWMutex
	ready   func() bool

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup

	sentMu sync.Mutex
	sent   [][]byte
}

// NewSimulated creates a disconnected simulated thing.
func NewSimulated(cfg SimulatedConfig) (*Simulated, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSimulatedInterval
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultSimulatedTopic
	}
	if cfg.Body == "" {
		cfg.Body = DefaultSimulatedBody
	}

	text := tlv.FormatRequestText(cfg.Topic, cfg.QoS, cfg.Body)
	frame, err := tlv.Encode(tlv.TypePub, []byte(text))
	if err != nil {
		return nil, err
	}

	return &Simulated{cfg: cfg, frame: frame}, nil
}

// SetReady sets the predicate gating readings. When nil, readings are
// emitted whenever the link is Connected.
func (s *Simulated) SetReady(ready func() bool) {
	s.readyMu.Lock()
	s.ready = ready
	s.readyMu.Unlock()
}

// Connect opens the simulated link. It never fails.
func (s *Simulated) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return nil
	}

	s.setState(linkstate.Connecting)
	s.stop = make(chan struct{})
	s.setState(linkstate.Connected)

	s.wg.Add(1)
	go s.emitLoop(s.stop)

	s.logInfo("simulated thing connected", "interval", s.cfg.Interval.String(), "topic", s.cfg.Topic)
	return nil
}

// Disconnect stops the readings and closes the link.
func (s *Simulated) Disconnect() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	s.setState(linkstate.Disconnected)
	return nil
}

// Send records a frame sent to the simulated thing.
func (s *Simulated) Send(ctx context.Context, frame []byte) error {
	if s.State() != linkstate.Connected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sentMu.Lock()
	s.sent = append(s.sent, append([]byte(nil), frame...))
	if len(s.sent) > maxRecordedFrames {
		s.sent = s.sent[len(s.sent)-maxRecordedFrames:]
	}
	s.sentMu.Unlock()

	if f, err := tlv.Decode(frame); err == nil {
		s.logDebug("simulated thing received frame", "type", f.Type.String(), "value", string(f.Value))
	}
	return nil
}

// Sent returns the most recent frames sent to the thing, oldest first.
func (s *Simulated) Sent() [][]byte {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Frame returns the reading frame the thing emits.
func (s *Simulated) Frame() []byte {
	return append([]byte(nil), s.frame...)
}

func (s *Simulated) emitLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.isReady() {
				s.deliver(s.Frame())
			}
		}
	}
}

func (s *Simulated) isReady() bool {
	s.readyMu.RLock()
	ready := s.ready
	s.readyMu.RUnlock()
	return ready == nil || ready()
}
