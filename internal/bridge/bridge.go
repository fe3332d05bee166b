package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

// Bridge operation constants.
const (
	// defaultOperationTimeout bounds one transport call made for a frame,
	// a message or an operator action.
	defaultOperationTimeout = 5 * time.Second

	// mqttConnectTimeout bounds the MQTT session setup after the device
	// link comes up.
	mqttConnectTimeout = 15 * time.Second
)

// Bridge moves requests between one thing's device link and its MQTT
// session. It handles:
//   - Decoding device frames and publishing them to MQTT
//   - Encoding MQTT messages as frames for the device
//   - Acknowledging completed requests back to the device
//   - Opening the MQTT session while the device link is up
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id        string
	name      string
	transport string

	device  DeviceTransport
	mqtt    MQTTTransport
	tracker *linkstate.Tracker
	limiter *rate.Limiter
	traffic TrafficRecorder

	allowDeviceSubscriptions bool
	opTimeout                time.Duration

	// deviceSession is bumped every time the device link leaves Connected.
	// An operation that sees it change has lost the session it answers to.
	deviceSession atomic.Uint64

	// subs are the MQTT subscriptions forwarding to the device.
	subs   map[string]envelope.QoS
	subsMu sync.RWMutex

	// desiredMQTT is the session state the lifecycle worker converges to.
	desiredMQTT atomic.Int32
	wake        chan struct{}

	counters counters

	// Shutdown coordination
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	wg        sync.WaitGroup
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// Options holds configuration for creating a bridge.
type Options struct {
	// ThingID identifies the thing. It is also the MQTT client ID.
	ThingID string

	// Name is a display name. Defaults to ThingID.
	Name string

	// Transport labels the device transport kind in status output.
	Transport string

	// Device is the local link to the thing.
	Device DeviceTransport

	// MQTT is the thing's broker session.
	MQTT MQTTTransport

	// Events receives every link state change. Optional.
	Events linkstate.Publisher

	// Logger is optional structured logger.
	Logger Logger

	// Traffic receives a sample per frame. Optional.
	Traffic TrafficRecorder

	// AllowDeviceSubscriptions lets devices subscribe and unsubscribe
	// through Sub and Unsub frames.
	AllowDeviceSubscriptions bool

	// RateLimit is the sustained uplink frame rate per second. Zero
	// disables limiting.
	RateLimit float64

	// RateBurst is the uplink burst size. Values below 1 are treated as 1.
	RateBurst int

	// OperationTimeout bounds each transport call. Defaults to 5s.
	OperationTimeout time.Duration
}

// New creates a bridge for one thing. Call Start to open the device link.
func New(opts Options) (*Bridge, error) {
	if opts.ThingID == "" {
		return nil, fmt.Errorf("thing ID is required")
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("device transport is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT transport is required")
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:                       opts.ThingID,
		name:                     opts.Name,
		transport:                opts.Transport,
		device:                   opts.Device,
		mqtt:                     opts.MQTT,
		tracker:                  linkstate.NewTracker(opts.ThingID, opts.Events),
		traffic:                  opts.Traffic, // May be nil (optional)
		allowDeviceSubscriptions: opts.AllowDeviceSubscriptions,
		opTimeout:                opts.OperationTimeout,
		subs:                     make(map[string]envelope.QoS),
		wake:                     make(chan struct{}, 1),
		ctx:                      ctx,
		ctxCancel:                ctxCancel,
		logger:                   opts.Logger,
	}
	if b.name == "" {
		b.name = b.id
	}
	if b.opTimeout <= 0 {
		b.opTimeout = defaultOperationTimeout
	}
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	b.device.SetOnFrame(func(frame []byte) {
		_ = b.OnFrameFromDevice(frame) //nolint:errcheck // outcome already logged
	})
	b.device.SetOnStateChange(b.handleDeviceState)
	b.mqtt.SetOnStateChange(b.handleMQTTState)
	if rs, ok := b.device.(ReadinessSetter); ok {
		rs.SetReady(b.Ready)
	}

	return b, nil
}

// ID returns the thing ID.
func (b *Bridge) ID() string {
	return b.id
}

// Name returns the display name.
func (b *Bridge) Name() string {
	return b.name
}

// Links returns the current device and MQTT link states.
func (b *Bridge) Links() linkstate.Snapshot {
	return b.tracker.Snapshot()
}

// Ready reports whether both links are Connected.
func (b *Bridge) Ready() bool {
	s := b.tracker.Snapshot()
	return s.Device == linkstate.Connected && s.MQTT == linkstate.Connected
}

// Start begins bridge operation by opening the device link. The MQTT
// session follows the device link: it is opened once the device is
// Connected and closed when the device goes away.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.ConnectDevice(ctx); err != nil {
		return err
	}
	b.logInfo("bridge started", "transport", b.transport)
	return nil
}

// ConnectDevice opens the device link.
func (b *Bridge) ConnectDevice(ctx context.Context) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.mqttLifecycle()
	})

	if err := b.device.Connect(ctx); err != nil {
		b.counters.transportErrors.Add(1)
		b.logError("device connect failed", err)
		return fmt.Errorf("%w: device connect: %w", ErrTransportFailure, err)
	}
	return nil
}

// DisconnectDevice closes the device link, which also closes the MQTT
// session.
func (b *Bridge) DisconnectDevice() error {
	if err := b.device.Disconnect(); err != nil {
		return fmt.Errorf("%w: device disconnect: %w", ErrTransportFailure, err)
	}
	return nil
}

// Stop gracefully shuts down the bridge. In-flight operations are
// cancelled and both links are closed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)

		// Cancel bridge context to abort in-flight operations
		b.ctxCancel()

		if err := b.device.Disconnect(); err != nil {
			b.logError("device disconnect failed", err)
		}
		if err := b.mqtt.Disconnect(); err != nil {
			b.logError("mqtt disconnect failed", err)
		}

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// OnFrameFromDevice handles one frame received from the device.
//
// Publish requests go to MQTT; subscribe and unsubscribe requests change
// the MQTT subscriptions forwarding to the device. Acknowledgement frames
// and frames that do not decode are dropped. The returned error is also
// logged; transports may ignore it.
func (b *Bridge) OnFrameFromDevice(frame []byte) error {
	if b.stopped.Load() {
		return ErrStopped
	}

	b.counters.framesIn.Add(1)
	b.record(DirectionUplink, frame)

	if b.limiter != nil && !b.limiter.Allow() {
		b.counters.dropped.Add(1)
		b.logWarn("dropping device frame over rate limit", "size", len(frame))
		return ErrRateLimited
	}

	if declared, mismatch := tlv.LengthMismatch(frame); mismatch {
		b.logDebug("frame length byte disagrees with frame size, using frame size",
			"length_byte", declared, "size", len(frame))
	}

	res, err := tlv.DecodeRequest(frame)
	if err != nil {
		if errors.Is(err, tlv.ErrNoRequest) {
			b.counters.dropped.Add(1)
			b.logDebug("ignoring non-request frame from device", "type", frameType(frame))
			return err
		}
		b.counters.decodeErrors.Add(1)
		b.logWarn("dropping undecodable device frame", "error", err, "size", len(frame))
		return err
	}

	e := res.Envelope
	if res.QoSDefaulted {
		b.logWarn("device request has no valid qos digit, using at_most_once", "topic", e.Topic())
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.opTimeout)
	defer cancel()

	switch e.Kind() {
	case envelope.KindPublish:
		return b.publish(ctx, e, true)
	case envelope.KindSubscribe, envelope.KindUnsubscribe:
		if !b.allowDeviceSubscriptions {
			b.counters.dropped.Add(1)
			b.logWarn("device subscription requests are disabled",
				"error", ErrUnsupportedRequest,
				"kind", e.Kind().String(),
				"topic", e.Topic())
			return ErrUnsupportedRequest
		}
		if e.Kind() == envelope.KindSubscribe {
			return b.subscribe(ctx, e, true)
		}
		return b.unsubscribe(ctx, e, true)
	default:
		return fmt.Errorf("%w: unexpected kind %s", tlv.ErrDecodeFailure, e.Kind())
	}
}

// OnMessageFromMQTT forwards a message that arrived on one of the thing's
// subscriptions to the device as a Pub frame.
func (b *Bridge) OnMessageFromMQTT(topic string, qos envelope.QoS, payload []byte) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	if payload == nil {
		payload = []byte{}
	}

	e, err := envelope.NewPublish(topic, qos, payload)
	if err != nil {
		b.counters.dropped.Add(1)
		b.logWarn("dropping mqtt message", "topic", topic, "error", err)
		return err
	}

	if !tlv.PayloadFitsText(payload) {
		b.logDebug("mqtt payload flattened lossily for the device", "topic", topic, "size", len(payload))
	}

	frame, err := tlv.EncodeRequest(e)
	if err != nil {
		b.counters.dropped.Add(1)
		b.logWarn("mqtt message does not fit a device frame", "topic", topic, "size", len(payload), "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.opTimeout)
	defer cancel()
	return b.sendToDevice(ctx, frame)
}

// OnRequestAcknowledged sends the acknowledgement for a completed request
// to the device: a PubAck carrying the payload for an AtLeastOnce publish,
// a SubAck or UnsubAck carrying the topic otherwise. AtMostOnce publishes
// are never acknowledged.
func (b *Bridge) OnRequestAcknowledged(ctx context.Context, e envelope.Envelope) error {
	if e.IsZero() {
		return fmt.Errorf("%w: empty envelope", envelope.ErrInvalidArgument)
	}
	if e.Kind() == envelope.KindPublish && e.QoS() != envelope.AtLeastOnce {
		return nil
	}

	frame, err := tlv.EncodeAck(e)
	if err != nil {
		b.logWarn("cannot encode acknowledgement", "kind", e.Kind().String(), "topic", e.Topic(), "error", err)
		return err
	}
	if err := b.sendToDevice(ctx, frame); err != nil {
		return err
	}

	b.counters.acks.Add(1)
	b.logDebug("acknowledged request", "kind", e.Kind().String(), "topic", e.Topic())
	return nil
}

// Publish publishes e to MQTT on behalf of the thing.
func (b *Bridge) Publish(ctx context.Context, e envelope.Envelope) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	if e.Kind() != envelope.KindPublish {
		return fmt.Errorf("%w: expected publish envelope", envelope.ErrInvalidArgument)
	}
	return b.publish(ctx, e, false)
}

// Subscribe subscribes the thing's session to topic. Messages arriving on
// it are forwarded to the device.
func (b *Bridge) Subscribe(ctx context.Context, topic string, qos envelope.QoS) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	e, err := envelope.NewSubscribe(topic, qos)
	if err != nil {
		return err
	}
	return b.subscribe(ctx, e, false)
}

// Unsubscribe removes the thing's subscription to topic.
func (b *Bridge) Unsubscribe(ctx context.Context, topic string) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	e, err := envelope.NewUnsubscribe(topic)
	if err != nil {
		return err
	}
	return b.unsubscribe(ctx, e, false)
}

// Subscription is an MQTT subscription forwarding to the device.
type Subscription struct {
	Topic string       `json:"topic"`
	QoS   envelope.QoS `json:"qos"`
}

// Subscriptions returns the active subscriptions sorted by topic.
func (b *Bridge) Subscriptions() []Subscription {
	b.subsMu.RLock()
	out := make([]Subscription, 0, len(b.subs))
	for topic, qos := range b.subs {
		out = append(out, Subscription{Topic: topic, QoS: qos})
	}
	b.subsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// publish sends e to MQTT and acknowledges it to the device once the
// broker confirmed delivery.
func (b *Bridge) publish(ctx context.Context, e envelope.Envelope, fromDevice bool) error {
	if !b.tracker.IsConnected(linkstate.LinkMQTT) {
		b.counters.rejected.Add(1)
		b.logWarn("mqtt link not connected, publish dropped", "topic", e.Topic())
		return fmt.Errorf("%w: mqtt", ErrNotConnected)
	}

	session := b.deviceSession.Load()
	if err := b.mqtt.Publish(ctx, e.Topic(), e.QoS(), e.Payload()); err != nil {
		b.counters.transportErrors.Add(1)
		b.logError("mqtt publish failed", err, "topic", e.Topic())
		return fmt.Errorf("%w: publish %s: %w", ErrTransportFailure, e.Topic(), err)
	}
	b.counters.published.Add(1)
	b.logDebug("published to mqtt", "topic", e.Topic(), "qos", e.QoS().String())

	return b.acknowledge(ctx, e, session, fromDevice)
}

func (b *Bridge) subscribe(ctx context.Context, e envelope.Envelope, fromDevice bool) error {
	if !b.tracker.IsConnected(linkstate.LinkMQTT) {
		b.counters.rejected.Add(1)
		b.logWarn("mqtt link not connected, subscribe dropped", "topic", e.Topic())
		return fmt.Errorf("%w: mqtt", ErrNotConnected)
	}

	topic, qos := e.Topic(), e.QoS()
	session := b.deviceSession.Load()
	err := b.mqtt.Subscribe(ctx, topic, qos, func(msgTopic string, payload []byte) {
		_ = b.OnMessageFromMQTT(msgTopic, qos, payload) //nolint:errcheck // outcome already logged
	})
	if err != nil {
		b.counters.transportErrors.Add(1)
		b.logError("mqtt subscribe failed", err, "topic", topic)
		return fmt.Errorf("%w: subscribe %s: %w", ErrTransportFailure, topic, err)
	}

	b.subsMu.Lock()
	b.subs[topic] = qos
	b.subsMu.Unlock()
	b.logInfo("subscribed", "topic", topic, "qos", qos.String(), "from_device", fromDevice)

	return b.acknowledge(ctx, e, session, fromDevice)
}

func (b *Bridge) unsubscribe(ctx context.Context, e envelope.Envelope, fromDevice bool) error {
	if !b.tracker.IsConnected(linkstate.LinkMQTT) {
		b.counters.rejected.Add(1)
		b.logWarn("mqtt link not connected, unsubscribe dropped", "topic", e.Topic())
		return fmt.Errorf("%w: mqtt", ErrNotConnected)
	}

	topic := e.Topic()
	session := b.deviceSession.Load()
	if err := b.mqtt.Unsubscribe(ctx, topic); err != nil {
		b.counters.transportErrors.Add(1)
		b.logError("mqtt unsubscribe failed", err, "topic", topic)
		return fmt.Errorf("%w: unsubscribe %s: %w", ErrTransportFailure, topic, err)
	}

	b.subsMu.Lock()
	delete(b.subs, topic)
	b.subsMu.Unlock()
	b.logInfo("unsubscribed", "topic", topic, "from_device", fromDevice)

	return b.acknowledge(ctx, e, session, fromDevice)
}

// acknowledge sends the ack for a completed operation unless the device
// session it started in has ended. Ack failures are returned only for
// device-initiated requests; operator actions have already succeeded.
func (b *Bridge) acknowledge(ctx context.Context, e envelope.Envelope, session uint64, fromDevice bool) error {
	var err error
	if b.deviceSession.Load() != session {
		b.counters.dropped.Add(1)
		b.logWarn("device link dropped during operation, acknowledgement discarded",
			"kind", e.Kind().String(), "topic", e.Topic())
		err = ErrLinkDropped
	} else {
		err = b.OnRequestAcknowledged(ctx, e)
	}

	if fromDevice {
		return err
	}
	return nil
}

// sendToDevice writes frame to the device if its link is Connected.
func (b *Bridge) sendToDevice(ctx context.Context, frame []byte) error {
	if !b.tracker.IsConnected(linkstate.LinkDevice) {
		b.counters.rejected.Add(1)
		b.logWarn("device link not connected, frame dropped", "type", frameType(frame))
		return fmt.Errorf("%w: device", ErrNotConnected)
	}

	if err := b.device.Send(ctx, frame); err != nil {
		b.counters.transportErrors.Add(1)
		b.logError("device send failed", err, "type", frameType(frame))
		return fmt.Errorf("%w: device send: %w", ErrTransportFailure, err)
	}

	b.counters.framesOut.Add(1)
	b.record(DirectionDownlink, frame)
	return nil
}

// handleDeviceState follows the device link and asks the lifecycle worker
// to open or close the MQTT session to match.
func (b *Bridge) handleDeviceState(s linkstate.State) {
	prev, changed := b.tracker.Set(linkstate.LinkDevice, s)
	if !changed {
		return
	}
	if prev == linkstate.Connected {
		b.deviceSession.Add(1)
	}

	switch s {
	case linkstate.Connected:
		b.logInfo("device link up")
		b.requestMQTT(linkstate.Connected)
	case linkstate.Disconnected:
		b.logInfo("device link down")
		b.subsMu.Lock()
		clear(b.subs)
		b.subsMu.Unlock()
		b.requestMQTT(linkstate.Disconnected)
	case linkstate.Connecting:
		b.logDebug("device link connecting")
	}
}

func (b *Bridge) handleMQTTState(s linkstate.State) {
	if _, changed := b.tracker.Set(linkstate.LinkMQTT, s); !changed {
		return
	}
	b.logDebug("mqtt link state changed", "state", s.String())
}

// requestMQTT records the desired session state and wakes the worker.
// Requests coalesce: only the latest one is acted on.
func (b *Bridge) requestMQTT(s linkstate.State) {
	b.desiredMQTT.Store(int32(s))
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// mqttLifecycle opens and closes the MQTT session off the transport's
// callback goroutine so device callbacks never wait on the broker.
func (b *Bridge) mqttLifecycle() {
	defer b.wg.Done()

	applied := linkstate.Disconnected
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}

		want := linkstate.State(b.desiredMQTT.Load())
		if want == applied {
			continue
		}

		switch want {
		case linkstate.Connected:
			ctx, cancel := context.WithTimeout(b.ctx, mqttConnectTimeout)
			err := b.mqtt.Connect(ctx)
			cancel()
			if err != nil {
				b.logError("mqtt connect failed", err)
				// A session still Connecting is retrying in the background.
				if b.tracker.State(linkstate.LinkMQTT) == linkstate.Disconnected {
					continue
				}
			}
			applied = linkstate.Connected
		case linkstate.Disconnected:
			if err := b.mqtt.Disconnect(); err != nil {
				b.logError("mqtt disconnect failed", err)
			}
			applied = linkstate.Disconnected
		case linkstate.Connecting:
		}
	}
}

func (b *Bridge) record(direction string, frame []byte) {
	if b.traffic != nil {
		b.traffic.RecordFrame(b.id, direction, frameType(frame), len(frame))
	}
}

func frameType(frame []byte) string {
	if len(frame) == 0 {
		return "empty"
	}
	return tlv.Type(frame[0]).String()
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, append([]any{"thing_id", b.id}, keysAndValues...)...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, append([]any{"thing_id", b.id}, keysAndValues...)...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"thing_id", b.id, "error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, append([]any{"thing_id", b.id}, keysAndValues...)...)
	}
}
