package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/thingbridge/internal/infrastructure/config"
	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// pahoClient is the subset of pahomqtt.Client the wrapper uses.
type pahoClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

// clientFactory builds the underlying paho client. Tests replace it.
type clientFactory func(*pahomqtt.ClientOptions) pahoClient

func defaultFactory(opts *pahomqtt.ClientOptions) pahoClient {
	return pahomqtt.NewClient(opts)
}

// Client is one MQTT session, owned by a single thing.
//
// Connection state is reported through SetOnStateChange as the link moves
// between Disconnected, Connecting and Connected. Reconnection after a lost
// connection is left to paho; the wrapper only reports it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	cfg      config.MQTTConfig
	clientID string
	// statusTopic carries the retained online/offline status and the LWT.
	statusTopic string
	factory     clientFactory

	mu        sync.Mutex
	client    pahoClient
	connected bool

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	onState    func(linkstate.State)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's goroutines and should not block for long.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// New creates a disconnected client for clientID. Online and offline status
// (including the LWT) is published retained on statusTopic. Call Connect to
// open the session.
func New(cfg config.MQTTConfig, clientID, statusTopic string) *Client {
	return &Client{
		cfg:           cfg,
		clientID:      clientID,
		statusTopic:   statusTopic,
		factory:       defaultFactory,
		subscriptions: make(map[string]subscription),
	}
}

// ClientID returns the ID this session belongs to.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect opens the session.
//
// The state moves to Connecting immediately. If the broker accepts the
// session before ctx is done (or the connect timeout expires) Connect
// returns nil and the state is Connected. Otherwise it returns ErrTimeout
// while paho keeps retrying in the background; the state moves to Connected
// whenever that succeeds. Calling Connect on an open session is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}

	opts := buildClientOptions(c.cfg, c.clientID)
	configureLWT(opts, c.statusTopic, c.clientID)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.emitState(linkstate.Connecting)
	})

	client := c.factory(opts)
	c.client = client
	c.mu.Unlock()

	c.emitState(linkstate.Connecting)

	if err := waitToken(ctx, client.Connect(), defaultConnectTimeout); err != nil {
		if isTimeout(err) {
			return err
		}
		c.reset()
		c.emitState(linkstate.Disconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.handleConnect()
	return nil
}

// handleConnect marks the session up, restores subscriptions and publishes
// the online status. Safe to call more than once per connection.
func (c *Client) handleConnect() {
	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return
	}
	already := c.connected
	c.connected = true
	client := c.client
	c.mu.Unlock()

	if already {
		return
	}

	c.restoreSubscriptions(client)
	client.Publish(c.statusTopic, 1, true, buildStatusPayload("online", c.clientID, ""))
	c.emitState(linkstate.Connected)
}

// handleConnectionLost is called by paho when an established connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "client_id", c.clientID, "error", err)
	}
	c.emitState(linkstate.Disconnected)
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions(client pahoClient) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Disconnect publishes a graceful offline status and closes the session.
// Tracked subscriptions are forgotten. Disconnecting a closed session is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	client := c.client
	wasConnected := c.connected
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	if wasConnected && client.IsConnected() {
		token := client.Publish(c.statusTopic, 1, true,
			buildStatusPayload("offline", c.clientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	client.Disconnect(defaultDisconnectQuiesce)

	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	c.emitState(linkstate.Disconnected)
	return nil
}

// Close is an alias for Disconnect.
func (c *Client) Close() error {
	return c.Disconnect()
}

func (c *Client) reset() {
	c.mu.Lock()
	if c.client != nil {
		c.client.Disconnect(0)
	}
	c.client = nil
	c.connected = false
	c.mu.Unlock()
}

// HealthCheck reports ErrNotConnected when the session is not up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnStateChange sets the callback that receives link state transitions.
// The callback runs on paho's goroutines and must not block.
func (c *Client) SetOnStateChange(callback func(linkstate.State)) {
	c.callbackMu.Lock()
	c.onState = callback
	c.callbackMu.Unlock()
}

func (c *Client) emitState(s linkstate.State) {
	c.callbackMu.RLock()
	callback := c.onState
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

// SetLogger sets a logger for error and panic logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) current() pahoClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

// waitToken blocks until the token completes, ctx is done or timeout
// expires. Timeouts and cancellation wrap ErrTimeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: after %v", ErrTimeout, timeout)
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
