package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for socket things.
const (
	// defaultSocketConnectTimeout is the maximum time to wait for a dial.
	defaultSocketConnectTimeout = 10 * time.Second

	// defaultSocketWriteTimeout is the timeout for write operations.
	defaultSocketWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = time.Second

	// defaultMaxReconnectInterval caps the reconnection backoff.
	defaultMaxReconnectInterval = time.Minute

	// frameQueueSize is the buffer size for the frame callback queue.
	frameQueueSize = 100
)

// SocketConfig holds socket thing configuration.
type SocketConfig struct {
	// Address is the device URL.
	// Supported formats:
	//   - "unix:///run/thing.sock" (Unix socket)
	//   - "tcp://192.168.1.40:7000" (TCP)
	Address string

	// ConnectTimeout is the maximum time to wait for a dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 1 second.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff. Default: 1 minute.
	MaxReconnectInterval time.Duration
}

// SocketStats holds operational statistics.
type SocketStats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // Frames dropped due to full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
}

// Socket is a device link over a TCP or unix stream socket. Frames are
// delimited by the TLV length byte.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frames are delivered by a single worker in arrival order.
//
// Auto-Reconnection:
//   - When the connection is lost the link moves to Connecting and redials
//     with exponential backoff (×1.5) up to MaxReconnectInterval.
//   - Reconnection stops only when Disconnect is called.
type Socket struct {
	link

	cfg     SocketConfig
	network string
	address string

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	connMu sync.RWMutex
	conn   net.Conn

	// Per-connection shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	frameQueue chan []byte

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// NewSocket creates a disconnected socket link.
func NewSocket(cfg SocketConfig) (*Socket, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultSocketConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}

	network, address, err := parseSocketURL(cfg.Address)
	if err != nil {
		return nil, err
	}

	return &Socket{cfg: cfg, network: network, address: address}, nil
}

// parseSocketURL parses a device URL into network and address.
func parseSocketURL(raw string) (network, address string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no path", raw)
		}
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("tcp URL %q has no host", raw)
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Connect dials the device and starts the receive loop. Calling Connect on
// an open link is a no-op.
func (s *Socket) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		return nil
	}

	s.setState(linkstate.Connecting)

	conn, err := s.dial(ctx)
	if err != nil {
		s.errorsTotal.Add(1)
		s.setState(linkstate.Disconnected)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.lastActivity.Store(time.Now().Unix())

	done := newCloseOnce()
	s.done = done
	s.frameQueue = make(chan []byte, frameQueueSize)

	s.wg.Add(2)
	go s.frameWorker(done, s.frameQueue)
	go s.receiveLoop(done, s.frameQueue)

	s.setState(linkstate.Connected)
	s.logInfo("socket thing connected", "network", s.network, "address", s.address)
	return nil
}

// Disconnect stops reconnection, closes the socket and waits for the
// receive loop to exit. Safe to call multiple times.
func (s *Socket) Disconnect() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		s.done.Close()

		// Closing the connection unblocks any pending read
		s.closeConn()

		s.wg.Wait()
		s.done = nil
		s.logInfo("socket thing disconnected")
	}

	s.setState(linkstate.Disconnected)
	return nil
}

// Send writes one frame to the device.
func (s *Socket) Send(ctx context.Context, frame []byte) error {
	if s.State() != linkstate.Connected {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultSocketWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if _, err := conn.Write(frame); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	s.framesTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Stats returns current operational statistics.
func (s *Socket) Stats() SocketStats {
	return SocketStats{
		FramesTx:        s.framesTx.Load(),
		FramesRx:        s.framesRx.Load(),
		FramesDropped:   s.framesDropped.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
	}
}

func (s *Socket) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", s.network, s.address, err)
	}
	return conn, nil
}

func (s *Socket) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// receiveLoop reads frames until done. On connection loss it redials with
// exponential backoff.
func (s *Socket) receiveLoop(done *closeOnce, queue chan<- []byte) {
	defer s.wg.Done()

	for {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			if !s.reconnect(done) {
				return
			}
			continue
		}

		frame, err := tlv.ReadFrame(conn)
		if err != nil {
			if isClosed(done) {
				return
			}
			if errors.Is(err, tlv.ErrDecodeFailure) {
				s.logError("protocol desync detected, closing socket", fmt.Errorf("%w: %w", ErrProtocolDesync, err))
			} else {
				s.logError("read failed", err)
			}
			s.errorsTotal.Add(1)
			s.closeConn()
			s.setState(linkstate.Connecting)
			continue
		}

		s.framesRx.Add(1)
		s.lastActivity.Store(time.Now().Unix())

		select {
		case queue <- frame:
		default:
			// Queue full, drop frame to prevent memory exhaustion
			s.logError("frame queue full, dropping frame", nil)
			s.framesDropped.Add(1)
			s.errorsTotal.Add(1)
		}
	}
}

// reconnect redials until it succeeds or done is closed. Returns true if
// the connection is back.
func (s *Socket) reconnect(done *closeOnce) bool {
	backoff := s.cfg.ReconnectInterval
	attempt := 0

	for {
		select {
		case <-done.Done():
			return false
		case <-time.After(backoff):
		}

		attempt++
		s.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		conn, err := s.dial(context.Background())
		if err != nil {
			s.logError("reconnect: dial failed", err)
			s.errorsTotal.Add(1)

			// Exponential backoff with cap
			backoff = min(time.Duration(float64(backoff)*1.5), s.cfg.MaxReconnectInterval)
			continue
		}

		s.connMu.Lock()
		if isClosed(done) {
			s.connMu.Unlock()
			conn.Close()
			return false
		}
		s.conn = conn
		s.connMu.Unlock()

		s.reconnectsTotal.Add(1)
		s.lastActivity.Store(time.Now().Unix())
		s.setState(linkstate.Connected)
		s.logInfo("reconnection successful", "total_reconnects", s.reconnectsTotal.Load())
		return true
	}
}

// frameWorker delivers queued frames one at a time, preserving order.
func (s *Socket) frameWorker(done *closeOnce, queue <-chan []byte) {
	defer s.wg.Done()

	for {
		select {
		case <-done.Done():
			return
		case frame := <-queue:
			s.deliver(frame)
		}
	}
}

func isClosed(done *closeOnce) bool {
	select {
	case <-done.Done():
		return true
	default:
		return false
	}
}
