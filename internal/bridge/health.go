package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

// HealthStatus represents the operational status of the gateway.
type HealthStatus string

const (
	// HealthHealthy indicates every thing has both links up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the gateway runs but some links are down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the gateway is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the gateway is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// healthPublishTimeout bounds one health publish.
const healthPublishTimeout = 5 * time.Second

// HealthMessage is the retained gateway health report.
type HealthMessage struct {
	// Gateway is the gateway identifier.
	Gateway string `json:"gateway"`

	// Timestamp is when the report was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the gateway software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the gateway has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// ThingsManaged is the number of configured things.
	ThingsManaged int `json:"things_managed"`

	// ThingsReady is the number of things with both links Connected.
	ThingsReady int `json:"things_ready"`

	// Things lists each thing's link states.
	Things []ThingHealth `json:"things,omitempty"`

	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// ThingHealth is one thing's entry in the health report.
type ThingHealth struct {
	ID     string          `json:"id"`
	Device linkstate.State `json:"device"`
	MQTT   linkstate.State `json:"mqtt"`
}

// HealthPublisher publishes health reports. *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusSource lists thing statuses. *Manager satisfies it.
type StatusSource interface {
	Statuses() []Status
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// GatewayID is the gateway identifier for health messages.
	GatewayID string

	// Version is the gateway software version.
	Version string

	// Topic is where reports are published (retained).
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the gateway's MQTT session.
	Publisher HealthPublisher

	// Things provides per-thing link states.
	Things StatusSource
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	gatewayID string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	things    StatusSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		gatewayID: cfg.GatewayID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		things:    cfg.Things,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is done or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "gateway starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Report builds the current health message without publishing it.
func (h *HealthReporter) Report() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the gateway status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	total, ready := h.countReady()
	if ready < total {
		return HealthDegraded, fmt.Sprintf("%d of %d things not ready", total-ready, total)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) countReady() (total, ready int) {
	if h.things == nil {
		return 0, 0
	}
	for _, s := range h.things.Statuses() {
		total++
		if s.Ready() {
			ready++
		}
	}
	return total, ready
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Gateway:       h.gatewayID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.things != nil {
		for _, s := range h.things.Statuses() {
			msg.ThingsManaged++
			if s.Ready() {
				msg.ThingsReady++
			}
			msg.Things = append(msg.Things, ThingHealth{ID: s.ID, Device: s.Links.Device, MQTT: s.Links.MQTT})
		}
	}
	return msg
}

// publishStatus publishes a health status message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthPublishTimeout)
	defer cancel()
	return h.publisher.Publish(ctx, h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
