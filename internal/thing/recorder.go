package thing

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

const (
	recordTimeout        = 5 * time.Second
	defaultPruneInterval = time.Hour
)

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	History HistoryRepository

	// Changes is a notifier subscription. The recorder stops when it is
	// closed.
	Changes <-chan linkstate.Change

	// Retention prunes history older than this. Zero keeps everything.
	Retention time.Duration

	// PruneInterval between prune runs. Default: 1 hour.
	PruneInterval time.Duration

	Logger Logger
}

// Recorder writes link state changes to the history repository and prunes
// old entries.
type Recorder struct {
	cfg  RecorderConfig
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewRecorder creates a recorder. Call Start to begin draining changes.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	return &Recorder{cfg: cfg, done: make(chan struct{})}
}

// Start runs the recorder until ctx is done, Stop is called or the change
// channel is closed.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the recorder and waits for it to exit. Safe to call multiple
// times.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	var prune <-chan time.Time
	if r.cfg.Retention > 0 {
		ticker := time.NewTicker(r.cfg.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case c, ok := <-r.cfg.Changes:
			if !ok {
				return
			}
			r.record(ctx, c)
		case <-prune:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) record(ctx context.Context, c linkstate.Change) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := r.cfg.History.RecordChange(ctx, c); err != nil && r.cfg.Logger != nil {
		r.cfg.Logger.Error("recording link state change failed",
			"error", err, "thing_id", c.ThingID, "link", c.Link.String(), "state", c.State.String())
	}
}

func (r *Recorder) prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	n, err := r.cfg.History.Prune(ctx, r.cfg.Retention)
	if r.cfg.Logger == nil {
		return
	}
	switch {
	case err != nil:
		r.cfg.Logger.Error("pruning link state history failed", "error", err)
	case n > 0:
		r.cfg.Logger.Info("pruned link state history", "rows", n)
	}
}
