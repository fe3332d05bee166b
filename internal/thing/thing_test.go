package thing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/thingbridge/internal/infrastructure/config"
	"github.com/nerrad567/thingbridge/internal/infrastructure/database"
	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/migrations"
)

// openTestDB opens a migrated database in a temporary directory.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestFromConfig(t *testing.T) {
	disabled := false
	tests := []struct {
		name string
		cfg  config.ThingConfig
		want Thing
	}{
		{
			name: "enabled by default",
			cfg:  config.ThingConfig{ID: "dummy", Name: "Dummy", Transport: config.TransportSimulated},
			want: Thing{ID: "dummy", Name: "Dummy", Transport: config.TransportSimulated, Enabled: true},
		},
		{
			name: "explicitly disabled",
			cfg:  config.ThingConfig{ID: "esp", Transport: config.TransportBLE, Address: "AA:BB:CC:DD:EE:FF", Enabled: &disabled},
			want: Thing{ID: "esp", Transport: config.TransportBLE, Address: "AA:BB:CC:DD:EE:FF"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromConfig(tt.cfg); got != tt.want {
				t.Errorf("FromConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRepository_UpsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	ctx := context.Background()

	th := &Thing{ID: "dummy", Name: "Dummy", Transport: "simulated", Enabled: true}
	if err := repo.Upsert(ctx, th); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	created := th.CreatedAt

	got, err := repo.GetByID(ctx, "dummy")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Dummy" || got.Transport != "simulated" || !got.Enabled {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	// Update keeps the original creation time.
	update := &Thing{ID: "dummy", Name: "Renamed", Transport: "socket", Address: "tcp://h:1"}
	if err := repo.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}
	if !update.CreatedAt.Equal(created) {
		t.Errorf("update CreatedAt = %v, want %v", update.CreatedAt, created)
	}

	got, err = repo.GetByID(ctx, "dummy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || got.Address != "tcp://h:1" || got.Enabled {
		t.Errorf("after update = %+v", got)
	}
}

func TestRepository_Validation(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	ctx := context.Background()

	if err := repo.Upsert(ctx, &Thing{Transport: "simulated"}); err == nil {
		t.Error("Upsert() accepted an empty ID")
	}
	if err := repo.Upsert(ctx, &Thing{ID: "x"}); err == nil {
		t.Error("Upsert() accepted an empty transport")
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	ctx := context.Background()

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("empty List() = %#v, want empty slice", list)
	}

	for _, id := range []string{"c", "a", "b"} {
		if err := repo.Upsert(ctx, &Thing{ID: id, Transport: "simulated"}); err != nil {
			t.Fatal(err)
		}
	}

	list, err = repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Errorf("List() = %+v", list)
	}

	if err := repo.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "b"); !errors.Is(err, ErrThingNotFound) {
		t.Errorf("GetByID() after delete = %v, want ErrThingNotFound", err)
	}
	if err := repo.Delete(ctx, "b"); !errors.Is(err, ErrThingNotFound) {
		t.Errorf("second Delete() = %v, want ErrThingNotFound", err)
	}
}

func change(thingID string, link linkstate.Link, prev, state linkstate.State, at time.Time) linkstate.Change {
	return linkstate.Change{ThingID: thingID, Link: link, State: state, Previous: prev, At: at}
}

func TestHistory_RecordAndGet(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openTestDB(t).DB)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	changes := []linkstate.Change{
		change("dummy", linkstate.LinkDevice, linkstate.Disconnected, linkstate.Connecting, base),
		change("dummy", linkstate.LinkDevice, linkstate.Connecting, linkstate.Connected, base.Add(time.Second)),
		change("dummy", linkstate.LinkMQTT, linkstate.Disconnected, linkstate.Connected, base.Add(2*time.Second)),
		change("other", linkstate.LinkDevice, linkstate.Disconnected, linkstate.Connecting, base),
	}
	for _, c := range changes {
		if err := repo.RecordChange(ctx, c); err != nil {
			t.Fatalf("RecordChange() error = %v", err)
		}
	}

	entries, err := repo.GetHistory(ctx, "dummy", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	newest := entries[0]
	if newest.Link != linkstate.LinkMQTT || newest.State != linkstate.Connected || newest.Previous != linkstate.Disconnected {
		t.Errorf("newest = %+v", newest)
	}
	if newest.CreatedAt.UnixMilli() != base.Add(2*time.Second).UnixMilli() {
		t.Errorf("CreatedAt = %v", newest.CreatedAt)
	}
	if entries[2].State != linkstate.Connecting {
		t.Errorf("oldest = %+v", entries[2])
	}

	limited, err := repo.GetHistory(ctx, "dummy", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d entries", len(limited))
	}
}

func TestHistory_Validation(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openTestDB(t).DB)
	ctx := context.Background()

	if err := repo.RecordChange(ctx, linkstate.Change{}); err == nil {
		t.Error("RecordChange() accepted an empty thing ID")
	}
	if _, err := repo.GetHistory(ctx, "", 10); err == nil {
		t.Error("GetHistory() accepted an empty thing ID")
	}
	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune() accepted a zero duration")
	}
}

func TestHistory_LimitCapped(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openTestDB(t).DB)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < maxHistoryLimit+10; i++ {
		c := change("busy", linkstate.LinkDevice, linkstate.Connected, linkstate.Connecting, now.Add(time.Duration(i)*time.Millisecond))
		if err := repo.RecordChange(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := repo.GetHistory(ctx, "busy", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != maxHistoryLimit {
		t.Errorf("entries = %d, want %d", len(entries), maxHistoryLimit)
	}
}

func TestHistory_Prune(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openTestDB(t).DB)
	ctx := context.Background()

	old := change("dummy", linkstate.LinkDevice, linkstate.Disconnected, linkstate.Connecting, time.Now().Add(-48*time.Hour))
	recent := change("dummy", linkstate.LinkDevice, linkstate.Connecting, linkstate.Connected, time.Now())
	for _, c := range []linkstate.Change{old, recent} {
		if err := repo.RecordChange(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}

	entries, err := repo.GetHistory(ctx, "dummy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].State != linkstate.Connected {
		t.Errorf("remaining = %+v", entries)
	}
}

// mockHistory is an in-memory HistoryRepository.
type mockHistory struct {
	mu      sync.Mutex
	changes []linkstate.Change
	prunes  int
	err     error
}

func (m *mockHistory) RecordChange(_ context.Context, c linkstate.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.changes = append(m.changes, c)
	return nil
}

func (m *mockHistory) GetHistory(context.Context, string, int) ([]HistoryEntry, error) {
	return nil, nil
}

func (m *mockHistory) Prune(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes++
	return 0, nil
}

func (m *mockHistory) counts() (changes, prunes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.changes), m.prunes
}

// mockLogger records error messages.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *mockLogger) Info(string, ...any) {}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRecorder_DrainsNotifier(t *testing.T) {
	n := linkstate.NewNotifier()
	ch, cancel := n.Subscribe(8)

	hist := &mockHistory{}
	rec := NewRecorder(RecorderConfig{History: hist, Changes: ch, Retention: time.Hour, PruneInterval: time.Hour})
	rec.Start(context.Background())

	tracker := linkstate.NewTracker("dummy", n)
	tracker.Set(linkstate.LinkDevice, linkstate.Connecting)
	tracker.Set(linkstate.LinkDevice, linkstate.Connected)

	waitFor(t, "changes recorded", func() bool { c, _ := hist.counts(); return c == 2 })
	if _, prunes := hist.counts(); prunes != 1 {
		t.Errorf("prunes = %d, want 1 at start", prunes)
	}

	// Closing the subscription ends the recorder.
	cancel()
	done := make(chan struct{})
	go func() { rec.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestRecorder_LogsFailures(t *testing.T) {
	ch := make(chan linkstate.Change, 1)
	logger := &mockLogger{}
	hist := &mockHistory{err: errors.New("disk full")}

	rec := NewRecorder(RecorderConfig{History: hist, Changes: ch, Logger: logger})
	rec.Start(context.Background())
	defer rec.Stop()

	ch <- change("dummy", linkstate.LinkMQTT, linkstate.Disconnected, linkstate.Connecting, time.Now())
	waitFor(t, "error logged", func() bool { return logger.count() == 1 })

	if _, prunes := hist.counts(); prunes != 0 {
		t.Errorf("pruned %d times with no retention", prunes)
	}
}

func TestRecorder_WithSQLite(t *testing.T) {
	repo := NewSQLiteHistoryRepository(openTestDB(t).DB)
	ch := make(chan linkstate.Change, 4)

	rec := NewRecorder(RecorderConfig{History: repo, Changes: ch})
	rec.Start(context.Background())

	defer rec.Stop()

	ch <- change("dummy", linkstate.LinkDevice, linkstate.Disconnected, linkstate.Connecting, time.Now())

	waitFor(t, "history row", func() bool {
		entries, err := repo.GetHistory(context.Background(), "dummy", 10)
		return err == nil && len(entries) == 1
	})
}
