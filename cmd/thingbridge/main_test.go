package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/thingbridge/internal/infrastructure/database"
	"github.com/nerrad567/thingbridge/internal/thing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with a missing config file.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies config validation stops startup.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: test-gw
database:
  path: ""
api:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_RegistersThings starts the gateway against an unreachable broker
// and checks the configured things were written to the registry. run may
// return an error once the context expires; only the registry is asserted.
func TestRun_RegistersThings(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	path := writeConfig(t, `
gateway:
  id: test-gw
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
  reconnect:
    initial_delay: 1
    max_delay: 2
api:
  enabled: false
logging:
  level: error
  format: text
things:
  - id: dummy
    transport: simulated
  - id: porch
    transport: socket
    address: "tcp://127.0.0.1:19998"
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	select {
	case err := <-done:
		if err != nil {
			t.Logf("run() returned error (broker not available): %v", err)
		}
	case <-time.After(45 * time.Second):
		t.Fatal("run() did not return after context expiry")
	}

	db, err := database.Open(database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	things, err := thing.NewSQLiteRepository(db.DB).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(things) != 2 {
		t.Fatalf("registered %d things, want 2", len(things))
	}
	if things[0].ID != "dummy" || !things[0].Enabled {
		t.Errorf("things[0] = %+v, want enabled dummy", things[0])
	}
	if things[1].ID != "porch" || things[1].Enabled {
		t.Errorf("things[1] = %+v, want disabled porch", things[1])
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env override", "", "/etc/thingbridge/env.yaml", "/etc/thingbridge/env.yaml"},
		{"flag wins", "/tmp/flag.yaml", "/etc/thingbridge/env.yaml", "/tmp/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("THINGBRIDGE_CONFIG", tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestProgram_StopBeforeStart(t *testing.T) {
	p := &program{}
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop() before Start error: %v", err)
	}
}
