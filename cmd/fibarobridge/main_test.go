package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/config"
)

// validConfig renders a complete config file pointed at the given
// database path. The hub and broker addresses are local ports nothing
// listens on; startup proceeds because both connect in the background.
func validConfig(dbPath string) string {
	return `
hub:
  host: "127.0.0.1"
  port: 19998
  username: "admin"
  password: "secret"

registry:
  max_rooms: 20
  max_lights_per_room: 20
  max_scenes_per_room: 20
  rooms:
    - room: 1
      name: "Lounge"
      lights:
        - slot: 1
          enabled: true
          id: 10

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "fibaro-bridge-test"
    tls: false
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

api:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
}

func setConfigEnv(t *testing.T, path string) {
	t.Helper()
	originalEnv := os.Getenv("FIBAROBRIDGE_CONFIG")
	t.Cleanup(func() { os.Setenv("FIBAROBRIDGE_CONFIG", originalEnv) })
	os.Setenv("FIBAROBRIDGE_CONFIG", path)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	setConfigEnv(t, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	if err := os.WriteFile(configPath, []byte(validConfig("")), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	setConfigEnv(t, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("FIBAROBRIDGE_CONFIG")
	defer os.Setenv("FIBAROBRIDGE_CONFIG", originalEnv)

	os.Unsetenv("FIBAROBRIDGE_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	setConfigEnv(t, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestHubTiming_ZeroConfig verifies zero config fields leave timing at
// zero so the bridge applies its own defaults.
func TestHubTiming_ZeroConfig(t *testing.T) {
	timing := hubTiming(config.HubTimingConfig{})
	if timing.PollTimeout != 0 {
		t.Errorf("PollTimeout = %v, want 0 (bridge default applies)", timing.PollTimeout)
	}
}

// TestRun_ContextCancelledDuringStartup verifies cancellation during startup.
// Requires no services: the hub and broker ports are unreachable, so run
// either fails fast on MQTT connect or shuts down on the deadline.
func TestRun_ContextCancelledDuringStartup(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	if err := os.WriteFile(configPath, []byte(validConfig(dbPath)), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	setConfigEnv(t, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Logf("run() returned error (expected without a broker): %v", err)
	}
}
