package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/model"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
targets:
  - platform: twitter
    handle: "@alice"
  - platform: reddit
    handle: r/golang
    interval: 30m
polling:
  interval: 2h
storage:
  driver: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("X_BEARER_TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Hour, cfg.Polling.Interval)
	assert.Equal(t, DefaultMaxPersistAttempts, cfg.Polling.MaxPersistAttempts)
	assert.Equal(t, DefaultBaseBackoff, cfg.RateLimit.BaseBackoff)
	assert.Equal(t, DefaultSQLitePath, cfg.Storage.DSN)
	assert.Equal(t, DefaultKafkaQueueSize, cfg.Kafka.QueueSize)
	assert.Equal(t, "tok", cfg.Credentials.XBearerToken)

	targets := cfg.ModelTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, model.Target{Platform: model.PlatformX, Handle: "alice", Interval: 2 * time.Hour}, targets[0])
	assert.Equal(t, model.Target{Platform: model.PlatformReddit, Handle: "golang", Interval: 30 * time.Minute}, targets[1])
}

func TestEnvPacingOverrides(t *testing.T) {
	t.Setenv("X_API_RPS", "0.5")
	t.Setenv("X_API_MAX_ATTEMPTS", "7")
	t.Setenv("X_API_BASE_BACKOFF_MS", "250")
	cfg := Default()
	cfg.ResolveEnv()
	assert.Equal(t, 0.5, cfg.HTTP.RPS)
	assert.Equal(t, 7, cfg.HTTP.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.HTTP.BaseBackoff)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Targets = append(cfg.Targets, TargetConfig{Platform: "discord", Handle: "81384788765712384", Interval: time.Hour})
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Targets, got.Targets)
	assert.Equal(t, cfg.Polling, got.Polling)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Targets = []TargetConfig{
		{Platform: "myspace", Handle: "tom"},
		{Platform: "x", Handle: "@"},
		{Platform: "x", Handle: "Alice"},
		{Platform: "x", Handle: "@alice"},
	}
	cfg.Storage = StorageConfig{Driver: DriverPostgres}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown platform")
	assert.Contains(t, msg, "empty handle")
	assert.Contains(t, msg, "duplicate target x/alice")
	assert.Contains(t, msg, "storage.dsn")
}
