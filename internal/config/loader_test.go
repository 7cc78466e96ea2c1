package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	base := t.TempDir()
	t.Setenv("NIGHTSHIFT_PATHS_BASE_DIR", base)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.ExecutionTimeout)
	assert.Equal(t, 120*time.Second, cfg.Scheduler.PlanningTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(base, "database", "nightshift.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(base, "notifications"), cfg.Notify.Dir)
	assert.True(t, cfg.Sandbox.Enabled)
	assert.False(t, cfg.Sandbox.AllowUnsandboxed)
	assert.Equal(t, []string{"gh", "auth", "token"}, cfg.Agent.CredentialHelper)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths:
  base_dir: `+dir+`
scheduler:
  workers: 1
  poll_interval: 250ms
agent:
  binary: /usr/local/bin/claude
`), 0o644))
	t.Setenv("NIGHTSHIFT_SCHEDULER_WORKERS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Scheduler.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.Binary)
}

func TestValidateRejectsBadScheduler(t *testing.T) {
	cfg := Config{
		Database:  DatabaseConfig{Driver: "sqlite"},
		Sandbox:   SandboxConfig{Provider: "auto"},
		Scheduler: SchedulerConfig{Workers: 0, PollInterval: time.Second},
	}
	assert.Error(t, cfg.Validate())

	cfg.Scheduler.Workers = 2
	cfg.Scheduler.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg.Scheduler.PollInterval = time.Second
	assert.NoError(t, cfg.Validate())

	cfg.Sandbox.Provider = "docker"
	assert.Error(t, cfg.Validate())
}
