package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "netops-flow.db", cfg.Database.Path)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "netops-flow-runs", cfg.Temporal.TaskQueue)
	assert.Equal(t, 30*time.Minute, cfg.Temporal.RunTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.NodeTimeout)
	assert.False(t, cfg.Engine.RejectNoEntryPoint)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "netops-flow.yaml"), []byte(`
log:
  format: json
database:
  path: /var/lib/netops/flow.db
engine:
  node_timeout: 45s
  reject_no_entry_point: true
`), 0o600))
	t.Setenv("NETOPS_FLOW_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Engine.NodeTimeout)
	assert.True(t, cfg.Engine.RejectNoEntryPoint)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	envFile := filepath.Join(dir, "worker.env")
	require.NoError(t, os.WriteFile(envFile, []byte("NETOPS_FLOW_TEMPORAL_TASK_QUEUE=lab-runs\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("NETOPS_FLOW_TEMPORAL_TASK_QUEUE") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "lab-runs", cfg.Temporal.TaskQueue)

	_, err = Load(Options{EnvFile: filepath.Join(dir, "missing.env")})
	assert.Error(t, err)
}

func TestLoadExplicitFileRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\nengine:\n  node_timeout: -1s\n"), 0o600))

	_, err := Load(Options{ConfigFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "engine.node_timeout")

	_, err = Load(Options{ConfigFile: filepath.Join(t.TempDir(), "none.yaml")})
	assert.Error(t, err)
}
