package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, time.Second, cfg.CPU.Settle)
	assert.Equal(t, 2*time.Second, cfg.CPU.Period)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allocscope.yaml")
	body := `
interval: 10s
top_k: 3
cpu:
  period: 5s
events:
  object: /tmp/alloc.o
log:
  level: debug
  pretty: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 3, cfg.TopK)
	assert.Equal(t, 5*time.Second, cfg.CPU.Period)
	assert.Equal(t, time.Second, cfg.CPU.Settle, "unset keys keep defaults")
	assert.Equal(t, "/tmp/alloc.o", cfg.Events.Object)
	assert.Equal(t, Default().Events.AllocSymbol, cfg.Events.AllocSymbol)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_k: 0\nlog:\n  level: loud\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top_k")
	assert.Contains(t, err.Error(), "loud")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: ["), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCPUCadence(t *testing.T) {
	cfg := Default()
	cfg.CPU.Period = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu period must be positive")

	cfg = Default()
	cfg.CPU.Settle = 0
	assert.NoError(t, cfg.Validate(), "zero settle reads right after the previous period")

	cfg.CPU.Settle = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestDefaultUsesEmbeddedProbeObject(t *testing.T) {
	assert.Empty(t, Default().Events.Object)
}
