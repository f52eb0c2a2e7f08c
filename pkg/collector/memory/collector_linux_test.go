//go:build linux

package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/allocscope/pkg/config"
)

func TestResolveLibraryAbsolutePath(t *testing.T) {
	got, err := resolveLibrary(os.Getpid(), "/opt/runtime/libtrace.so")
	require.NoError(t, err)
	assert.Equal(t, "/opt/runtime/libtrace.so", got)
}

func TestResolveLibraryNotMapped(t *testing.T) {
	_, err := resolveLibrary(os.Getpid(), "libdefinitely-not-loaded.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(99999999))
}

func TestSubscribeFailsWithoutProbeObject(t *testing.T) {
	cfg := config.Default().Events
	cfg.Library = "/bin/sh"
	cfg.Object = filepath.Join(t.TempDir(), "missing.bpf.o")

	c := NewCollector(cfg, zerolog.Nop())
	events, err := c.Subscribe(context.Background(), os.Getpid())
	require.Error(t, err)
	assert.Nil(t, events)
	assert.True(t, errors.Is(err, ErrSubscription), "got %v", err)
	assert.Equal(t, Stats{}, c.Stats())

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}
