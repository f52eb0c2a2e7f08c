package cpu

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/allocscope/pkg/types"
	"github.com/srodi/allocscope/pkg/ui"
)

// scriptedProbe returns readings in order and cancels once they run out.
type scriptedProbe struct {
	mu       sync.Mutex
	readings []float64
	errs     map[int]error
	calls    int
	cancel   context.CancelFunc
}

func (p *scriptedProbe) Percent(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.readings)-1 {
		p.cancel()
	}
	if idx >= len(p.readings) {
		return 0, ctx.Err()
	}
	if err := p.errs[idx]; err != nil {
		return 0, err
	}
	return p.readings[idx], nil
}

func TestSamplerDiscardsFirstReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := &scriptedProbe{readings: []float64{99.99, 12.5, 40}, cancel: cancel}
	var out bytes.Buffer
	sampler := NewSampler(probe, 0, 0, ui.NewConsole(&out), zerolog.Nop())

	require.NoError(t, sampler.Run(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"CPU Usage: 12.50%", "CPU Usage: 40.00%"}, lines)
	assert.NotContains(t, out.String(), "99.99")
}

func TestSamplerSkipsFailedReadings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := &scriptedProbe{
		readings: []float64{0, 1, 2, 3},
		errs:     map[int]error{2: errors.New("counter unavailable")},
		cancel:   cancel,
	}
	var out, logs bytes.Buffer
	sampler := NewSampler(probe, 0, 0, ui.NewConsole(&out), zerolog.New(&logs))

	require.NoError(t, sampler.Run(ctx))
	assert.Equal(t, "CPU Usage: 1.00%\nCPU Usage: 3.00%\n", out.String())
	assert.Contains(t, logs.String(), "counter unavailable")
}

func TestSamplerPrimesUntilCounterOpens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first call fails before the counter exists; the second is the new
	// counter's first reading and must be discarded too.
	probe := &scriptedProbe{
		readings: []float64{0, 777, 12.5},
		errs:     map[int]error{0: errors.New("process handle unavailable")},
		cancel:   cancel,
	}
	var out bytes.Buffer
	sampler := NewSampler(probe, 0, 0, ui.NewConsole(&out), zerolog.Nop())

	require.NoError(t, sampler.Run(ctx))
	assert.Equal(t, "CPU Usage: 12.50%\n", out.String())
}

func TestSamplerNeverPrimedRendersNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := &scriptedProbe{
		readings: []float64{0, 0, 0},
		errs: map[int]error{
			0: errors.New("denied"),
			1: errors.New("denied"),
			2: errors.New("denied"),
		},
		cancel: cancel,
	}
	var out bytes.Buffer
	sampler := NewSampler(probe, 0, 0, ui.NewConsole(&out), zerolog.Nop())

	require.NoError(t, sampler.Run(ctx))
	assert.Empty(t, out.String())
}

func TestSamplerStopsWhileSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := &scriptedProbe{readings: []float64{0, 5, 6, 7, 8}, cancel: func() {}}
	sampler := NewSampler(probe, time.Hour, time.Hour, ui.NewConsole(&bytes.Buffer{}), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- sampler.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not observe cancellation")
	}
}

func TestFormatSample(t *testing.T) {
	assert.Equal(t, "CPU Usage: 3.14%", FormatSample(types.CPUSample{Percent: 3.14159}))
	assert.Equal(t, "CPU Usage: 0.00%", FormatSample(types.CPUSample{}))
}

func TestProcessProbeFirstReadingIsZero(t *testing.T) {
	probe := NewProcessProbe(os.Getpid())
	first, err := probe.Percent(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first)

	_, err = probe.Percent(context.Background())
	require.NoError(t, err)
}

func TestProcessProbeMissingProcess(t *testing.T) {
	_, err := NewProcessProbe(99999999).Percent(context.Background())
	require.Error(t, err)
}
