// Package cpu polls the target's CPU utilization on a fixed cadence.
package cpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/srodi/allocscope/pkg/types"
	"github.com/srodi/allocscope/pkg/ui"
)

// Probe returns CPU utilization since its previous call. The first call after
// construction has no prior interval and is not meaningful.
type Probe interface {
	Percent(ctx context.Context) (float64, error)
}

// ProcessProbe measures one process through gopsutil.
type ProcessProbe struct {
	pid  int
	mu   sync.Mutex
	proc *process.Process
}

// NewProcessProbe returns a probe for pid. The process handle is opened lazily.
func NewProcessProbe(pid int) *ProcessProbe {
	return &ProcessProbe{pid: pid}
}

// Percent returns utilization since the previous call; the first call returns 0.
func (p *ProcessProbe) Percent(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		proc, err := process.NewProcessWithContext(ctx, int32(p.pid))
		if err != nil {
			return 0, fmt.Errorf("opening pid %d: %w", p.pid, err)
		}
		p.proc = proc
	}
	pct, err := p.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("reading cpu of pid %d: %w", p.pid, err)
	}
	return pct, nil
}

// Sampler discards the first successful reading, then renders one reading per cycle:
// wait settle, read, print, wait period.
type Sampler struct {
	probe   Probe
	settle  time.Duration
	period  time.Duration
	console *ui.Console
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSampler wires a probe to the console.
func NewSampler(probe Probe, settle, period time.Duration, console *ui.Console, logger zerolog.Logger) *Sampler {
	return &Sampler{
		probe:   probe,
		settle:  settle,
		period:  period,
		console: console,
		logger:  logger.With().Str("component", "cpu_sampler").Logger(),
		now:     time.Now,
	}
}

// Run samples until ctx is cancelled. Failed readings are logged and skipped.
func (s *Sampler) Run(ctx context.Context) error {
	if !s.prime(ctx) {
		return nil
	}

	for {
		if sleepCtx(ctx, s.settle) != nil {
			return nil
		}
		pct, err := s.probe.Percent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Msg("cpu reading failed")
		} else {
			s.console.Print(FormatSample(types.CPUSample{Percent: pct, At: s.now()}))
		}
		if sleepCtx(ctx, s.period) != nil {
			return nil
		}
	}
}

// prime takes readings until one succeeds and discards it, so the first
// value of a freshly opened counter is never rendered. It returns false
// when ctx ends first.
func (s *Sampler) prime(ctx context.Context) bool {
	for {
		_, err := s.probe.Percent(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.logger.Debug().Err(err).Msg("priming cpu probe failed")
		if sleepCtx(ctx, s.period) != nil {
			return false
		}
	}
}

// FormatSample renders a reading as "CPU Usage: X.XX%".
func FormatSample(sample types.CPUSample) string {
	return fmt.Sprintf("CPU Usage: %.2f%%", sample.Percent)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
