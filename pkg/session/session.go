// Package session owns one monitoring run: it validates the target, starts
// the CPU sampler and the memory pipeline, and tears them down on cancel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/srodi/allocscope/pkg/aggregate"
	"github.com/srodi/allocscope/pkg/collector/memory"
	"github.com/srodi/allocscope/pkg/procinfo"
	"github.com/srodi/allocscope/pkg/report"
	"github.com/srodi/allocscope/pkg/types"
	"github.com/srodi/allocscope/pkg/ui"
)

// noEventsHint names the runtime-side precondition for allocation events.
const noEventsHint = "No runtime events received yet; the .NET runtime only emits " +
	"GCAllocationTick/GCHeapStats when an LTTng session enables them " +
	"(e.g. lttng enable-event -u 'DotNETRuntime:GCAllocationTick_V4,DotNETRuntime:GCHeapStats_V2') " +
	"and DOTNET_LTTng is not 0"

// ErrProcessNotFound is returned by Run when the target does not exist at start.
var ErrProcessNotFound = procinfo.ErrProcessNotFound

// State is the memory pipeline's lifecycle position.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventSource streams the target's allocation and heap-stats events.
type EventSource interface {
	Subscribe(ctx context.Context, pid int) (<-chan types.Event, error)
	Stop() error
}

// ProcessInspector answers existence and memory queries for the target.
type ProcessInspector interface {
	Exists(ctx context.Context, pid int) (bool, error)
	Memory(ctx context.Context, pid int) (types.MemoryStat, error)
}

// CPUSampler polls CPU utilization until its context ends.
type CPUSampler interface {
	Run(ctx context.Context) error
}

type statser interface {
	Stats() memory.Stats
}

type namer interface {
	Name(ctx context.Context, pid int) (string, error)
}

// Options wires a session. Sampler may be nil to monitor memory only.
type Options struct {
	PID       int
	Interval  time.Duration
	TopK      int
	Source    EventSource
	Inspector ProcessInspector
	Sampler   CPUSampler
	Console   *ui.Console
	Logger    zerolog.Logger
}

// Session runs the CPU and memory pipelines for one target process.
type Session struct {
	opts   Options
	table  *aggregate.Table
	logger zerolog.Logger
	now    func() time.Time
	state  atomic.Int32

	mu        sync.Mutex
	memoryErr error
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = types.DefaultInterval
	}
	if opts.TopK <= 0 {
		opts.TopK = types.DefaultTopK
	}
	return &Session{
		opts:   opts,
		table:  aggregate.NewTable(),
		logger: opts.Logger.With().Str("component", "session").Int("pid", opts.PID).Logger(),
		now:    time.Now,
	}
}

// State returns the memory pipeline's current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// MemoryErr returns the error that ended the memory pipeline early, if any.
func (s *Session) MemoryErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryErr
}

func (s *Session) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug().Stringer("from", prev).Stringer("to", state).Msg("Session state changed")
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.memoryErr == nil {
		s.memoryErr = err
	}
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled. It returns ErrProcessNotFound when the
// target is missing at start; failures inside the memory pipeline are
// logged and do not stop CPU sampling. Cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.setState(Starting)
	pid := s.opts.PID

	exists, err := s.opts.Inspector.Exists(ctx, pid)
	if err != nil {
		s.setState(Stopped)
		return fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	if !exists {
		s.setState(Stopped)
		return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}

	s.opts.Console.Printf("Monitoring process ID: %d", pid)
	if n, ok := s.opts.Inspector.(namer); ok {
		if name, err := n.Name(ctx, pid); err == nil {
			s.logger.Info().Str("name", name).Msg("Target process found")
		}
	}

	var g errgroup.Group
	if s.opts.Sampler != nil {
		g.Go(func() error {
			if err := s.opts.Sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("CPU sampling stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		s.runMemory(ctx)
		return nil
	})
	return g.Wait()
}

// runMemory drives the memory pipeline through Running, Stopping and Stopped.
func (s *Session) runMemory(ctx context.Context) {
	defer s.setState(Stopped)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("memory monitoring panicked: %v", r)
			s.logger.Error().Err(err).Msg("Memory monitoring stopped")
			s.opts.Console.Print(err.Error())
			s.fail(err)
		}
	}()

	events, err := s.opts.Source.Subscribe(ctx, s.opts.PID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Memory monitoring unavailable")
		s.opts.Console.Printf("Memory monitoring unavailable: %v", err)
		s.fail(err)
		return
	}

	reporter := report.NewReporter(s.opts.PID, s.opts.TopK, s.opts.Inspector, s.table, s.opts.Console, s.opts.Logger)
	timer := report.NewTimer(s.opts.Interval, func(ctx context.Context, now time.Time) {
		defer s.recoverInto("report")
		reporter.Report(ctx, now)
	})
	timer.Start(ctx)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.consume(ctx, events)
	}()

	s.setState(Running)
	<-ctx.Done()
	s.setState(Stopping)

	timer.Stop()
	if err := s.opts.Source.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Stopping event source")
	}
	<-consumerDone
	s.logger.Debug().Int("pending_types", s.table.Len()).Msg("Allocations left unreported at stop")

	if st, ok := s.opts.Source.(statser); ok {
		stats := st.Stats()
		s.logger.Debug().
			Uint64("received", stats.Received).
			Uint64("delivered", stats.Delivered).
			Uint64("filtered", stats.Filtered).
			Uint64("malformed", stats.Malformed).
			Msg("Event source totals")
	}
}

// consume applies events in delivery order until the stream ends or ctx is done.
// A warning is logged when nothing arrives within the first report interval.
func (s *Session) consume(ctx context.Context, events <-chan types.Event) {
	defer s.recoverInto("event consumer")

	quiet := time.NewTimer(s.opts.Interval)
	defer quiet.Stop()
	quietC := quiet.C

	for {
		select {
		case <-ctx.Done():
			return
		case <-quietC:
			quietC = nil
			s.logger.Warn().
				Dur("waited", s.opts.Interval).
				Msg(noEventsHint)
		case ev, ok := <-events:
			if !ok {
				s.logger.Info().Msg("Event stream ended")
				return
			}
			quietC = nil
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev types.Event) {
	switch ev.Kind {
	case types.EventAllocationTick:
		s.table.Record(ev.Allocation.TypeName, ev.Allocation.AmountBytes)
	case types.EventHeapStats:
		s.opts.Console.Print(report.RenderHeapStats(s.opts.Console, s.now(), ev.HeapStats))
	default:
		s.logger.Debug().Stringer("kind", ev.Kind).Msg("Ignoring event")
	}
}

func (s *Session) recoverInto(where string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("%s panicked: %v", where, r)
		s.logger.Error().Err(err).Msg("Memory monitoring component failed")
		s.opts.Console.Print(err.Error())
		s.fail(err)
	}
}
