// Package procinfo answers the questions the profiler asks about its target:
// does it exist, what is it called, and how much memory does it hold.
package procinfo

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/srodi/allocscope/pkg/types"
)

// ErrProcessNotFound is returned when the target PID does not exist or has exited.
var ErrProcessNotFound = errors.New("process not found")

// privateBytesFor allows tests to stub the platform private-memory lookup.
var privateBytesFor = privateBytes

// Inspector queries the OS for process state through gopsutil.
type Inspector struct{}

// NewInspector returns an Inspector.
func NewInspector() *Inspector {
	return &Inspector{}
}

// Exists reports whether pid currently names a live process.
func (i *Inspector) Exists(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	return process.PidExistsWithContext(ctx, int32(pid))
}

// Name returns the executable name of pid.
func (i *Inspector) Name(ctx context.Context, pid int) (string, error) {
	proc, err := i.open(ctx, pid)
	if err != nil {
		return "", err
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return "", i.classify(ctx, pid, fmt.Errorf("reading name of pid %d: %w", pid, err))
	}
	return name, nil
}

// Memory returns working-set (resident) and private memory of pid.
func (i *Inspector) Memory(ctx context.Context, pid int) (types.MemoryStat, error) {
	proc, err := i.open(ctx, pid)
	if err != nil {
		return types.MemoryStat{}, err
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return types.MemoryStat{}, i.classify(ctx, pid, fmt.Errorf("reading memory of pid %d: %w", pid, err))
	}

	stat := types.MemoryStat{WorkingSetBytes: info.RSS}
	if private, perr := privateBytesFor(pid); perr == nil {
		stat.PrivateBytes = private
	} else {
		stat.PrivateBytes = info.RSS
	}
	return stat, nil
}

func (i *Inspector) open(ctx context.Context, pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", pid, ErrProcessNotFound)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
		}
		return nil, fmt.Errorf("opening pid %d: %w", pid, err)
	}
	return proc, nil
}

// classify turns a read failure into ErrProcessNotFound when the process is gone.
func (i *Inspector) classify(ctx context.Context, pid int, err error) error {
	if exists, existsErr := i.Exists(ctx, pid); existsErr == nil && !exists {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}
	return err
}
