//go:build linux
// +build linux

package memory

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/srodi/allocscope/pkg/types"
)

// livenessPoll bounds how long the reader blocks before rechecking the
// target and the context.
const livenessPoll = time.Second

// recordReader is the part of *ringbuf.Reader the event loop needs.
type recordReader interface {
	Read() (ringbuf.Record, error)
	SetDeadline(t time.Time)
	Close() error
}

// targetAlive allows tests to simulate the target exiting.
var targetAlive = processAlive

// eventLoop pumps ring buffer records for one target into a channel.
type eventLoop struct {
	pid    int
	reader recordReader
	filter *recordFilter
	poll   time.Duration
	logger zerolog.Logger
}

// run blocks until the reader is closed, ctx ends, quit closes, the target
// disappears, or the reader fails. out is closed on return.
func (l *eventLoop) run(ctx context.Context, quit <-chan struct{}, out chan<- types.Event) {
	defer close(out)

	for {
		l.reader.SetDeadline(time.Now().Add(l.poll))
		record, err := l.reader.Read()
		if err != nil {
			switch {
			case errors.Is(err, ringbuf.ErrClosed):
				l.logger.Debug().Msg("Ring buffer closed, exiting event reader")
				return
			case errors.Is(err, os.ErrDeadlineExceeded):
				if ctx.Err() != nil {
					return
				}
				if !targetAlive(l.pid) {
					l.logger.Info().Int("pid", l.pid).Msg("Target process exited, ending event stream")
					return
				}
				continue
			default:
				l.logger.Error().Err(err).Msg("Reading ring buffer failed, ending event stream")
				return
			}
		}

		ev, ok, err := l.filter.accept(record.RawSample)
		if err != nil {
			l.logger.Debug().Err(err).Int("size", len(record.RawSample)).Msg("Dropping malformed record")
			continue
		}
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		case <-quit:
			return
		}
	}
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
