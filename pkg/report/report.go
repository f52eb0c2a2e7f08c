// Package report turns the allocation table and process memory counters into
// the periodic console report.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/srodi/allocscope/pkg/aggregate"
	"github.com/srodi/allocscope/pkg/procinfo"
	"github.com/srodi/allocscope/pkg/types"
	"github.com/srodi/allocscope/pkg/ui"
)

const (
	bytesPerKB = 1024.0
	bytesPerMB = 1024.0 * 1024.0
	timeLayout = "15:04:05"
)

// MemoryInspector reads the target's memory counters.
type MemoryInspector interface {
	Memory(ctx context.Context, pid int) (types.MemoryStat, error)
}

// Snapshotter hands over and resets the allocation window.
type Snapshotter interface {
	SnapshotAndClear() map[string]uint64
}

// Reporter runs one report cycle per timer firing.
type Reporter struct {
	pid       int
	topK      int
	inspector MemoryInspector
	table     Snapshotter
	console   *ui.Console
	logger    zerolog.Logger
}

// NewReporter builds a reporter for pid showing at most topK types.
func NewReporter(pid, topK int, inspector MemoryInspector, table Snapshotter, console *ui.Console, logger zerolog.Logger) *Reporter {
	if topK <= 0 {
		topK = types.DefaultTopK
	}
	return &Reporter{
		pid:       pid,
		topK:      topK,
		inspector: inspector,
		table:     table,
		console:   console,
		logger:    logger.With().Str("component", "reporter").Logger(),
	}
}

// Report queries the process, then snapshots and clears the table and prints
// the top allocating types. When the process cannot be queried the table is
// left untouched so its contents carry into the next cycle.
func (r *Reporter) Report(ctx context.Context, now time.Time) {
	mem, err := r.inspector.Memory(ctx, r.pid)
	if err != nil {
		if errors.Is(err, procinfo.ErrProcessNotFound) {
			r.console.Print(r.console.Muted(fmt.Sprintf("[%s] Process %d has exited.", now.Format(timeLayout), r.pid)))
			return
		}
		r.logger.Warn().Err(err).Int("pid", r.pid).Msg("Skipping report, memory query failed")
		return
	}

	rows := aggregate.Top(r.table.SnapshotAndClear(), r.topK)
	r.console.Print(RenderReport(r.console, now, r.pid, mem, rows))
}

// RenderReport formats one report block.
func RenderReport(c *ui.Console, now time.Time, pid int, mem types.MemoryStat, rows []types.AllocationStat) string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, c.Header(fmt.Sprintf("[%s] Memory report for process %d", now.Format(timeLayout), pid)))
	fmt.Fprintf(&buf, "  Working set: %.2f MB | Private memory: %.2f MB\n",
		float64(mem.WorkingSetBytes)/bytesPerMB, float64(mem.PrivateBytes)/bytesPerMB)
	if len(rows) == 0 {
		fmt.Fprintln(&buf, c.Muted("  No allocations recorded in this interval."))
		return buf.String()
	}
	fmt.Fprintf(&buf, "  Top %d allocating types:\n", len(rows))
	for _, row := range rows {
		fmt.Fprintf(&buf, "  %s: %.2f KB\n", row.TypeName, float64(row.Bytes)/bytesPerKB)
	}
	return buf.String()
}

// RenderHeapStats formats a heap-stats event as it arrives.
func RenderHeapStats(c *ui.Console, now time.Time, ev types.HeapStatsEvent) string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, c.Header(fmt.Sprintf("[%s] GC heap stats", now.Format(timeLayout))))
	fmt.Fprintf(&buf, "  Gen0: %.2f MB\n", float64(ev.Gen0Bytes)/bytesPerMB)
	fmt.Fprintf(&buf, "  Gen1: %.2f MB\n", float64(ev.Gen1Bytes)/bytesPerMB)
	fmt.Fprintf(&buf, "  Gen2: %.2f MB\n", float64(ev.Gen2Bytes)/bytesPerMB)
	fmt.Fprintf(&buf, "  LOH: %.2f MB\n", float64(ev.LOHBytes)/bytesPerMB)
	fmt.Fprintf(&buf, "  Total: %.2f MB\n", float64(ev.TotalBytes())/bytesPerMB)
	return buf.String()
}
