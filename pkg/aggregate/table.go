// Package aggregate accumulates allocation volume per type between reports.
package aggregate

import (
	"sort"
	"sync"

	"github.com/srodi/allocscope/pkg/types"
)

// Table maps type name to bytes allocated since the last snapshot.
// Record and SnapshotAndClear may be called from different goroutines.
type Table struct {
	mu     sync.Mutex
	totals map[string]uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{totals: make(map[string]uint64)}
}

// Record adds amount to the running total for typeName. Empty names are ignored.
func (t *Table) Record(typeName string, amount uint64) {
	if typeName == "" {
		return
	}
	t.mu.Lock()
	t.totals[typeName] += amount
	t.mu.Unlock()
}

// SnapshotAndClear returns the current totals and resets the table in one step.
func (t *Table) SnapshotAndClear() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := t.totals
	t.totals = make(map[string]uint64, len(snapshot))
	return snapshot
}

// Len returns the number of distinct types recorded in the current window.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.totals)
}

// Top orders a snapshot by bytes descending and keeps at most limit rows.
// Equal byte counts fall back to type name so output is deterministic.
func Top(snapshot map[string]uint64, limit int) []types.AllocationStat {
	stats := make([]types.AllocationStat, 0, len(snapshot))
	for name, bytes := range snapshot {
		stats = append(stats, types.AllocationStat{TypeName: name, Bytes: bytes})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes == stats[j].Bytes {
			return stats[i].TypeName < stats[j].TypeName
		}
		return stats[i].Bytes > stats[j].Bytes
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}
