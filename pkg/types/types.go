package types

import "time"

// DefaultTopK controls how many allocating types we display per report.
const DefaultTopK = 5

// DefaultInterval is the reporting window between allocation snapshots.
const DefaultInterval = 3 * time.Second

// EventKind identifies which runtime event a record carries.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventAllocationTick
	EventHeapStats
)

func (k EventKind) String() string {
	switch k {
	case EventAllocationTick:
		return "allocation-tick"
	case EventHeapStats:
		return "heap-stats"
	default:
		return "unknown"
	}
}

// AllocationEvent reports that AmountBytes were allocated for TypeName.
type AllocationEvent struct {
	PID         int
	TypeName    string
	AmountBytes uint64
}

// HeapStatsEvent carries generational GC heap sizes after a collection.
type HeapStatsEvent struct {
	PID       int
	Gen0Bytes uint64
	Gen1Bytes uint64
	Gen2Bytes uint64
	LOHBytes  uint64
}

// TotalBytes sums all generations including the large object heap.
func (h HeapStatsEvent) TotalBytes() uint64 {
	return h.Gen0Bytes + h.Gen1Bytes + h.Gen2Bytes + h.LOHBytes
}

// Event is one decoded record from the tracing source. Only the field
// matching Kind is populated.
type Event struct {
	Kind       EventKind
	Allocation AllocationEvent
	HeapStats  HeapStatsEvent
}

// PID returns the process that emitted the event.
func (e Event) PID() int {
	if e.Kind == EventHeapStats {
		return e.HeapStats.PID
	}
	return e.Allocation.PID
}

// CPUSample is one rendered CPU utilization reading.
type CPUSample struct {
	Percent float64
	At      time.Time
}

// MemoryStat describes the memory footprint of the target process.
type MemoryStat struct {
	WorkingSetBytes uint64
	PrivateBytes    uint64
}

// AllocationStat is one row of an allocation snapshot.
type AllocationStat struct {
	TypeName string
	Bytes    uint64
}
