package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"

	"github.com/srodi/allocscope/pkg/types"
)

// ErrSubscription wraps every failure to enable the event source.
var ErrSubscription = errors.New("enabling allocation events failed")

var (
	errShortRecord = errors.New("short record")
	errUnknownKind = errors.New("unknown record kind")
)

// Record kinds written by bpf/alloc_events.c.
const (
	recordKindAllocation uint32 = 1
	recordKindHeapStats  uint32 = 2
)

const typeNameBytes = 256

// rawRecord matches struct alloc_event in bpf/alloc_events.c.
type rawRecord struct {
	Kind     uint32
	PID      uint32
	Amount   uint64
	Gen0     uint64
	Gen1     uint64
	Gen2     uint64
	LOH      uint64
	TypeName [typeNameBytes]byte
}

var rawRecordSize = binary.Size(rawRecord{})

// Stats counts what the source saw since Subscribe.
type Stats struct {
	Received  uint64
	Delivered uint64
	Filtered  uint64
	Malformed uint64
}

// recordFilter decodes ring buffer samples and keeps only the target's events.
type recordFilter struct {
	pid       int
	received  atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
	malformed atomic.Uint64
}

// accept returns the decoded event and whether it should be delivered.
func (f *recordFilter) accept(raw []byte) (types.Event, bool, error) {
	f.received.Add(1)
	ev, err := decodeRecord(raw)
	if err != nil {
		f.malformed.Add(1)
		return types.Event{}, false, err
	}
	if ev.PID() != f.pid {
		f.filtered.Add(1)
		return types.Event{}, false, nil
	}
	if ev.Kind == types.EventAllocationTick && ev.Allocation.TypeName == "" {
		f.filtered.Add(1)
		return types.Event{}, false, nil
	}
	f.delivered.Add(1)
	return ev, true, nil
}

func (f *recordFilter) stats() Stats {
	return Stats{
		Received:  f.received.Load(),
		Delivered: f.delivered.Load(),
		Filtered:  f.filtered.Load(),
		Malformed: f.malformed.Load(),
	}
}

func decodeRecord(raw []byte) (types.Event, error) {
	if len(raw) < rawRecordSize {
		return types.Event{}, fmt.Errorf("%w: %d of %d bytes", errShortRecord, len(raw), rawRecordSize)
	}
	var rec rawRecord
	if err := binary.Read(bytes.NewReader(raw[:rawRecordSize]), binary.LittleEndian, &rec); err != nil {
		return types.Event{}, fmt.Errorf("decoding record: %w", err)
	}

	switch rec.Kind {
	case recordKindAllocation:
		return types.Event{
			Kind: types.EventAllocationTick,
			Allocation: types.AllocationEvent{
				PID:         int(rec.PID),
				TypeName:    wStr(rec.TypeName[:]),
				AmountBytes: rec.Amount,
			},
		}, nil
	case recordKindHeapStats:
		return types.Event{
			Kind: types.EventHeapStats,
			HeapStats: types.HeapStatsEvent{
				PID:       int(rec.PID),
				Gen0Bytes: rec.Gen0,
				Gen1Bytes: rec.Gen1,
				Gen2Bytes: rec.Gen2,
				LOHBytes:  rec.LOH,
			},
		}, nil
	default:
		return types.Event{}, fmt.Errorf("%w: %d", errUnknownKind, rec.Kind)
	}
}

// wStr decodes a NUL-terminated UTF-16LE string, the runtime's type name encoding.
func wStr(b []byte) string {
	n := len(b) &^ 1
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			n = i
			break
		}
	}
	if n == 0 {
		return ""
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b[:n])
	if err != nil {
		return ""
	}
	return string(out)
}
