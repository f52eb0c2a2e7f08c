//go:build linux

package procinfo

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// privateBytes sums private clean and dirty pages from smaps_rollup, falling
// back to statm on kernels without it.
func privateBytes(pid int) (uint64, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return 0, fmt.Errorf("opening /proc/%d: %w", pid, err)
	}
	rollup, err := proc.ProcSMapsRollup()
	if err != nil {
		return statmPrivateBytes(pid)
	}
	return rollup.PrivateClean + rollup.PrivateDirty, nil
}
