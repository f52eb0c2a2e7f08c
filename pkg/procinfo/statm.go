package procinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procReadFile allows tests to stub reads under /proc.
var procReadFile = os.ReadFile

// statmPrivateBytes approximates private memory as resident minus shared pages
// from /proc/PID/statm. Used when smaps_rollup is unavailable.
func statmPrivateBytes(pid int) (uint64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	statmPath := filepath.Join("/proc", strconv.Itoa(pid), "statm")
	data, err := procReadFile(statmPath)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, fmt.Errorf("unexpected statm format for pid %d", pid)
	}
	residentPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	sharedPages, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return 0, err
	}
	if sharedPages > residentPages {
		return 0, nil
	}
	return (residentPages - sharedPages) * uint64(os.Getpagesize()), nil
}
