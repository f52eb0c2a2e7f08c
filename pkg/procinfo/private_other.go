//go:build !linux

package procinfo

import "errors"

var errNoPrivateAccounting = errors.New("private memory accounting requires linux")

// privateBytes is unavailable off linux; Memory reports resident size instead.
func privateBytes(pid int) (uint64, error) {
	return 0, errNoPrivateAccounting
}
