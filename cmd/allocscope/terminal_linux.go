//go:build linux

package main

import (
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// suppressInputEcho turns off stdin echo so keystrokes do not break up the
// report stream. The returned func restores the terminal.
func suppressInputEcho(logger zerolog.Logger) func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return func() {}
	}

	termState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		logger.Debug().Err(err).Msg("Unable to read terminal state")
		return func() {}
	}

	updated := *termState
	updated.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &updated); err != nil {
		logger.Debug().Err(err).Msg("Unable to suppress stdin echo")
		return func() {}
	}

	return func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, termState)
	}
}
