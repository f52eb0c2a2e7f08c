//go:build !linux

package main

import "github.com/rs/zerolog"

func suppressInputEcho(zerolog.Logger) func() {
	return func() {}
}
