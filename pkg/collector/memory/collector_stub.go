//go:build !linux
// +build !linux

package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/srodi/allocscope/pkg/config"
	"github.com/srodi/allocscope/pkg/types"
)

var errUnsupported = errors.New("allocation event source requires linux")

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns a collector whose Subscribe always fails.
func NewCollector(cfg config.EventsConfig, logger zerolog.Logger) *Collector {
	return &Collector{}
}

// Subscribe fails because uprobes and ring buffers are only supported on Linux.
func (c *Collector) Subscribe(ctx context.Context, pid int) (<-chan types.Event, error) {
	return nil, fmt.Errorf("%w: %w", ErrSubscription, errUnsupported)
}

// Stats is always empty on unsupported platforms.
func (c *Collector) Stats() Stats {
	return Stats{}
}

// Stop is a no-op stub.
func (c *Collector) Stop() error {
	return nil
}
