package report

import (
	"context"
	"sync"
	"time"
)

// Timer fires a callback on a fixed interval from its own goroutine until
// Stop. It does not watch the caller's cancellation; the owner stops it.
type Timer struct {
	interval time.Duration
	fire     func(ctx context.Context, now time.Time)

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
	stopOnce sync.Once
}

// NewTimer returns a stopped timer.
func NewTimer(interval time.Duration, fire func(ctx context.Context, now time.Time)) *Timer {
	return &Timer{interval: interval, fire: fire}
}

// Start begins firing. ctx supplies values to the callback; its cancellation
// is ignored. Starting twice, or after Stop, is a no-op.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil || t.stopped {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				if runCtx.Err() != nil {
					return
				}
				t.fire(runCtx, now)
			}
		}
	}(t.done)
}

// Stop prevents further firings and waits for one in flight to finish.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		cancel, done := t.cancel, t.done
		t.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}
