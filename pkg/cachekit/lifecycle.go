package cachekit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// minExpirationInterval bounds how often the background expiration
// checker may run: min(100ms, refreshInterval/10).
const minExpirationInterval = 100 * time.Millisecond

// lifecycle is the active/inactive gate . Every outbound
// fetch awaits waitForActivation before dispatching. While active, a
// background goroutine periodically invalidates queries older than the
// configured refresh interval.
type lifecycle struct {
	active atomic.Bool

	mu      sync.Mutex
	waiters []*deferred[struct{}]
	stop    chan struct{}

	refreshInterval time.Duration
	table           *queryTable
}

func newLifecycle(table *queryTable, refreshInterval time.Duration) *lifecycle {
	l := &lifecycle{table: table, refreshInterval: refreshInterval}
	l.active.Store(true)
	l.startChecker()
	return l
}

// Activate resumes outbound fetches and restarts the expiration checker.
func (l *lifecycle) Activate() {
	l.mu.Lock()
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	l.active.Store(true)
	for _, w := range waiters {
		w.resolve(struct{}{})
	}
	l.startChecker()
}

// Deactivate pauses outbound fetches. In-flight waitForActivation calls
// block until the next Activate.
func (l *lifecycle) Deactivate() {
	l.active.Store(false)
	l.stopChecker()
}

// IsActive reports the current gate state.
func (l *lifecycle) IsActive() bool {
	return l.active.Load()
}

// waitForActivation blocks until the source is active.
func (l *lifecycle) waitForActivation(ctx context.Context) error {
	if l.active.Load() {
		return nil
	}

	d := newDeferred[struct{}]()
	l.mu.Lock()
	if l.active.Load() {
		l.mu.Unlock()
		return nil
	}
	l.waiters = append(l.waiters, d)
	l.mu.Unlock()

	_, err := d.wait(ctx)
	return err
}

// withActivationRetry runs fn after waiting for activation. If fn fails
// while the source has since gone inactive, it waits for reactivation and
// retries fn exactly once.
func withActivationRetry[T any](ctx context.Context, l *lifecycle, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.waitForActivation(ctx); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	if err == nil || l.IsActive() {
		return result, err
	}

	if werr := l.waitForActivation(ctx); werr != nil {
		return zero, werr
	}
	return fn(ctx)
}

func (l *lifecycle) startChecker() {
	if l.refreshInterval <= 0 {
		return
	}
	interval := l.refreshInterval / 10
	if interval <= 0 || interval > minExpirationInterval {
		interval = minExpirationInterval
	}

	stop := make(chan struct{})
	l.mu.Lock()
	if l.stop != nil {
		l.mu.Unlock()
		return
	}
	l.stop = stop
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !l.active.Load() {
					return
				}
				l.table.invalidateOlderThan(l.refreshInterval)
			}
		}
	}()
}

func (l *lifecycle) stopChecker() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}
