package cachekit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLifecycle_StartsActive(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	if !l.IsActive() {
		t.Error("expected lifecycle to start active")
	}
}

func TestLifecycle_DeactivateThenActivate(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	l.Deactivate()
	if l.IsActive() {
		t.Error("expected inactive after Deactivate")
	}

	l.Activate()
	if !l.IsActive() {
		t.Error("expected active after Activate")
	}
}

func TestLifecycle_WaitForActivation_ReturnsImmediatelyWhenActive(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	if err := l.waitForActivation(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLifecycle_WaitForActivation_BlocksUntilActivate(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()
	l.Deactivate()

	done := make(chan error, 1)
	go func() {
		done <- l.waitForActivation(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("waitForActivation returned before Activate")
	case <-time.After(20 * time.Millisecond):
	}

	l.Activate()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waitForActivation did not return after Activate")
	}
}

func TestLifecycle_WaitForActivation_RespectsContextCancellation(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()
	l.Deactivate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.waitForActivation(ctx); err == nil {
		t.Error("expected context deadline error")
	}
}

func TestWithActivationRetry_SucceedsWhenActive(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	calls := 0
	result, err := withActivationRetry(context.Background(), l, func(ctx context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 || calls != 1 {
		t.Errorf("expected single call returning 7, got result=%d calls=%d", result, calls)
	}
}

func TestWithActivationRetry_RetriesOnceAfterDeactivation(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	calls := 0
	result, err := withActivationRetry(context.Background(), l, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			l.Deactivate()
			go func() {
				time.Sleep(10 * time.Millisecond)
				l.Activate()
			}()
			return 0, errors.New("transient failure while deactivating")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 || calls != 2 {
		t.Errorf("expected retry to succeed on second call, got result=%d calls=%d", result, calls)
	}
}

func TestWithActivationRetry_DoesNotRetryIfStillActive(t *testing.T) {
	l := newLifecycle(newQueryTable(), 0)
	defer l.stopChecker()

	calls := 0
	wantErr := errors.New("permanent failure")
	_, err := withActivationRetry(context.Background(), l, func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if err != wantErr {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call since source stayed active, got %d", calls)
	}
}

func TestLifecycle_BackgroundCheckerInvalidatesStaleQueries(t *testing.T) {
	table := newQueryTable()
	q := newObjectQuery("https://example.com/widgets/1/", QueryOptions{})
	q.fetchedAt = time.Now().Add(-time.Hour)
	table.insertFront(q)

	l := newLifecycle(table, 50*time.Millisecond)
	defer l.stopChecker()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if q.Expired() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected background checker to invalidate a stale query")
}
