package cachekit

import (
	"context"
	"sync"
)

// deferred is a one-shot completion primitive: a value is produced exactly
// once and any number of goroutines may await it. It backs
// waitForActivation, requestAuthentication's shared challenge promise, and
// a query's in-flight refresh and next-page promises.
type deferred[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newDeferred[T any]() *deferred[T] {
	return &deferred[T]{done: make(chan struct{})}
}

// resolve completes the deferred with v. Only the first call has effect.
func (d *deferred[T]) resolve(v T) {
	d.once.Do(func() {
		d.value = v
		close(d.done)
	})
}

// reject completes the deferred with an error. Only the first call has effect.
func (d *deferred[T]) reject(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// wait blocks until the deferred is resolved or ctx is done.
func (d *deferred[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// settled reports whether resolve or reject has already been called,
// without blocking.
func (d *deferred[T]) settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
