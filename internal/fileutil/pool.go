package fileutil

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking filesystem operations run at once so large
// copies in one session cannot starve the others.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a pool admitting size concurrent operations (minimum 1).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if ctx ends first.
// A nil pool runs fn inline.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
