package host

import (
	"context"
	"runtime"
	"syscall"

	"bazil.org/fuse"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many kernel callbacks run against the real tree at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool creates a pool with size slots, or twice the CPU count when
// size is not positive.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 2 * runtime.NumCPU()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do runs fn once a slot is free. A request interrupted while waiting
// fails with EINTR and fn never runs.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fuse.Errno(syscall.EINTR)
	}
	defer p.sem.Release(1)
	return fn()
}
