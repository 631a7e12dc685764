// Package blocking offloads calls into legacy blocking SDKs onto a
// bounded pool so they cannot stall the orchestration goroutines.
package blocking

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

const defaultPoolSize = 8

// Pool caps how many blocking operations run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = defaultPoolSize
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Do runs fn once a pool slot is free and waits for it to finish. If ctx
// expires while fn is still running, Do returns the context error and the
// slot is released only after fn actually returns, so the cap holds.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fmt.Errorf("blocking pool is not initialized")
	}
	if fn == nil {
		return fmt.Errorf("blocking operation is required")
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("blocking pool acquire: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Size returns the configured slot count.
func (p *Pool) Size() int { return int(p.size) }
