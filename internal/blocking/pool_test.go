package blocking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsOperation(t *testing.T) {
	t.Parallel()

	pool := NewPool(2)

	wantErr := errors.New("boom")
	if err := pool.Do(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}
	if err := pool.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const slots = 3
	pool := NewPool(slots)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func() error {
				current := atomic.AddInt64(&inFlight, 1)
				for {
					observed := atomic.LoadInt64(&peak)
					if current <= observed || atomic.CompareAndSwapInt64(&peak, observed, current) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > slots {
		t.Fatalf("peak concurrency = %d, want <= %d", got, slots)
	}
}

func TestPoolHonorsContextWhileQueued(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want DeadlineExceeded", err)
	}
	close(release)
}

func TestPoolRejectsNilOperation(t *testing.T) {
	t.Parallel()

	if err := NewPool(1).Do(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil operation")
	}
}
