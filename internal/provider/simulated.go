package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"provengine/internal/blocking"
	"provengine/internal/domain"
)

// SimulatedProvider is the dry-run provider mode. It fabricates
// deterministic resources in memory and is only ever selected explicitly
// through configuration; it is not an error-recovery fallback for the real
// provider.
type SimulatedProvider struct {
	pool    *blocking.Pool
	latency time.Duration

	mu       sync.Mutex
	sequence int
	leased   map[string]domain.Capability
}

func NewSimulatedProvider(pool *blocking.Pool, latency time.Duration) *SimulatedProvider {
	if latency < 0 {
		latency = 0
	}
	return &SimulatedProvider{
		pool:    pool,
		latency: latency,
		leased:  make(map[string]domain.Capability),
	}
}

func (p *SimulatedProvider) Acquire(ctx context.Context, capability domain.Capability) (*domain.ResourceHandle, error) {
	if !capability.IsValid() {
		return nil, fmt.Errorf("unknown capability %q", capability)
	}

	if err := p.simulateWork(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sequence++
	id := fmt.Sprintf("sim-%s-%d", strings.ToLower(capability.String()), p.sequence)
	p.leased[id] = capability
	p.mu.Unlock()

	return &domain.ResourceHandle{
		ID:         id,
		Capability: capability,
		AcquiredAt: time.Now().UTC(),
	}, nil
}

func (p *SimulatedProvider) Release(ctx context.Context, handle *domain.ResourceHandle) error {
	if handle == nil {
		return nil
	}

	p.mu.Lock()
	delete(p.leased, handle.ID)
	p.mu.Unlock()
	return nil
}

func (p *SimulatedProvider) Provision(ctx context.Context, lease Lease) error {
	if lease.Compute == nil || lease.Profile == nil {
		return fmt.Errorf("provision requires compute and profile handles")
	}
	return p.simulateWork(ctx)
}

func (p *SimulatedProvider) Register(ctx context.Context, lease Lease) (*domain.Credentials, error) {
	if lease.Compute == nil || lease.Email == nil || lease.Phone == nil || lease.Profile == nil {
		return nil, fmt.Errorf("register requires all four capability handles")
	}
	if err := p.simulateWork(ctx); err != nil {
		return nil, err
	}

	return &domain.Credentials{
		Username: "sim-user-" + shortID(lease.Compute.ID),
		Password: uuid.NewString(),
	}, nil
}

func (p *SimulatedProvider) Verify(ctx context.Context, lease Lease) error {
	if lease.Phone == nil {
		return fmt.Errorf("verify requires a phone handle")
	}
	return p.simulateWork(ctx)
}

func (p *SimulatedProvider) Warm(ctx context.Context, lease Lease) error {
	return p.simulateWork(ctx)
}

func (p *SimulatedProvider) Harden(ctx context.Context, lease Lease) error {
	return p.simulateWork(ctx)
}

// LeasedCount reports how many simulated resources are currently held.
func (p *SimulatedProvider) LeasedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// simulateWork burns the configured latency through the blocking pool so
// dry runs exercise the same offloading path as real backend SDK calls.
func (p *SimulatedProvider) simulateWork(ctx context.Context) error {
	if p.latency == 0 {
		return ctx.Err()
	}
	if p.pool == nil {
		return sleepWithContext(ctx, p.latency)
	}

	return p.pool.Do(ctx, func() error {
		time.Sleep(p.latency)
		return nil
	})
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sim-compute-")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
