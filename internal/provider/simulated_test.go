package provider

import (
	"context"
	"strings"
	"testing"
	"time"

	"provengine/internal/blocking"
	"provengine/internal/domain"
)

func TestSimulatedAcquireRelease(t *testing.T) {
	p := NewSimulatedProvider(nil, 0)

	handle, err := p.Acquire(context.Background(), domain.CapabilityCompute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !strings.HasPrefix(handle.ID, "sim-compute-") {
		t.Fatalf("handle id = %q", handle.ID)
	}
	if p.LeasedCount() != 1 {
		t.Fatalf("leased count = %d, want 1", p.LeasedCount())
	}

	if err := p.Release(context.Background(), handle); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	// Releasing the same handle again is a no-op, never an error.
	if err := p.Release(context.Background(), handle); err != nil {
		t.Fatalf("second Release returned error: %v", err)
	}
	if p.LeasedCount() != 0 {
		t.Fatalf("leased count = %d, want 0", p.LeasedCount())
	}
}

func TestSimulatedRejectsUnknownCapability(t *testing.T) {
	p := NewSimulatedProvider(nil, 0)
	if _, err := p.Acquire(context.Background(), domain.Capability("GPU")); err == nil {
		t.Fatalf("unknown capability must be rejected")
	}
}

func TestSimulatedRegisterNeedsFullLease(t *testing.T) {
	p := NewSimulatedProvider(nil, 0)

	if _, err := p.Register(context.Background(), Lease{}); err == nil {
		t.Fatalf("Register without handles must fail")
	}

	lease := Lease{}
	for _, capability := range domain.Capabilities {
		handle, err := p.Acquire(context.Background(), capability)
		if err != nil {
			t.Fatalf("Acquire(%s) returned error: %v", capability, err)
		}
		if err := lease.Attach(handle); err != nil {
			t.Fatalf("Attach returned error: %v", err)
		}
	}

	creds, err := p.Register(context.Background(), lease)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !strings.HasPrefix(creds.Username, "sim-user-") || creds.Password == "" {
		t.Fatalf("credentials = %+v", creds)
	}
}

func TestSimulatedWorkRunsThroughPool(t *testing.T) {
	pool := blocking.NewPool(2)
	p := NewSimulatedProvider(pool, time.Millisecond)

	lease := Lease{}
	for _, capability := range domain.Capabilities {
		handle, err := p.Acquire(context.Background(), capability)
		if err != nil {
			t.Fatalf("Acquire(%s) returned error: %v", capability, err)
		}
		if err := lease.Attach(handle); err != nil {
			t.Fatalf("Attach returned error: %v", err)
		}
	}

	if err := p.Provision(context.Background(), lease); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if err := p.Verify(context.Background(), lease); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Warm(ctx, lease); err == nil {
		t.Fatalf("cancelled context must abort simulated work")
	}
}
