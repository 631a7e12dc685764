package provider

import (
	"context"
	"fmt"

	"provengine/internal/domain"
)

// Provider is the outbound port for every external capability a unit
// consumes. Exactly one implementation is selected at startup; real mode
// never falls back to the simulated provider when a backend is down.
type Provider interface {
	// Acquire leases one resource of the given capability. Calls are
	// bounded by per-capability timeouts and never block indefinitely.
	Acquire(ctx context.Context, capability domain.Capability) (*domain.ResourceHandle, error)

	// Release returns a resource to the backend. Idempotent: releasing an
	// already-released handle is a no-op, never an error.
	Release(ctx context.Context, handle *domain.ResourceHandle) error

	// Provision installs and launches the target application inside the
	// compute session using the behavioral profile.
	Provision(ctx context.Context, lease Lease) error

	// Register creates the account through the provisioned session and
	// returns the generated credentials.
	Register(ctx context.Context, lease Lease) (*domain.Credentials, error)

	// Verify waits for the inbound verification code on the leased phone
	// number and applies it. The wait is bounded; expiry is an error, not
	// an infinite hang.
	Verify(ctx context.Context, lease Lease) error

	// Warm runs the post-registration warm-up routine.
	Warm(ctx context.Context, lease Lease) error

	// Harden applies the final anti-expiry hardening pass.
	Harden(ctx context.Context, lease Lease) error
}

// Lease groups the resource handles a unit has acquired so far. Fields are
// nil until the corresponding stage has run.
type Lease struct {
	Profile *domain.ResourceHandle
	Compute *domain.ResourceHandle
	Email   *domain.ResourceHandle
	Phone   *domain.ResourceHandle
}

// Attach stores a freshly acquired handle in its capability slot.
func (l *Lease) Attach(handle *domain.ResourceHandle) error {
	if handle == nil {
		return fmt.Errorf("nil resource handle")
	}

	switch handle.Capability {
	case domain.CapabilityProfile:
		l.Profile = handle
	case domain.CapabilityCompute:
		l.Compute = handle
	case domain.CapabilityEmail:
		l.Email = handle
	case domain.CapabilityPhone:
		l.Phone = handle
	default:
		return fmt.Errorf("unknown capability %q", handle.Capability)
	}
	return nil
}

// Held returns the non-nil handles in acquisition order.
func (l Lease) Held() []*domain.ResourceHandle {
	handles := make([]*domain.ResourceHandle, 0, 4)
	for _, h := range []*domain.ResourceHandle{l.Profile, l.Compute, l.Email, l.Phone} {
		if h != nil {
			handles = append(handles, h)
		}
	}
	return handles
}
