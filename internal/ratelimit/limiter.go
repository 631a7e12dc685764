package ratelimit

import "context"

// RateLimiter throttles resource acquisition per capability. The throttle
// is deliberate: bursty acquisition traffic against the capability
// backends is both expensive and conspicuous.
type RateLimiter interface {
	Allow(ctx context.Context, capability string) (bool, error)
	Wait(ctx context.Context, capability string) error
}
