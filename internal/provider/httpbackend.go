package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"provengine/internal/domain"
	"provengine/internal/ratelimit"
)

const (
	defaultAcquireTimeout     = 10 * time.Second
	defaultOperationTimeout   = 30 * time.Second
	defaultVerifyPollInterval = 2 * time.Second
	defaultVerifyTimeout      = 60 * time.Second
)

// capabilityPath maps each capability to its backend collection path.
var capabilityPath = map[domain.Capability]string{
	domain.CapabilityCompute: "compute/sessions",
	domain.CapabilityEmail:   "email/addresses",
	domain.CapabilityPhone:   "phone/leases",
	domain.CapabilityProfile: "profiles",
}

type acquireResponse struct {
	ID string `json:"id"`
}

type registerRequest struct {
	ComputeID string `json:"computeId"`
	EmailID   string `json:"emailId"`
	PhoneID   string `json:"phoneId"`
	ProfileID string `json:"profileId"`
}

type registerResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type codeResponse struct {
	Code string `json:"code"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type provisionRequest struct {
	ProfileID string `json:"profileId"`
}

// HTTPBackendProvider talks to the capability backend's HTTP API. It is
// the "real" provider mode: when a backend cannot deliver, the error
// surfaces as a unit failure; no simulated substitute is ever produced.
type HTTPBackendProvider struct {
	client  *resty.Client
	baseURL string
	limiter ratelimit.RateLimiter

	acquireTimeout     time.Duration
	operationTimeout   time.Duration
	verifyPollInterval time.Duration
	verifyTimeout      time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewHTTPBackendProvider(baseURL, apiKey string, limiter ratelimit.RateLimiter) (*HTTPBackendProvider, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	client := resty.New()
	client.SetRetryCount(0)
	if strings.TrimSpace(apiKey) != "" {
		client.SetHeader("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	}

	return &HTTPBackendProvider{
		client:             client,
		baseURL:            trimmedBase,
		limiter:            limiter,
		acquireTimeout:     defaultAcquireTimeout,
		operationTimeout:   defaultOperationTimeout,
		verifyPollInterval: defaultVerifyPollInterval,
		verifyTimeout:      defaultVerifyTimeout,
		now:                time.Now,
		sleep:              sleepWithContext,
	}, nil
}

func (p *HTTPBackendProvider) Acquire(ctx context.Context, capability domain.Capability) (*domain.ResourceHandle, error) {
	path, ok := capabilityPath[capability]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", capability)
	}

	// Acquisitions are throttled independently of the concurrency ceiling
	// to keep backend traffic from bursting.
	if err := p.limiter.Wait(ctx, strings.ToLower(capability.String())); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	var out acquireResponse
	response, err := p.client.R().
		SetContext(acquireCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-ID", newTraceID()).
		SetResult(&out).
		ForceContentType("application/json").
		Post(p.endpoint(path))
	if err := classify("acquire "+string(capability), response, err); err != nil {
		return nil, err
	}

	if strings.TrimSpace(out.ID) == "" {
		return nil, &BackendError{
			Operation: "acquire " + string(capability),
			Message:   "backend returned empty resource id",
			Transient: true,
		}
	}

	return &domain.ResourceHandle{
		ID:         out.ID,
		Capability: capability,
		AcquiredAt: p.now().UTC(),
	}, nil
}

func (p *HTTPBackendProvider) Release(ctx context.Context, handle *domain.ResourceHandle) error {
	if handle == nil {
		return nil
	}
	path, ok := capabilityPath[handle.Capability]
	if !ok {
		return fmt.Errorf("unknown capability %q", handle.Capability)
	}

	releaseCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	response, err := p.client.R().
		SetContext(releaseCtx).
		Delete(p.endpoint(path) + "/" + url.PathEscape(handle.ID))
	if err != nil {
		return &BackendError{
			Operation: "release " + string(handle.Capability),
			Message:   "release request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	// A handle the backend no longer knows about counts as released.
	if response.StatusCode() == http.StatusNotFound {
		return nil
	}
	return classify("release "+string(handle.Capability), response, nil)
}

func (p *HTTPBackendProvider) Provision(ctx context.Context, lease Lease) error {
	if lease.Compute == nil || lease.Profile == nil {
		return fmt.Errorf("provision requires compute and profile handles")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()

	response, err := p.client.R().
		SetContext(opCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(provisionRequest{ProfileID: lease.Profile.ID}).
		Post(p.computeEndpoint(lease, "app"))
	return classify("provision", response, err)
}

func (p *HTTPBackendProvider) Register(ctx context.Context, lease Lease) (*domain.Credentials, error) {
	if lease.Compute == nil || lease.Email == nil || lease.Phone == nil || lease.Profile == nil {
		return nil, fmt.Errorf("register requires all four capability handles")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()

	var out registerResponse
	response, err := p.client.R().
		SetContext(opCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(registerRequest{
			ComputeID: lease.Compute.ID,
			EmailID:   lease.Email.ID,
			PhoneID:   lease.Phone.ID,
			ProfileID: lease.Profile.ID,
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Post(p.endpoint("accounts"))
	if err := classify("register", response, err); err != nil {
		return nil, err
	}

	if strings.TrimSpace(out.Username) == "" {
		return nil, &BackendError{
			Operation: "register",
			Message:   "backend returned empty credentials",
			Transient: false,
		}
	}

	return &domain.Credentials{Username: out.Username, Password: out.Password}, nil
}

// Verify polls the phone lease for an inbound code, then applies it. The
// wait is bounded by verifyTimeout (or an earlier caller deadline).
func (p *HTTPBackendProvider) Verify(ctx context.Context, lease Lease) error {
	if lease.Phone == nil {
		return fmt.Errorf("verify requires a phone handle")
	}

	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.verifyTimeout)
		defer cancel()
	}

	start := p.now()
	codeURL := p.endpoint(capabilityPath[domain.CapabilityPhone]) + "/" + url.PathEscape(lease.Phone.ID) + "/code"
	for {
		var out codeResponse
		response, err := p.client.R().
			SetContext(waitCtx).
			SetResult(&out).
			ForceContentType("application/json").
			Get(codeURL)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%w: waited %s", ErrVerificationTimeout, p.now().Sub(start).Round(time.Millisecond))
			}
			return classify("verify poll", response, err)
		}
		if err := classify("verify poll", response, nil); err != nil {
			return err
		}

		if strings.TrimSpace(out.Code) != "" {
			return p.applyCode(ctx, lease, out.Code)
		}

		if err := p.sleep(waitCtx, p.verifyPollInterval); err != nil {
			if ctx.Err() == nil {
				return fmt.Errorf("%w: waited %s", ErrVerificationTimeout, p.now().Sub(start).Round(time.Millisecond))
			}
			return err
		}
	}
}

func (p *HTTPBackendProvider) applyCode(ctx context.Context, lease Lease, code string) error {
	opCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()

	response, err := p.client.R().
		SetContext(opCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(verifyRequest{Code: code}).
		Post(p.computeEndpoint(lease, "verify"))
	return classify("verify apply", response, err)
}

func (p *HTTPBackendProvider) Warm(ctx context.Context, lease Lease) error {
	return p.sessionAction(ctx, lease, "warm")
}

func (p *HTTPBackendProvider) Harden(ctx context.Context, lease Lease) error {
	return p.sessionAction(ctx, lease, "harden")
}

func (p *HTTPBackendProvider) sessionAction(ctx context.Context, lease Lease, action string) error {
	if lease.Compute == nil {
		return fmt.Errorf("%s requires a compute handle", action)
	}

	opCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()

	response, err := p.client.R().
		SetContext(opCtx).
		Post(p.computeEndpoint(lease, action))
	return classify(action, response, err)
}

func (p *HTTPBackendProvider) endpoint(path string) string {
	return p.baseURL + "/v1/" + path
}

func (p *HTTPBackendProvider) computeEndpoint(lease Lease, action string) string {
	return p.endpoint(capabilityPath[domain.CapabilityCompute]) + "/" + url.PathEscape(lease.Compute.ID) + "/" + action
}

func classify(operation string, response *resty.Response, err error) error {
	if err != nil {
		return &BackendError{
			Operation: operation,
			Message:   "backend request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &BackendError{
			Operation: operation,
			Message:   "backend returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	message := fmt.Sprintf("backend returned status %d", statusCode)
	if body := strings.TrimSpace(response.String()); body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}

	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newTraceID tags outbound requests so backend logs can be correlated.
func newTraceID() string { return uuid.NewString() }
