package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"provengine/internal/domain"
	"provengine/internal/observability"
	"provengine/internal/provider"
	"provengine/internal/queue"
	"provengine/internal/registry"
	"provengine/internal/repository"
)

const (
	releaseTimeout = 15 * time.Second
	persistTimeout = 5 * time.Second
)

// runner drives one unit through the stage ladder. It owns the unit for
// the duration of the run: no other goroutine mutates it, all writes go
// through the registry's accessors.
type runner struct {
	registry  *registry.Registry
	provider  provider.Provider
	units     repository.UnitRepository
	attempts  repository.AttemptRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	verifyTimeout time.Duration
	now           func() time.Time
}

// step is one rung of the ladder: the backend operation to execute and the
// stage it attains on success.
type step struct {
	operation string
	attains   domain.Stage
	kind      domain.FailureKind
	run       func(ctx context.Context, lease *provider.Lease) error
}

func (r *runner) run(ctx context.Context, batchID string, ordinal int) {
	logger := observability.WithContextLogger(r.logger, ctx).With(zap.Int("ordinal", ordinal))

	if err := r.registry.MarkUnitStarted(batchID, ordinal); err != nil {
		logger.Error("failed to mark unit started", zap.Error(err))
		return
	}

	if r.metrics != nil {
		r.metrics.IncUnitInFlight()
		defer r.metrics.DecUnitInFlight()
	}

	lease := &provider.Lease{}
	defer r.releaseAll(logger, lease)

	var creds *domain.Credentials

	steps := []step{
		{
			operation: "acquire_profile",
			attains:   domain.StageProfileGenerated,
			kind:      domain.FailureResourceAcquisition,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.acquire(ctx, batchID, ordinal, lease, domain.CapabilityProfile)
			},
		},
		{
			operation: "acquire_compute",
			attains:   domain.StageResourceAcquired,
			kind:      domain.FailureResourceAcquisition,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.acquire(ctx, batchID, ordinal, lease, domain.CapabilityCompute)
			},
		},
		{
			operation: "provision",
			attains:   domain.StageAppProvisioned,
			kind:      domain.FailureBackendOperation,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.provider.Provision(ctx, *lease)
			},
		},
		{
			operation: "acquire_email",
			attains:   domain.StageEmailAcquired,
			kind:      domain.FailureResourceAcquisition,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.acquire(ctx, batchID, ordinal, lease, domain.CapabilityEmail)
			},
		},
		{
			operation: "acquire_phone",
			attains:   domain.StagePhoneAcquired,
			kind:      domain.FailureResourceAcquisition,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.acquire(ctx, batchID, ordinal, lease, domain.CapabilityPhone)
			},
		},
		{
			operation: "register",
			attains:   domain.StageRegistered,
			kind:      domain.FailureBackendOperation,
			run: func(ctx context.Context, lease *provider.Lease) error {
				result, err := r.provider.Register(ctx, *lease)
				if err != nil {
					return err
				}
				creds = result
				return nil
			},
		},
		{
			operation: "verify",
			attains:   domain.StageVerified,
			kind:      domain.FailureBackendOperation,
			run: func(ctx context.Context, lease *provider.Lease) error {
				verifyCtx, cancel := context.WithTimeout(ctx, r.verifyTimeout)
				defer cancel()
				return r.provider.Verify(verifyCtx, *lease)
			},
		},
		{
			operation: "warm",
			attains:   domain.StageWarmed,
			kind:      domain.FailureBackendOperation,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.provider.Warm(ctx, *lease)
			},
		},
		{
			operation: "harden",
			attains:   domain.StageHardened,
			kind:      domain.FailureBackendOperation,
			run: func(ctx context.Context, lease *provider.Lease) error {
				return r.provider.Harden(ctx, *lease)
			},
		},
	}

	current := domain.StageInit
	for _, st := range steps {
		if ctx.Err() != nil {
			r.abort(logger, batchID, ordinal)
			return
		}

		start := r.now()
		opErr := st.run(ctx, lease)
		r.recordAttempt(batchID, ordinal, current, st.operation, start, opErr)

		if opErr != nil {
			// Cancellation is an abort, never a failure. A verify that ran
			// out of its own bounded window while the batch is still live
			// is a failure, not an abort.
			if ctx.Err() != nil {
				r.abort(logger, batchID, ordinal)
				return
			}
			kind := st.kind
			if errors.Is(opErr, provider.ErrVerificationTimeout) ||
				(st.attains == domain.StageVerified && errors.Is(opErr, context.DeadlineExceeded)) {
				kind = domain.FailureVerificationTimeout
			}
			r.fail(logger, batchID, ordinal, current, kind, st.operation, opErr)
			return
		}

		if err := r.registry.AdvanceUnit(batchID, ordinal, st.attains); err != nil {
			logger.Error("failed to advance unit",
				zap.String("stage", st.attains.String()),
				zap.Error(err),
			)
			return
		}
		current = st.attains
		if r.metrics != nil {
			r.metrics.ObserveStageDuration(st.attains.String(), r.now().Sub(start))
		}
	}

	result := r.buildResult(batchID, ordinal, lease, creds)
	if err := r.registry.CompleteUnit(batchID, ordinal, result); err != nil {
		logger.Error("failed to complete unit", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.IncUnitCompleted()
	}
	logger.Info("unit completed", zap.String("username", result.Credentials.Username))

	r.publishResult(result, logger)
	r.persistOutcome(logger, batchID, ordinal)
}

func (r *runner) acquire(ctx context.Context, batchID string, ordinal int, lease *provider.Lease, capability domain.Capability) error {
	start := r.now()
	handle, err := r.provider.Acquire(ctx, capability)
	if r.metrics != nil {
		r.metrics.ObserveAcquireDuration(strings.ToLower(string(capability)), r.now().Sub(start))
	}
	if err != nil {
		return err
	}

	if err := lease.Attach(handle); err != nil {
		return err
	}
	return r.registry.AttachHandle(batchID, ordinal, handle)
}

func (r *runner) buildResult(batchID string, ordinal int, lease *provider.Lease, creds *domain.Credentials) *domain.UnitResult {
	result := &domain.UnitResult{
		UnitID:      fmt.Sprintf("%s/%d", batchID, ordinal),
		BatchID:     batchID,
		Ordinal:     ordinal,
		CompletedAt: r.now().UTC(),
	}
	if creds != nil {
		result.Credentials = *creds
	}
	if lease.Email != nil {
		result.Email = lease.Email.ID
	}
	if lease.Phone != nil {
		result.Phone = lease.Phone.ID
	}
	return result
}

func (r *runner) fail(logger *zap.Logger, batchID string, ordinal int, stage domain.Stage, kind domain.FailureKind, operation string, cause error) {
	unitErr := &domain.UnitError{
		Stage:  stage,
		Kind:   kind,
		Reason: fmt.Sprintf("%s failed", operation),
		Cause:  cause,
	}

	if err := r.registry.FailUnit(batchID, ordinal, unitErr); err != nil {
		logger.Error("failed to record unit failure", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.IncUnitFailed(stage.String(), kind.String())
	}
	logger.Warn("unit failed",
		zap.String("stage", stage.String()),
		zap.String("kind", kind.String()),
		zap.Error(cause),
	)

	r.persistOutcome(logger, batchID, ordinal)
}

func (r *runner) abort(logger *zap.Logger, batchID string, ordinal int) {
	if err := r.registry.AbortUnit(batchID, ordinal); err != nil {
		logger.Error("failed to record unit abort", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.IncUnitAborted()
	}
	logger.Info("unit aborted")

	r.persistOutcome(logger, batchID, ordinal)
}

// releaseAll returns every handle the unit still holds. Runs on a fresh
// context so release happens even when the batch context is cancelled.
func (r *runner) releaseAll(logger *zap.Logger, lease *provider.Lease) {
	held := lease.Held()
	if len(held) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	for _, handle := range held {
		if err := r.provider.Release(ctx, handle); err != nil {
			logger.Error("failed to release resource",
				zap.String("capability", string(handle.Capability)),
				zap.String("resourceId", handle.ID),
				zap.Error(err),
			)
		}
	}
}

func (r *runner) recordAttempt(batchID string, ordinal int, stage domain.Stage, operation string, start time.Time, opErr error) {
	if r.attempts == nil {
		return
	}

	var attemptErr *string
	if opErr != nil {
		value := opErr.Error()
		attemptErr = &value
	}

	attempt := &domain.OperationAttempt{
		ID:             uuid.NewString(),
		BatchID:        batchID,
		UnitID:         fmt.Sprintf("%s/%d", batchID, ordinal),
		Stage:          stage,
		Operation:      operation,
		DurationMillis: r.now().Sub(start).Milliseconds(),
		Error:          attemptErr,
		CreatedAt:      r.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.attempts.Create(ctx, attempt); err != nil {
		r.logger.Warn("failed to record operation attempt",
			zap.String("unitId", attempt.UnitID),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
}

// publishResult hands the completed unit to the export queue. A publish
// failure never un-completes the unit; it is logged and counted.
func (r *runner) publishResult(result *domain.UnitResult, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}

	msg := queue.UnitResultMessage{
		BatchID:     result.BatchID,
		UnitID:      result.UnitID,
		Ordinal:     result.Ordinal,
		Username:    result.Credentials.Username,
		Password:    result.Credentials.Password,
		Email:       result.Email,
		Phone:       result.Phone,
		CompletedAt: result.CompletedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.publisher.PublishUnitResult(ctx, msg); err != nil {
		if r.metrics != nil {
			r.metrics.IncResultPublishFailure()
		}
		logger.Error("failed to publish unit result", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.IncResultPublished()
	}
}

func (r *runner) persistOutcome(logger *zap.Logger, batchID string, ordinal int) {
	if r.units == nil {
		return
	}

	unit, err := r.registry.ExportUnit(batchID, ordinal)
	if err != nil {
		logger.Error("failed to export unit for persistence", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.units.RecordOutcome(ctx, &unit); err != nil {
		logger.Error("failed to persist unit outcome", zap.Error(err))
	}
}
