// Package pipeline drives batches through the provisioning stage ladder
// under a bounded concurrency ceiling. The coordinator owns batch
// lifecycles; each admitted unit is driven by its own runner goroutine.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"provengine/internal/domain"
	"provengine/internal/notify"
	"provengine/internal/observability"
	"provengine/internal/provider"
	"provengine/internal/queue"
	"provengine/internal/registry"
	"provengine/internal/repository"
)

const (
	defaultMaxInFlight   = 3
	defaultVerifyTimeout = 60 * time.Second
	defaultCleanupGrace  = 600 * time.Second
	defaultSweepInterval = 30 * time.Second

	// watchDrainTimeout bounds how long finalization waits for the
	// progress watcher to push the terminal snapshot.
	watchDrainTimeout = 10 * time.Second
)

// Settings are the tunables of the coordinator.
type Settings struct {
	// MaxInFlight caps how many units across the batch hold resources at
	// once.
	MaxInFlight int
	// VerifyTimeout bounds the wait for the inbound verification code.
	VerifyTimeout time.Duration
	// CleanupGrace is how long a terminal batch stays queryable before
	// eviction from the arena.
	CleanupGrace time.Duration
}

// Stores groups the persistence repositories. Nil fields disable the
// corresponding audit writes.
type Stores struct {
	Batches  repository.BatchRepository
	Units    repository.UnitRepository
	Attempts repository.AttemptRepository
}

type runningBatch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator creates batches, admits their units under the concurrency
// ceiling, and finalizes them exactly once when every unit has settled.
type Coordinator struct {
	registry  *registry.Registry
	provider  provider.Provider
	publisher queue.Publisher
	notifier  *notify.Notifier
	stores    Stores
	logger    *zap.Logger
	metrics   *observability.Metrics
	settings  Settings
	now       func() time.Time

	mu      sync.Mutex
	running map[string]*runningBatch
}

func NewCoordinator(
	reg *registry.Registry,
	prov provider.Provider,
	publisher queue.Publisher,
	notifier *notify.Notifier,
	stores Stores,
	settings Settings,
	logger *zap.Logger,
) (*Coordinator, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if prov == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if settings.MaxInFlight < 1 {
		settings.MaxInFlight = defaultMaxInFlight
	}
	if settings.VerifyTimeout <= 0 {
		settings.VerifyTimeout = defaultVerifyTimeout
	}
	if settings.CleanupGrace <= 0 {
		settings.CleanupGrace = defaultCleanupGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		registry:  reg,
		provider:  prov,
		publisher: publisher,
		notifier:  notifier,
		stores:    stores,
		logger:    logger,
		settings:  settings,
		now:       time.Now,
		running:   make(map[string]*runningBatch),
	}, nil
}

func (c *Coordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// SetNowFunc overrides the clock. Test hook.
func (c *Coordinator) SetNowFunc(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// CreateBatch registers a new batch with all units in INIT. The batch does
// not consume any resources until StartBatch.
func (c *Coordinator) CreateBatch(ctx context.Context, requester string, count int, metadata string) (domain.BatchSnapshot, error) {
	batch, err := domain.NewBatch(uuid.NewString(), requester, count, metadata, c.now().UTC())
	if err != nil {
		return domain.BatchSnapshot{}, err
	}

	units := make([]*domain.Unit, count)
	for i := range units {
		units[i] = domain.NewUnit(batch.ID, i)
	}

	if err := c.registry.Put(batch, units); err != nil {
		return domain.BatchSnapshot{}, err
	}

	if c.stores.Batches != nil {
		if err := c.stores.Batches.Create(ctx, batch); err != nil {
			c.registry.Evict(batch.ID)
			return domain.BatchSnapshot{}, fmt.Errorf("failed to persist batch: %w", err)
		}
	}
	if c.stores.Units != nil {
		if err := c.stores.Units.CreateBatch(ctx, units); err != nil {
			c.registry.Evict(batch.ID)
			return domain.BatchSnapshot{}, fmt.Errorf("failed to persist units: %w", err)
		}
	}

	c.logger.Info("batch created",
		zap.String("batchId", batch.ID),
		zap.String("requester", batch.Requester),
		zap.Int("units", count),
	)

	return c.registry.Snapshot(batch.ID)
}

// StartBatch transitions the batch into execution exactly once and returns
// immediately; units run in the background. chatID may be zero when no
// progress chat is wanted.
func (c *Coordinator) StartBatch(_ context.Context, batchID string, chatID int64) error {
	if err := c.registry.MarkStarted(batchID, chatID); err != nil {
		return err
	}

	// The batch outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	rb := &runningBatch{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.running[batchID] = rb
	c.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.running, batchID)
			c.mu.Unlock()
			close(rb.done)
		}()
		c.execute(runCtx, batchID)
	}()

	return nil
}

// Status returns a consistent snapshot of the batch.
func (c *Coordinator) Status(batchID string) (domain.BatchSnapshot, error) {
	return c.registry.Snapshot(batchID)
}

// Cancel stops a batch. In-flight units settle as ABORTED at their next
// suspension point; units never admitted go straight to ABORTED. Units
// already COMPLETED stay completed.
func (c *Coordinator) Cancel(batchID string) error {
	c.mu.Lock()
	rb, ok := c.running[batchID]
	c.mu.Unlock()

	if ok {
		rb.cancel()
		return nil
	}

	batch, err := c.registry.ExportBatch(batchID)
	if err != nil {
		return err
	}
	if batch.IsTerminal() {
		return fmt.Errorf("%w: batch %s", domain.ErrBatchTerminal, batchID)
	}
	if batch.Started {
		// Execution wound down between the map check and here; the batch
		// settles on its own.
		return nil
	}

	// Never started: abort every unit synchronously.
	logger := c.logger.With(zap.String("batchId", batchID))
	c.abortRange(logger, batchID, 0, batch.TargetCount)
	c.finalize(logger, batchID)
	return nil
}

// Shutdown cancels every running batch and waits for them to settle or for
// ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]*runningBatch, 0, len(c.running))
	for _, rb := range c.running {
		rb.cancel()
		pending = append(pending, rb)
	}
	c.mu.Unlock()

	for _, rb := range pending {
		select {
		case <-rb.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunJanitor evicts terminal batches once their grace period has passed.
// Blocks until ctx is cancelled.
func (c *Coordinator) RunJanitor(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := defaultSweepInterval
	if c.settings.CleanupGrace < interval {
		interval = c.settings.CleanupGrace
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := c.now().UTC().Add(-c.settings.CleanupGrace)
			if evicted := c.registry.SweepTerminal(cutoff); evicted > 0 {
				c.logger.Info("evicted settled batches", zap.Int("count", evicted))
			}
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, batchID string) {
	ctx = observability.WithBatchID(ctx, batchID)
	logger := observability.WithContextLogger(c.logger, ctx)

	batch, err := c.registry.ExportBatch(batchID)
	if err != nil {
		logger.Error("failed to load batch for execution", zap.Error(err))
		return
	}
	logger.Info("batch execution started",
		zap.Int("units", batch.TargetCount),
		zap.Int("maxInFlight", c.settings.MaxInFlight),
	)

	watchDone := make(chan struct{})
	if c.notifier != nil {
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		go func() {
			defer close(watchDone)
			if err := c.notifier.Watch(watchCtx, batchID); err != nil {
				logger.Warn("progress watcher stopped with error", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	run := &runner{
		registry:      c.registry,
		provider:      c.provider,
		units:         c.stores.Units,
		attempts:      c.stores.Attempts,
		publisher:     c.publisher,
		logger:        c.logger,
		metrics:       c.metrics,
		verifyTimeout: c.settings.VerifyTimeout,
		now:           c.now,
	}

	sem := semaphore.NewWeighted(int64(c.settings.MaxInFlight))
	g := new(errgroup.Group)

	for ordinal := 0; ordinal < batch.TargetCount; ordinal++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for admission; everything not yet
			// admitted goes straight to ABORTED.
			c.abortRange(logger, batchID, ordinal, batch.TargetCount)
			break
		}

		g.Go(func() error {
			defer sem.Release(1)
			run.run(ctx, batchID, ordinal)
			return nil
		})
	}

	_ = g.Wait()
	c.finalize(logger, batchID)

	select {
	case <-watchDone:
	case <-time.After(watchDrainTimeout):
		logger.Warn("progress watcher did not drain in time")
	}
}

func (c *Coordinator) abortRange(logger *zap.Logger, batchID string, from, to int) {
	for ordinal := from; ordinal < to; ordinal++ {
		if err := c.registry.AbortUnit(batchID, ordinal); err != nil {
			logger.Error("failed to abort unit",
				zap.Int("ordinal", ordinal),
				zap.Error(err),
			)
			continue
		}
		if c.metrics != nil {
			c.metrics.IncUnitAborted()
		}
	}
}

// finalize persists the settled batch, announces it downstream, and leaves
// it in the arena for the grace period.
func (c *Coordinator) finalize(logger *zap.Logger, batchID string) {
	batch, err := c.registry.ExportBatch(batchID)
	if err != nil {
		logger.Error("failed to load batch for finalization", zap.Error(err))
		return
	}
	if !batch.IsTerminal() {
		logger.Error("batch finished execution without settling every unit",
			zap.Int("completed", batch.Completed),
			zap.Int("failed", batch.Failed),
			zap.Int("aborted", batch.Aborted),
			zap.Int("target", batch.TargetCount),
		)
		return
	}

	if c.stores.Batches != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := c.stores.Batches.Finalize(ctx, &batch); err != nil {
			logger.Error("failed to persist batch finalization", zap.Error(err))
		}
		cancel()
	}

	if c.publisher != nil {
		finishedAt := c.now().UTC()
		if batch.FinishedAt != nil {
			finishedAt = *batch.FinishedAt
		}
		msg := queue.BatchFinalizedMessage{
			BatchID:    batch.ID,
			Requester:  batch.Requester,
			Total:      batch.TargetCount,
			Completed:  batch.Completed,
			Failed:     batch.Failed,
			Aborted:    batch.Aborted,
			Metadata:   batch.Metadata,
			FinishedAt: finishedAt,
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := c.publisher.PublishBatchFinalized(ctx, msg); err != nil {
			logger.Error("failed to publish batch finalization", zap.Error(err))
		}
		cancel()
	}

	if c.metrics != nil {
		c.metrics.IncBatchFinalized(batchOutcome(batch))
	}
	logger.Info("batch finalized",
		zap.Int("completed", batch.Completed),
		zap.Int("failed", batch.Failed),
		zap.Int("aborted", batch.Aborted),
	)
}

func batchOutcome(batch domain.Batch) string {
	switch {
	case batch.Completed == batch.TargetCount:
		return "complete"
	case batch.Aborted > 0:
		return "canceled"
	default:
		return "partial"
	}
}
