// Package registry holds the in-memory arena of active batches. All
// mutation funnels through accessor methods behind one lock, so aggregate
// counters see serialized writes and snapshots never observe a unit
// mid-mutation.
package registry

import (
	"fmt"
	"sync"
	"time"

	"provengine/internal/domain"
)

type batchRecord struct {
	batch *domain.Batch
	units []*domain.Unit
}

type Registry struct {
	mu      sync.RWMutex
	batches map[string]*batchRecord
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		batches: make(map[string]*batchRecord),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Put registers a new batch and its units, all in INIT.
func (r *Registry) Put(batch *domain.Batch, units []*domain.Unit) error {
	if batch == nil {
		return fmt.Errorf("batch is required")
	}
	if len(units) != batch.TargetCount {
		return fmt.Errorf("unit count %d does not match batch target %d", len(units), batch.TargetCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already registered", batch.ID)
	}

	r.batches[batch.ID] = &batchRecord{batch: batch, units: units}
	return nil
}

// MarkStarted transitions the batch into execution exactly once.
func (r *Registry) MarkStarted(batchID string, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(batchID)
	if err != nil {
		return err
	}
	if record.batch.Started {
		return fmt.Errorf("%w: batch %s", domain.ErrBatchStarted, batchID)
	}
	if record.batch.IsTerminal() {
		return fmt.Errorf("%w: batch %s", domain.ErrBatchTerminal, batchID)
	}

	now := r.now().UTC()
	record.batch.Started = true
	record.batch.StartedAt = &now
	record.batch.Notify.ChatID = chatID
	return nil
}

// SetNotifyMessageID stores the chat message receiving in-place updates.
func (r *Registry) SetNotifyMessageID(batchID string, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(batchID)
	if err != nil {
		return err
	}
	record.batch.Notify.MessageID = messageID
	return nil
}

// NotifyTarget returns the batch's chat target.
func (r *Registry) NotifyTarget(batchID string) (domain.NotifyTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, err := r.record(batchID)
	if err != nil {
		return domain.NotifyTarget{}, err
	}
	return record.batch.Notify, nil
}

// MarkUnitStarted stamps the unit's start time when it wins an admission slot.
func (r *Registry) MarkUnitStarted(batchID string, ordinal int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, err := r.unit(batchID, ordinal)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	unit.StartedAt = &now
	return nil
}

// AdvanceUnit moves a unit to the next stage in canonical order.
func (r *Registry) AdvanceUnit(batchID string, ordinal int, stage domain.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, err := r.unit(batchID, ordinal)
	if err != nil {
		return err
	}
	return unit.AdvanceTo(stage)
}

// AttachHandle records resource ownership on the unit.
func (r *Registry) AttachHandle(batchID string, ordinal int, handle *domain.ResourceHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, err := r.unit(batchID, ordinal)
	if err != nil {
		return err
	}
	return unit.AttachHandle(handle)
}

// CompleteUnit finishes a unit successfully and bumps the batch counter.
func (r *Registry) CompleteUnit(batchID string, ordinal int, result *domain.UnitResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(batchID)
	if err != nil {
		return err
	}
	unit, err := r.unitLocked(record, ordinal)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if err := unit.Complete(result, now); err != nil {
		return err
	}
	return record.batch.RecordOutcome(domain.StageCompleted, now)
}

// FailUnit records a unit-fatal error and bumps the batch counter.
func (r *Registry) FailUnit(batchID string, ordinal int, unitErr *domain.UnitError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(batchID)
	if err != nil {
		return err
	}
	unit, err := r.unitLocked(record, ordinal)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if err := unit.Fail(unitErr, now); err != nil {
		return err
	}
	return record.batch.RecordOutcome(domain.StageFailed, now)
}

// AbortUnit ends a unit on cancellation and bumps the batch counter.
func (r *Registry) AbortUnit(batchID string, ordinal int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(batchID)
	if err != nil {
		return err
	}
	unit, err := r.unitLocked(record, ordinal)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if err := unit.Abort(now); err != nil {
		return err
	}
	return record.batch.RecordOutcome(domain.StageAborted, now)
}

// Snapshot returns a consistent copy of the batch and its units.
func (r *Registry) Snapshot(batchID string) (domain.BatchSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, err := r.record(batchID)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}

	batch := record.batch
	snapshot := domain.BatchSnapshot{
		BatchID:     batch.ID,
		Requester:   batch.Requester,
		TargetCount: batch.TargetCount,
		Metadata:    batch.Metadata,
		Completed:   batch.Completed,
		Failed:      batch.Failed,
		Aborted:     batch.Aborted,
		Terminal:    batch.IsTerminal(),
		CreatedAt:   batch.CreatedAt,
		FinishedAt:  batch.FinishedAt,
		Units:       make([]domain.UnitSnapshot, 0, len(record.units)),
	}

	percentSum := 0
	for _, unit := range record.units {
		percentSum += unit.Percent
		snapshot.Units = append(snapshot.Units, domain.UnitSnapshot{
			ID:      unit.ID,
			Ordinal: unit.Ordinal,
			Stage:   unit.Stage,
			Percent: unit.Percent,
			Step:    unit.Step,
			Err:     unit.Err,
		})
	}
	if len(record.units) > 0 {
		snapshot.OverallPercent = percentSum / len(record.units)
	}

	return snapshot, nil
}

// Results returns the result payloads of COMPLETED units. Safe to call
// before finalization; the list is partial until the batch is terminal.
func (r *Registry) Results(batchID string) ([]domain.UnitResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, err := r.record(batchID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.UnitResult, 0, record.batch.Completed)
	for _, unit := range record.units {
		if unit.Stage == domain.StageCompleted && unit.Result != nil {
			results = append(results, *unit.Result)
		}
	}
	return results, nil
}

// ExportUnit returns a copy of one unit, taken under the lock. Intended
// for persisting terminal outcomes; the copy shares no mutable state with
// the arena beyond pointers that are frozen once the unit is terminal.
func (r *Registry) ExportUnit(batchID string, ordinal int) (domain.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, err := r.unit(batchID, ordinal)
	if err != nil {
		return domain.Unit{}, err
	}
	return *unit, nil
}

// ExportBatch returns a copy of the batch aggregate, taken under the lock.
func (r *Registry) ExportBatch(batchID string) (domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, err := r.record(batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	return *record.batch, nil
}

// Evict drops a batch from the arena.
func (r *Registry) Evict(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, batchID)
}

// SweepTerminal evicts terminal batches that finished before the cutoff,
// implementing the post-terminal grace period for late observers.
func (r *Registry) SweepTerminal(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, record := range r.batches {
		if !record.batch.IsTerminal() || record.batch.FinishedAt == nil {
			continue
		}
		if record.batch.FinishedAt.Before(cutoff) {
			delete(r.batches, id)
			evicted++
		}
	}
	return evicted
}

// Len reports how many batches are held in the arena.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.batches)
}

func (r *Registry) record(batchID string) (*batchRecord, error) {
	record, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return record, nil
}

func (r *Registry) unit(batchID string, ordinal int) (*domain.Unit, error) {
	record, err := r.record(batchID)
	if err != nil {
		return nil, err
	}
	return r.unitLocked(record, ordinal)
}

func (r *Registry) unitLocked(record *batchRecord, ordinal int) (*domain.Unit, error) {
	if ordinal < 0 || ordinal >= len(record.units) {
		return nil, fmt.Errorf("%w: unit ordinal %d", domain.ErrNotFound, ordinal)
	}
	return record.units[ordinal], nil
}
