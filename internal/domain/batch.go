package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxBatchUnits bounds how many units a single batch may request.
const MaxBatchUnits = 100

// NotifyTarget identifies the external chat channel and the message that
// receives in-place progress updates. MessageID is zero until the initial
// announcement has been delivered.
type NotifyTarget struct {
	ChatID    int64
	MessageID int
}

// Batch is a requested group of units submitted together. Aggregate
// counters are the only state mutated by multiple concurrent units and are
// serialized behind the registry's lock.
type Batch struct {
	ID          string
	Requester   string
	TargetCount int
	// Metadata is an opaque business tag carried through for the
	// requester (payment reference, order id, and the like).
	Metadata string

	Notify NotifyTarget

	Completed int
	Failed    int
	Aborted   int

	Started bool

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func NewBatch(id, requester string, targetCount int, metadata string, at time.Time) (*Batch, error) {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return nil, fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if targetCount < 1 {
		return nil, fmt.Errorf("%w: unit count must be at least 1", ErrValidation)
	}
	if targetCount > MaxBatchUnits {
		return nil, fmt.Errorf("%w: unit count exceeds %d", ErrValidation, MaxBatchUnits)
	}

	return &Batch{
		ID:          id,
		Requester:   requester,
		TargetCount: targetCount,
		Metadata:    strings.TrimSpace(metadata),
		CreatedAt:   at,
	}, nil
}

// RecordOutcome increments the aggregate counter for a terminal unit stage
// while preserving completed+failed+aborted <= target.
func (b *Batch) RecordOutcome(stage Stage, at time.Time) error {
	if b.IsTerminal() {
		return fmt.Errorf("%w: batch %s", ErrBatchTerminal, b.ID)
	}

	switch stage {
	case StageCompleted:
		b.Completed++
	case StageFailed:
		b.Failed++
	case StageAborted:
		b.Aborted++
	default:
		return fmt.Errorf("stage %s is not terminal", stage)
	}

	if b.IsTerminal() {
		b.FinishedAt = &at
	}
	return nil
}

// TerminalCount returns how many units have reached a terminal stage.
func (b *Batch) TerminalCount() int {
	return b.Completed + b.Failed + b.Aborted
}

// IsTerminal reports whether every unit has reached a terminal stage.
func (b *Batch) IsTerminal() bool {
	return b.TerminalCount() == b.TargetCount
}
