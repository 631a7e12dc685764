package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewBatchValidation(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	if _, err := NewBatch("b1", "", 3, "", now); !errors.Is(err, ErrValidation) {
		t.Fatalf("NewBatch empty requester error = %v, want ErrValidation", err)
	}
	if _, err := NewBatch("b1", "req-1", 0, "", now); !errors.Is(err, ErrValidation) {
		t.Fatalf("NewBatch zero count error = %v, want ErrValidation", err)
	}
	if _, err := NewBatch("b1", "req-1", MaxBatchUnits+1, "", now); !errors.Is(err, ErrValidation) {
		t.Fatalf("NewBatch oversized count error = %v, want ErrValidation", err)
	}

	batch, err := NewBatch("b1", " req-1 ", 3, " order-42 ", now)
	if err != nil {
		t.Fatalf("NewBatch() unexpected error = %v", err)
	}
	if batch.Requester != "req-1" || batch.Metadata != "order-42" {
		t.Fatalf("NewBatch() did not trim fields: %+v", batch)
	}
}

func TestBatchCounterInvariant(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	batch, err := NewBatch("b1", "req-1", 3, "", now)
	if err != nil {
		t.Fatalf("NewBatch() unexpected error = %v", err)
	}

	outcomes := []Stage{StageCompleted, StageFailed, StageAborted}
	for i, stage := range outcomes {
		if batch.IsTerminal() {
			t.Fatalf("batch terminal after %d outcomes, want %d", i, len(outcomes))
		}
		if err := batch.RecordOutcome(stage, now); err != nil {
			t.Fatalf("RecordOutcome(%s) unexpected error = %v", stage, err)
		}
		if batch.TerminalCount() > batch.TargetCount {
			t.Fatalf("invariant violated: terminal=%d target=%d", batch.TerminalCount(), batch.TargetCount)
		}
	}

	if !batch.IsTerminal() {
		t.Fatal("batch should be terminal after all outcomes recorded")
	}
	if batch.FinishedAt == nil {
		t.Fatal("FinishedAt should be set on the terminal outcome")
	}

	if err := batch.RecordOutcome(StageCompleted, now); !errors.Is(err, ErrBatchTerminal) {
		t.Fatalf("RecordOutcome past terminal error = %v, want ErrBatchTerminal", err)
	}
}

func TestBatchRecordOutcomeRejectsNonTerminalStage(t *testing.T) {
	t.Parallel()

	batch, err := NewBatch("b1", "req-1", 1, "", time.Now())
	if err != nil {
		t.Fatalf("NewBatch() unexpected error = %v", err)
	}
	if err := batch.RecordOutcome(StageRegistered, time.Now()); err == nil {
		t.Fatal("RecordOutcome should reject non-terminal stages")
	}
}
