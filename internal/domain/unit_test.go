package domain

import (
	"testing"
	"time"
)

func TestUnitAdvanceHappyPath(t *testing.T) {
	t.Parallel()

	unit := NewUnit("b1", 0)
	lastPercent := unit.Percent

	current := StageInit
	for {
		next, err := current.Next()
		if err != nil {
			t.Fatalf("Next() from %s unexpected error = %v", current, err)
		}
		if err := unit.AdvanceTo(next); err != nil {
			t.Fatalf("AdvanceTo(%s) unexpected error = %v", next, err)
		}
		if unit.Percent < lastPercent {
			t.Fatalf("progress regressed at %s: %d < %d", next, unit.Percent, lastPercent)
		}
		lastPercent = unit.Percent
		current = next
		if current == StageCompleted {
			break
		}
	}

	if unit.Percent != 100 {
		t.Fatalf("final percent = %d, want 100", unit.Percent)
	}
}

func TestUnitAdvanceRejectsSkipsAndReentry(t *testing.T) {
	t.Parallel()

	unit := NewUnit("b1", 0)

	if err := unit.AdvanceTo(StageResourceAcquired); err == nil {
		t.Fatal("AdvanceTo should reject skipping PROFILE_GENERATED")
	}
	if err := unit.AdvanceTo(StageProfileGenerated); err != nil {
		t.Fatalf("AdvanceTo(PROFILE_GENERATED) unexpected error = %v", err)
	}
	if err := unit.AdvanceTo(StageProfileGenerated); err == nil {
		t.Fatal("AdvanceTo should reject re-entering the current stage")
	}
}

func TestUnitFailFreezesProgress(t *testing.T) {
	t.Parallel()

	unit := NewUnit("b1", 1)
	if err := unit.AdvanceTo(StageProfileGenerated); err != nil {
		t.Fatalf("AdvanceTo() unexpected error = %v", err)
	}
	frozen := unit.Percent

	unitErr := &UnitError{Stage: unit.Stage, Kind: FailureBackendOperation, Reason: "compute backend unavailable"}
	if err := unit.Fail(unitErr, time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("Fail() unexpected error = %v", err)
	}

	if unit.Stage != StageFailed {
		t.Fatalf("stage = %s, want FAILED", unit.Stage)
	}
	if unit.Percent != frozen {
		t.Fatalf("percent = %d, want frozen %d", unit.Percent, frozen)
	}
	if err := unit.AdvanceTo(StageResourceAcquired); err == nil {
		t.Fatal("AdvanceTo should reject transitions out of FAILED")
	}
	if err := unit.Fail(unitErr, time.Now()); err == nil {
		t.Fatal("Fail should reject a second terminal transition")
	}
}

func TestUnitAbortDistinctFromFailed(t *testing.T) {
	t.Parallel()

	unit := NewUnit("b1", 2)
	if err := unit.Abort(time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("Abort() unexpected error = %v", err)
	}

	if unit.Stage != StageAborted {
		t.Fatalf("stage = %s, want ABORTED", unit.Stage)
	}
	if unit.Err == nil || unit.Err.Kind != FailureCanceled {
		t.Fatalf("unit error = %+v, want kind CANCELED", unit.Err)
	}
}

func TestUnitAttachHandle(t *testing.T) {
	t.Parallel()

	unit := NewUnit("b1", 0)
	handle := &ResourceHandle{ID: "h1", Capability: CapabilityCompute, AcquiredAt: time.Now()}

	if err := unit.AttachHandle(handle); err != nil {
		t.Fatalf("AttachHandle() unexpected error = %v", err)
	}
	if err := unit.AttachHandle(handle); err == nil {
		t.Fatal("AttachHandle should reject a duplicate capability")
	}

	held := unit.HeldHandles()
	if len(held) != 1 || held[0].ID != "h1" {
		t.Fatalf("HeldHandles() = %+v, want the attached handle", held)
	}
}
