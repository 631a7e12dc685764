package domain

import (
	"fmt"
	"time"
)

// Credentials is the secret material produced by a successful registration.
type Credentials struct {
	Username string
	Password string
}

// UnitResult is the output record of a COMPLETED unit, handed to the
// downstream export subsystem.
type UnitResult struct {
	UnitID      string
	BatchID     string
	Ordinal     int
	Credentials Credentials
	Email       string
	Phone       string
	Metadata    map[string]string
	CompletedAt time.Time
}

// Unit is one provisioning job inside a batch. A unit is mutated only by
// the goroutine driving it (through the registry's single-writer
// accessors) and becomes immutable once terminal.
type Unit struct {
	ID      string
	BatchID string
	Ordinal int

	Stage   Stage
	Percent int
	Step    string

	Handles map[Capability]*ResourceHandle

	Result *UnitResult
	Err    *UnitError

	StartedAt  *time.Time
	FinishedAt *time.Time
}

func NewUnit(batchID string, ordinal int) *Unit {
	return &Unit{
		ID:      fmt.Sprintf("%s/%d", batchID, ordinal),
		BatchID: batchID,
		Ordinal: ordinal,
		Stage:   StageInit,
		Percent: 0,
		Step:    StageInit.Step(),
		Handles: make(map[Capability]*ResourceHandle),
	}
}

// AdvanceTo moves the unit to the next happy-path stage. Transitions must
// follow the canonical order exactly; skipping and re-entry are rejected.
func (u *Unit) AdvanceTo(stage Stage) error {
	if u.Stage.IsTerminal() {
		return fmt.Errorf("unit %s is terminal at %s", u.ID, u.Stage)
	}

	next, err := u.Stage.Next()
	if err != nil {
		return err
	}
	if stage != next {
		return fmt.Errorf("unit %s: transition %s -> %s is out of order (expected %s)", u.ID, u.Stage, stage, next)
	}

	percent, ok := stage.Percent()
	if !ok {
		return fmt.Errorf("unit %s: stage %s has no progress value", u.ID, stage)
	}
	if percent < u.Percent {
		return fmt.Errorf("unit %s: progress would regress from %d to %d", u.ID, u.Percent, percent)
	}

	u.Stage = stage
	u.Percent = percent
	u.Step = stage.Step()
	return nil
}

// Complete records the unit result and moves the unit to COMPLETED.
func (u *Unit) Complete(result *UnitResult, at time.Time) error {
	if err := u.AdvanceTo(StageCompleted); err != nil {
		return err
	}
	u.Result = result
	u.FinishedAt = &at
	return nil
}

// Fail moves the unit to FAILED, freezing its progress at the current value.
func (u *Unit) Fail(unitErr *UnitError, at time.Time) error {
	if u.Stage.IsTerminal() {
		return fmt.Errorf("unit %s is terminal at %s", u.ID, u.Stage)
	}
	u.Stage = StageFailed
	u.Step = StageFailed.Step()
	u.Err = unitErr
	u.FinishedAt = &at
	return nil
}

// Abort moves the unit to ABORTED on batch cancellation. ABORTED is kept
// distinct from FAILED so cancellation is distinguishable in reporting.
func (u *Unit) Abort(at time.Time) error {
	if u.Stage.IsTerminal() {
		return fmt.Errorf("unit %s is terminal at %s", u.ID, u.Stage)
	}
	from := u.Stage
	u.Stage = StageAborted
	u.Step = StageAborted.Step()
	u.Err = &UnitError{Stage: from, Kind: FailureCanceled, Reason: "batch canceled"}
	u.FinishedAt = &at
	return nil
}

// AttachHandle records ownership of an acquired resource.
func (u *Unit) AttachHandle(handle *ResourceHandle) error {
	if handle == nil {
		return fmt.Errorf("unit %s: nil resource handle", u.ID)
	}
	if _, exists := u.Handles[handle.Capability]; exists {
		return fmt.Errorf("unit %s: handle for %s already attached", u.ID, handle.Capability)
	}
	u.Handles[handle.Capability] = handle
	return nil
}

// HeldHandles returns the handles currently owned by the unit.
func (u *Unit) HeldHandles() []*ResourceHandle {
	handles := make([]*ResourceHandle, 0, len(u.Handles))
	for _, capability := range Capabilities {
		if h, ok := u.Handles[capability]; ok {
			handles = append(handles, h)
		}
	}
	return handles
}
