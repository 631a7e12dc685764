package domain

import (
	"fmt"
	"strings"
)

// Stage is one step in a unit's fixed provisioning lifecycle.
type Stage string

const (
	StageInit             Stage = "INIT"
	StageProfileGenerated Stage = "PROFILE_GENERATED"
	StageResourceAcquired Stage = "RESOURCE_ACQUIRED"
	StageAppProvisioned   Stage = "APP_PROVISIONED"
	StageEmailAcquired    Stage = "EMAIL_ACQUIRED"
	StagePhoneAcquired    Stage = "PHONE_ACQUIRED"
	StageRegistered       Stage = "REGISTERED"
	StageVerified         Stage = "VERIFIED"
	StageWarmed           Stage = "WARMED"
	StageHardened         Stage = "HARDENED"
	StageCompleted        Stage = "COMPLETED"
	StageFailed           Stage = "FAILED"
	StageAborted          Stage = "ABORTED"
)

// stageOrder is the canonical happy-path order. FAILED and ABORTED are
// absorbing terminals reachable from any non-terminal stage and are not
// part of the linear sequence.
var stageOrder = []Stage{
	StageInit,
	StageProfileGenerated,
	StageResourceAcquired,
	StageAppProvisioned,
	StageEmailAcquired,
	StagePhoneAcquired,
	StageRegistered,
	StageVerified,
	StageWarmed,
	StageHardened,
	StageCompleted,
}

// stagePercent maps each happy-path stage to its fixed progress value.
// The mapping is strictly non-decreasing along stageOrder.
var stagePercent = map[Stage]int{
	StageInit:             0,
	StageProfileGenerated: 10,
	StageResourceAcquired: 20,
	StageAppProvisioned:   30,
	StageEmailAcquired:    40,
	StagePhoneAcquired:    50,
	StageRegistered:       65,
	StageVerified:         80,
	StageWarmed:           90,
	StageHardened:         95,
	StageCompleted:        100,
}

// stageStep holds the human-readable current-step description shown for a
// unit that has just entered the stage.
var stageStep = map[Stage]string{
	StageInit:             "waiting for slot",
	StageProfileGenerated: "device profile generated",
	StageResourceAcquired: "compute session acquired",
	StageAppProvisioned:   "application provisioned",
	StageEmailAcquired:    "email address acquired",
	StagePhoneAcquired:    "phone number leased",
	StageRegistered:       "account registered",
	StageVerified:         "verification confirmed",
	StageWarmed:           "warm-up finished",
	StageHardened:         "hardening finished",
	StageCompleted:        "done",
	StageFailed:           "failed",
	StageAborted:          "aborted",
}

func (s Stage) String() string { return string(s) }

func (s Stage) IsValid() bool {
	if s == StageFailed || s == StageAborted {
		return true
	}
	_, ok := stagePercent[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageAborted
}

// Percent returns the fixed progress value for the stage. FAILED and
// ABORTED carry no value of their own; the unit keeps its frozen percent.
func (s Stage) Percent() (int, bool) {
	p, ok := stagePercent[s]
	return p, ok
}

// Step returns the human-readable step description for the stage.
func (s Stage) Step() string {
	if step, ok := stageStep[s]; ok {
		return step
	}
	return strings.ToLower(string(s))
}

// Index returns the stage's position in the canonical order, or -1 for
// FAILED/ABORTED and unknown stages.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s in the canonical order.
func (s Stage) Next() (Stage, error) {
	idx := s.Index()
	if idx < 0 {
		return "", fmt.Errorf("stage %q has no successor", s)
	}
	if idx == len(stageOrder)-1 {
		return "", fmt.Errorf("stage %q is the final stage", s)
	}
	return stageOrder[idx+1], nil
}

func ParseStageFromString(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid stage %q", ErrValidation, s)
	}
	return st, nil
}

// StageCount is the number of happy-path stages including INIT and COMPLETED.
func StageCount() int { return len(stageOrder) }
