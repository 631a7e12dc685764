package domain

import "time"

// UnitSnapshot is a shallow read-only view of one unit.
type UnitSnapshot struct {
	ID      string
	Ordinal int
	Stage   Stage
	Percent int
	Step    string
	Err     *UnitError
}

// BatchSnapshot is a consistent read-only view of a batch and its units,
// taken under the registry lock so no unit is observed mid-mutation.
type BatchSnapshot struct {
	BatchID     string
	Requester   string
	TargetCount int
	Metadata    string

	Completed int
	Failed    int
	Aborted   int
	Terminal  bool

	// OverallPercent is the mean of all unit percentages, 0-100.
	OverallPercent int

	Units []UnitSnapshot

	CreatedAt  time.Time
	FinishedAt *time.Time
}

// InFlight returns how many units hold resources: started but not terminal.
func (s BatchSnapshot) InFlight() int {
	n := 0
	for _, u := range s.Units {
		if u.Stage != StageInit && !u.Stage.IsTerminal() {
			n++
		}
	}
	return n
}
