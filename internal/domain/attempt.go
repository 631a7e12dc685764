package domain

import "time"

// OperationAttempt records a single backend operation executed while
// driving a unit, kept for post-hoc auditing.
type OperationAttempt struct {
	ID             string
	BatchID        string
	UnitID         string
	Stage          Stage
	Operation      string
	DurationMillis int64
	Error          *string
	CreatedAt      time.Time
}
