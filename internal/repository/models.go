package repository

import (
	"time"

	"provengine/internal/domain"
)

// BatchModel is the persistence model for the batches audit table.
type BatchModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Requester   string `gorm:"type:varchar(255);not null"`
	TargetCount int    `gorm:"not null"`
	Metadata    string `gorm:"type:text"`
	Completed   int    `gorm:"not null;default:0"`
	Failed      int    `gorm:"not null;default:0"`
	Aborted     int    `gorm:"not null;default:0"`
	Terminal    bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// UnitModel is the persistence model for per-unit terminal outcomes.
type UnitModel struct {
	ID         string       `gorm:"type:varchar(64);primaryKey"`
	BatchID    string       `gorm:"type:uuid;not null"`
	Ordinal    int          `gorm:"not null"`
	Stage      domain.Stage `gorm:"type:varchar(30);not null"`
	Percent    int          `gorm:"not null;default:0"`
	Username   *string      `gorm:"type:varchar(255)"`
	Email      *string      `gorm:"type:varchar(255)"`
	Phone      *string      `gorm:"type:varchar(64)"`
	FailKind   *string      `gorm:"type:varchar(40)"`
	FailReason *string      `gorm:"type:text"`
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UnitModel) TableName() string {
	return "units"
}

// OperationAttemptModel is the persistence model for operation_attempts.
type OperationAttemptModel struct {
	ID             string       `gorm:"type:uuid;primaryKey"`
	BatchID        string       `gorm:"type:uuid;not null"`
	UnitID         string       `gorm:"type:varchar(64);not null"`
	Stage          domain.Stage `gorm:"type:varchar(30);not null"`
	Operation      string       `gorm:"type:varchar(64);not null"`
	DurationMillis int64        `gorm:"not null;default:0"`
	Error          *string      `gorm:"type:text"`
	CreatedAt      time.Time
}

func (OperationAttemptModel) TableName() string {
	return "operation_attempts"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:          b.ID,
		Requester:   b.Requester,
		TargetCount: b.TargetCount,
		Metadata:    b.Metadata,
		Completed:   b.Completed,
		Failed:      b.Failed,
		Aborted:     b.Aborted,
		Terminal:    b.IsTerminal(),
		CreatedAt:   b.CreatedAt,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
	}
}

func unitModelFromDomain(u *domain.Unit) *UnitModel {
	if u == nil {
		return nil
	}

	model := &UnitModel{
		ID:         u.ID,
		BatchID:    u.BatchID,
		Ordinal:    u.Ordinal,
		Stage:      u.Stage,
		Percent:    u.Percent,
		StartedAt:  u.StartedAt,
		FinishedAt: u.FinishedAt,
	}

	if u.Result != nil {
		model.Username = optionalString(u.Result.Credentials.Username)
		model.Email = optionalString(u.Result.Email)
		model.Phone = optionalString(u.Result.Phone)
	}
	if u.Err != nil {
		model.FailKind = optionalString(string(u.Err.Kind))
		model.FailReason = optionalString(u.Err.Reason)
	}

	return model
}

func attemptModelFromDomain(a *domain.OperationAttempt) *OperationAttemptModel {
	if a == nil {
		return nil
	}

	return &OperationAttemptModel{
		ID:             a.ID,
		BatchID:        a.BatchID,
		UnitID:         a.UnitID,
		Stage:          a.Stage,
		Operation:      a.Operation,
		DurationMillis: a.DurationMillis,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
