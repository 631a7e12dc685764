package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"provengine/internal/domain"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	Finalize(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*BatchModel, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	return r.db.WithContext(ctx).Create(model).Error
}

// Finalize writes the terminal counters once the batch is done.
func (r *GormBatchRepo) Finalize(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return nil
	}

	finishedAt := b.FinishedAt
	if finishedAt == nil {
		now := time.Now().UTC()
		finishedAt = &now
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"completed":   b.Completed,
			"failed":      b.Failed,
			"aborted":     b.Aborted,
			"terminal":    true,
			"started_at":  b.StartedAt,
			"finished_at": finishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*BatchModel, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}
