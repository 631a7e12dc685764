package repository

import (
	"context"

	"gorm.io/gorm"

	"provengine/internal/domain"
)

type UnitRepository interface {
	CreateBatch(ctx context.Context, units []*domain.Unit) error
	RecordOutcome(ctx context.Context, unit *domain.Unit) error
	ListByBatchID(ctx context.Context, batchID string) ([]UnitModel, error)
}

type GormUnitRepo struct {
	db *gorm.DB
}

func NewGormUnitRepo(db *gorm.DB) *GormUnitRepo {
	return &GormUnitRepo{db: db}
}

func (r *GormUnitRepo) CreateBatch(ctx context.Context, units []*domain.Unit) error {
	models := make([]UnitModel, 0, len(units))
	for _, unit := range units {
		if model := unitModelFromDomain(unit); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, 100).Error
}

// RecordOutcome overwrites the audit row with the unit's terminal state.
func (r *GormUnitRepo) RecordOutcome(ctx context.Context, unit *domain.Unit) error {
	model := unitModelFromDomain(unit)
	if model == nil {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&UnitModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"stage":       model.Stage,
			"percent":     model.Percent,
			"username":    model.Username,
			"email":       model.Email,
			"phone":       model.Phone,
			"fail_kind":   model.FailKind,
			"fail_reason": model.FailReason,
			"started_at":  model.StartedAt,
			"finished_at": model.FinishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormUnitRepo) ListByBatchID(ctx context.Context, batchID string) ([]UnitModel, error) {
	var models []UnitModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("ordinal ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return models, nil
}
