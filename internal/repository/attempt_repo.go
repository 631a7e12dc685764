package repository

import (
	"context"

	"gorm.io/gorm"

	"provengine/internal/domain"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.OperationAttempt) error
	ListByUnitID(ctx context.Context, unitID string) ([]OperationAttemptModel, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.OperationAttempt) error {
	model := attemptModelFromDomain(a)
	if model == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormAttemptRepo) ListByUnitID(ctx context.Context, unitID string) ([]OperationAttemptModel, error) {
	var models []OperationAttemptModel
	err := r.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return models, nil
}
