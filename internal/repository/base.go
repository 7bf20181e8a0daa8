package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BaseRepository[T any] struct {
	DB *gorm.DB
}

func (r *BaseRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.DB.WithContext(ctx).Create(entity).Error
}

func (r *BaseRepository[T]) Update(ctx context.Context, entity *T) error {
	return r.DB.WithContext(ctx).Save(entity).Error
}

func (r *BaseRepository[T]) FindByID(ctx context.Context, id uuid.UUID) (*T, error) {
	var entity T
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindByIDAndOrg scopes the lookup to one organization.
func (r *BaseRepository[T]) FindByIDAndOrg(ctx context.Context, orgID, id uuid.UUID) (*T, error) {
	var entity T
	err := r.DB.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&entity).Error
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
