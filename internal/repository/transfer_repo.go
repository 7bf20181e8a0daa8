package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
)

type TransferRepository struct {
	DB *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{DB: db}
}

func (r *TransferRepository) WithTx(tx *gorm.DB) *TransferRepository {
	return NewTransferRepository(tx)
}

func (r *TransferRepository) Create(ctx context.Context, t *model.SessionTransfer) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *TransferRepository) FindBySession(ctx context.Context, orgID, sessionID uuid.UUID) ([]model.SessionTransfer, error) {
	var transfers []model.SessionTransfer
	err := r.DB.WithContext(ctx).
		Where("organization_id = ? AND session_id = ?", orgID, sessionID).
		Order("created_at ASC").
		Find(&transfers).Error
	return transfers, err
}
