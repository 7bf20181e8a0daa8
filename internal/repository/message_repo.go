package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
)

type MessageRepository struct {
	DB *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{DB: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.ChatMessage) error {
	return r.DB.WithContext(ctx).Create(msg).Error
}

func (r *MessageRepository) FindBySession(ctx context.Context, orgID, sessionID uuid.UUID, limit int) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.DB.WithContext(ctx).
		Where("organization_id = ? AND session_id = ?", orgID, sessionID).
		Order("sent_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
