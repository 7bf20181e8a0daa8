package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
)

type QueueRepository struct {
	DB *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{DB: db}
}

func (r *QueueRepository) WithTx(tx *gorm.DB) *QueueRepository {
	return NewQueueRepository(tx)
}

func (r *QueueRepository) Create(ctx context.Context, item *model.AgentQueueEntry) error {
	return r.DB.WithContext(ctx).Create(item).Error
}

// FindWaiting lists waiting entries in service order.
func (r *QueueRepository) FindWaiting(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.AgentQueueEntry, int64, error) {
	var items []model.AgentQueueEntry
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("organization_id = ? AND status = ?", orgID, model.QueueStatusWaiting).
		Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Preload("Session").Order("priority DESC, enqueued_at ASC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// FindWaitingBySession returns the single waiting entry of a session, if any.
func (r *QueueRepository) FindWaitingBySession(ctx context.Context, orgID, sessionID uuid.UUID) (*model.AgentQueueEntry, error) {
	var item model.AgentQueueEntry
	err := r.DB.WithContext(ctx).
		Where("organization_id = ? AND session_id = ? AND status = ?", orgID, sessionID, model.QueueStatusWaiting).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkAssigned closes the waiting entry of a session.
func (r *QueueRepository) MarkAssigned(ctx context.Context, orgID, sessionID, agentID uuid.UUID) error {
	now := time.Now().UTC()
	return r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("organization_id = ? AND session_id = ? AND status = ?", orgID, sessionID, model.QueueStatusWaiting).
		Updates(map[string]interface{}{
			"status":      model.QueueStatusAssigned,
			"assigned_to": agentID,
			"assigned_at": now,
		}).Error
}

// CancelBySession cancels the waiting entry of a session, if any.
func (r *QueueRepository) CancelBySession(ctx context.Context, orgID, sessionID uuid.UUID) error {
	return r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("organization_id = ? AND session_id = ? AND status = ?", orgID, sessionID, model.QueueStatusWaiting).
		Update("status", model.QueueStatusCancelled).Error
}

// GetPosition returns the 1-based position of a waiting entry in service order.
func (r *QueueRepository) GetPosition(ctx context.Context, item *model.AgentQueueEntry) (int64, error) {
	var ahead int64
	err := r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("organization_id = ? AND status = ? AND id <> ?", item.OrganizationID, model.QueueStatusWaiting, item.ID).
		Where("priority > ? OR (priority = ? AND enqueued_at < ?)", item.Priority, item.Priority, item.EnqueuedAt).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

func (r *QueueRepository) CountWaiting(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("organization_id = ? AND status = ?", orgID, model.QueueStatusWaiting).
		Count(&count).Error
	return count, err
}

// OrganizationsWithWaiting lists organizations that have at least one waiting entry.
func (r *QueueRepository) OrganizationsWithWaiting(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB.WithContext(ctx).Model(&model.AgentQueueEntry{}).
		Where("status = ?", model.QueueStatusWaiting).
		Distinct().
		Pluck("organization_id", &ids).Error
	return ids, err
}
