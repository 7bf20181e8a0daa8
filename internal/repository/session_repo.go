package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
)

type SessionRepository struct {
	BaseRepository[model.ChatSession]
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{BaseRepository: BaseRepository[model.ChatSession]{DB: db}}
}

// WithTx returns a repository bound to tx.
func (r *SessionRepository) WithTx(tx *gorm.DB) *SessionRepository {
	return NewSessionRepository(tx)
}

// FindByOrganization pages through an organization's sessions, most recently active first.
func (r *SessionRepository) FindByOrganization(ctx context.Context, orgID uuid.UUID, status *model.SessionStatus, limit, offset int) ([]model.ChatSession, int64, error) {
	var sessions []model.ChatSession
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.ChatSession{}).
		Where("organization_id = ?", orgID)
	if status != nil {
		query = query.Where("session_status = ?", *status)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("last_activity_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	return sessions, total, err
}

// CompareAndSwap applies updates only if the row is still at fromStatus and
// fromVersion, bumping the version. It returns the number of rows changed.
func (r *SessionRepository) CompareAndSwap(ctx context.Context, id uuid.UUID, fromStatus model.SessionStatus, fromVersion int, updates map[string]interface{}) (int64, error) {
	updates["version"] = fromVersion + 1
	updates["updated_at"] = time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ? AND version = ? AND session_status = ?", id, fromVersion, fromStatus).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// ActivityUpdate describes a non-transition change to a session's counters.
type ActivityUpdate struct {
	At               time.Time
	MessageDelta     int
	ResetFailures    bool
	IncrementFailure bool
}

// TouchActivity records message activity on any non-closed session. It does not
// bump the version, so it never races with state transitions.
func (r *SessionRepository) TouchActivity(ctx context.Context, orgID, id uuid.UUID, u ActivityUpdate) (int64, error) {
	updates := map[string]interface{}{
		"last_activity_at": u.At,
	}
	if u.MessageDelta != 0 {
		updates["message_count"] = gorm.Expr("message_count + ?", u.MessageDelta)
	}
	switch {
	case u.ResetFailures:
		updates["failed_bot_responses"] = 0
	case u.IncrementFailure:
		updates["failed_bot_responses"] = gorm.Expr("failed_bot_responses + 1")
	}
	res := r.DB.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ? AND organization_id = ? AND session_status <> ?", id, orgID, model.SessionStatusClosed).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// FindIdleBotSessions returns bot-handled sessions of an organization whose
// last activity is before the cutoff.
func (r *SessionRepository) FindIdleBotSessions(ctx context.Context, orgID uuid.UUID, before time.Time, limit int) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.DB.WithContext(ctx).
		Where("organization_id = ? AND session_status = ? AND last_activity_at < ?", orgID, model.SessionStatusBotHandled, before).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// FindUnqueuedEscalated returns escalated sessions handed over before the
// cutoff that have no waiting queue entry, oldest hand-over first.
func (r *SessionRepository) FindUnqueuedEscalated(ctx context.Context, before time.Time, limit int) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.DB.WithContext(ctx).
		Where("session_status = ? AND handover_at < ?", model.SessionStatusEscalated, before).
		Where("NOT EXISTS (SELECT 1 FROM agent_queue q WHERE q.session_id = chat_sessions.id AND q.status = ? AND q.deleted_at IS NULL)", model.QueueStatusWaiting).
		Order("handover_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// CountActiveForAgent counts sessions holding a slot of the given agent.
func (r *SessionRepository) CountActiveForAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.ChatSession{}).
		Where("assigned_agent_id = ? AND session_status IN ?", agentID,
			[]model.SessionStatus{model.SessionStatusAgentAssigned, model.SessionStatusAgentHandling}).
		Count(&count).Error
	return count, err
}

// EscalatedSince returns sessions of an organization handed over at or after since.
func (r *SessionRepository) EscalatedSince(ctx context.Context, orgID uuid.UUID, since time.Time) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.DB.WithContext(ctx).
		Where("organization_id = ? AND handover_at IS NOT NULL AND handover_at >= ?", orgID, since).
		Find(&sessions).Error
	return sessions, err
}
