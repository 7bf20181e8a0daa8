package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
)

type AgentRepository struct {
	BaseRepository[model.Agent]
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{BaseRepository: BaseRepository[model.Agent]{DB: db}}
}

func (r *AgentRepository) WithTx(tx *gorm.DB) *AgentRepository {
	return NewAgentRepository(tx)
}

// FindCandidates returns agents that currently pass the hard eligibility filter:
// active, available and below capacity.
func (r *AgentRepository) FindCandidates(ctx context.Context, orgID uuid.UUID, department string) ([]model.Agent, error) {
	var agents []model.Agent
	query := r.DB.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND availability_status = ? AND current_active_chats < max_concurrent_chats",
			orgID, model.AgentStatusActive, model.AvailabilityAvailable)
	if department != "" {
		query = query.Where("department = ?", department)
	}
	err := query.Order("id ASC").Find(&agents).Error
	return agents, err
}

// FindByOrganization lists every agent of an organization by name.
func (r *AgentRepository) FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]model.Agent, error) {
	var agents []model.Agent
	err := r.DB.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("display_name ASC").
		Find(&agents).Error
	return agents, err
}

// IncrementLoad takes one slot if the agent is active and below capacity.
// Zero rows affected means the slot was not available.
func (r *AgentRepository) IncrementLoad(ctx context.Context, orgID, agentID uuid.UUID) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.Agent{}).
		Where("id = ? AND organization_id = ? AND status = ? AND current_active_chats < max_concurrent_chats",
			agentID, orgID, model.AgentStatusActive).
		Updates(map[string]interface{}{
			"current_active_chats": gorm.Expr("current_active_chats + 1"),
			"last_active_at":       time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// DecrementLoad releases one slot; it never goes below zero.
func (r *AgentRepository) DecrementLoad(ctx context.Context, orgID, agentID uuid.UUID) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.Agent{}).
		Where("id = ? AND organization_id = ? AND current_active_chats > 0", agentID, orgID).
		Update("current_active_chats", gorm.Expr("current_active_chats - 1"))
	return res.RowsAffected, res.Error
}

// UpdateAvailability sets the availability status. It does not touch load or activity.
func (r *AgentRepository) UpdateAvailability(ctx context.Context, orgID, agentID uuid.UUID, availability model.Availability) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.Agent{}).
		Where("id = ? AND organization_id = ?", agentID, orgID).
		Update("availability_status", availability)
	return res.RowsAffected, res.Error
}

// TouchLastActive records agent activity at the given time.
func (r *AgentRepository) TouchLastActive(ctx context.Context, orgID, agentID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.Agent{}).
		Where("id = ? AND organization_id = ?", agentID, orgID).
		Update("last_active_at", at)
	return res.RowsAffected, res.Error
}

// FindAvailableAfter pages through agents marked available across
// organizations, in id order starting after the given id.
func (r *AgentRepository) FindAvailableAfter(ctx context.Context, after uuid.UUID, limit int) ([]model.Agent, error) {
	var agents []model.Agent
	err := r.DB.WithContext(ctx).
		Where("availability_status = ? AND id > ?", model.AvailabilityAvailable, after).
		Order("id ASC").
		Limit(limit).
		Find(&agents).Error
	return agents, err
}
