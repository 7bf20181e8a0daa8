package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusAssigned  QueueStatus = "assigned"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// AgentQueueEntry is a session waiting for a human agent.
type AgentQueueEntry struct {
	BaseModel
	OrganizationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"organization_id"`
	SessionID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"session_id"`
	TargetAgentID  *uuid.UUID   `gorm:"type:uuid" json:"target_agent_id,omitempty"`
	Status         QueueStatus  `gorm:"size:20;not null;default:'waiting';index" json:"status"`
	Priority       int          `gorm:"not null;default:2" json:"priority"`
	Reason         string       `gorm:"type:text" json:"reason,omitempty"`
	RequiredSkills StringSet    `gorm:"type:text" json:"required_skills,omitempty"`
	Department     string       `gorm:"size:100" json:"department,omitempty"`
	Language       string       `gorm:"size:20" json:"language,omitempty"`
	EnqueuedAt     time.Time    `gorm:"not null;index" json:"enqueued_at"`
	AssignedTo     *uuid.UUID   `gorm:"type:uuid" json:"assigned_to,omitempty"`
	AssignedAt     *time.Time   `json:"assigned_at,omitempty"`
	Session        *ChatSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

func (AgentQueueEntry) TableName() string {
	return "agent_queue"
}
