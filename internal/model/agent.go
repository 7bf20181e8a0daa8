package model

import (
	"time"

	"github.com/google/uuid"
)

type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusInactive  AgentStatus = "inactive"
	AgentStatusSuspended AgentStatus = "suspended"
)

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
	AvailabilityOffline   Availability = "offline"
)

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityAway, AvailabilityOffline:
		return true
	}
	return false
}

type Agent struct {
	BaseModel
	OrganizationID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"organization_id"`
	DisplayName        string       `gorm:"size:255;not null" json:"display_name"`
	Department         string       `gorm:"size:100;index" json:"department,omitempty"`
	MaxConcurrentChats int          `gorm:"not null;default:5" json:"max_concurrent_chats"`
	CurrentActiveChats int          `gorm:"not null;default:0" json:"current_active_chats"`
	Status             AgentStatus  `gorm:"size:20;not null;default:'active'" json:"status"`
	AvailabilityStatus Availability `gorm:"size:20;not null;default:'offline'" json:"availability_status"`
	Skills             StringSet    `gorm:"type:text" json:"skills"`
	Languages          StringSet    `gorm:"type:text" json:"languages"`
	PerformanceScore   float64      `gorm:"not null" json:"performance_score"`
	LastActiveAt       *time.Time   `json:"last_active_at,omitempty"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) HasCapacity() bool {
	return a.CurrentActiveChats < a.MaxConcurrentChats
}

// Eligible reports whether the agent may take a new conversation right now.
func (a *Agent) Eligible() bool {
	return a.Status == AgentStatusActive && a.AvailabilityStatus == AvailabilityAvailable && a.HasCapacity()
}
