package model

import (
	"github.com/google/uuid"
)

type EscalationConfig struct {
	BaseModel
	OrganizationID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"organization_id"`
	Enabled                    bool      `gorm:"not null;default:false" json:"enabled"`
	EscalationTimeoutMinutes   int       `gorm:"not null;default:0" json:"escalation_timeout_minutes" validate:"gte=0,lte=10080"`
	MaxFailedResponses         int       `gorm:"not null" json:"max_failed_responses" validate:"gte=0,lte=100"`
	EscalationKeywords         StringSet `gorm:"type:text" json:"escalation_keywords" validate:"dive,max=200"`
	NegativeSentimentKeywords  StringSet `gorm:"type:text" json:"negative_sentiment_keywords" validate:"dive,max=200"`
	NegativeSentimentThreshold *float64  `json:"negative_sentiment_threshold,omitempty" validate:"omitempty,gte=-1,lte=1"`
	AutoAssignAgent            bool      `gorm:"not null" json:"auto_assign_agent"`
	NotifyAgent                bool      `gorm:"not null" json:"notify_agent"`
}

func (EscalationConfig) TableName() string {
	return "escalation_configs"
}

// DefaultEscalationConfig is used when an organization has no stored config or
// the stored one is invalid: escalation disabled, manual override still possible.
func DefaultEscalationConfig(orgID uuid.UUID) *EscalationConfig {
	return &EscalationConfig{
		OrganizationID:     orgID,
		Enabled:            false,
		MaxFailedResponses: 3,
		AutoAssignAgent:    true,
		NotifyAgent:        true,
	}
}
