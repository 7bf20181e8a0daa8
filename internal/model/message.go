package model

import (
	"time"

	"github.com/google/uuid"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBot      SenderType = "bot"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

type ChatMessage struct {
	BaseModel
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"organization_id"`
	SessionID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"session_id"`
	SenderType     SenderType `gorm:"size:20;not null" json:"sender_type"`
	SenderID       *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`
	Content        string     `gorm:"type:text" json:"content"`
	BotFailed      bool       `gorm:"not null;default:false" json:"bot_failed,omitempty"`
	SentimentScore *float64   `json:"sentiment_score,omitempty"`
	Metadata       JSONMap    `gorm:"type:text" json:"metadata,omitempty"`
	SentAt         time.Time  `gorm:"not null" json:"sent_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
