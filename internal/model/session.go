package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusBotHandled    SessionStatus = "bot_handled"
	SessionStatusEscalated     SessionStatus = "escalated"
	SessionStatusAgentAssigned SessionStatus = "agent_assigned"
	SessionStatusAgentHandling SessionStatus = "agent_handling"
	SessionStatusResolved      SessionStatus = "resolved"
	SessionStatusClosed        SessionStatus = "closed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusBotHandled, SessionStatusEscalated, SessionStatusAgentAssigned,
		SessionStatusAgentHandling, SessionStatusResolved, SessionStatusClosed:
		return true
	}
	return false
}

// HoldsAgentSlot reports whether a session in this status counts against the
// assigned agent's capacity.
func (s SessionStatus) HoldsAgentSlot() bool {
	return s == SessionStatusAgentAssigned || s == SessionStatusAgentHandling
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts "normal" as an alias of medium. Unknown values map to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh, PriorityUrgent:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Rank orders priorities for the agent queue; higher is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 2
	}
}

// PriorityFromRank is the inverse of Rank.
func PriorityFromRank(rank int) Priority {
	switch {
	case rank <= 1:
		return PriorityLow
	case rank == 2:
		return PriorityMedium
	case rank == 3:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

type OwnerKind string

const (
	OwnerBot   OwnerKind = "bot"
	OwnerHuman OwnerKind = "human"
)

// SessionOwner is either a bot personality or a human agent, never both.
type SessionOwner struct {
	kind          OwnerKind
	personalityID *uuid.UUID
	agentID       uuid.UUID
}

func BotOwner(personalityID *uuid.UUID) SessionOwner {
	return SessionOwner{kind: OwnerBot, personalityID: personalityID}
}

func HumanOwner(agentID uuid.UUID) SessionOwner {
	return SessionOwner{kind: OwnerHuman, agentID: agentID}
}

func (o SessionOwner) Kind() OwnerKind { return o.kind }

func (o SessionOwner) IsBot() bool { return o.kind == OwnerBot }

// AgentID returns the owning agent; ok is false for bot owners.
func (o SessionOwner) AgentID() (uuid.UUID, bool) {
	if o.kind != OwnerHuman {
		return uuid.Nil, false
	}
	return o.agentID, true
}

func (o SessionOwner) PersonalityID() *uuid.UUID {
	return o.personalityID
}

type ChatSession struct {
	BaseModel
	OrganizationID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"organization_id"`
	CustomerID         uuid.UUID     `gorm:"type:uuid;not null;index" json:"customer_id"`
	IsBotSession       bool          `gorm:"not null;default:true" json:"is_bot_session"`
	BotPersonalityID   *uuid.UUID    `gorm:"type:uuid" json:"bot_personality_id,omitempty"`
	AssignedAgentID    *uuid.UUID    `gorm:"type:uuid;index" json:"assigned_agent_id,omitempty"`
	SessionStatus      SessionStatus `gorm:"size:32;not null;index;default:'bot_handled'" json:"session_status"`
	IsActive           bool          `gorm:"not null;default:true" json:"is_active"`
	Priority           Priority      `gorm:"size:16;not null;default:'medium'" json:"priority"`
	HandoverReason     string        `gorm:"type:text" json:"handover_reason,omitempty"`
	EscalationCount    int           `gorm:"not null;default:0" json:"escalation_count"`
	MessageCount       int           `gorm:"not null;default:0" json:"message_count"`
	FailedBotResponses int           `gorm:"not null;default:0" json:"failed_bot_responses"`
	IsResolved         bool          `gorm:"not null;default:false" json:"is_resolved"`
	SatisfactionRating *int          `json:"satisfaction_rating,omitempty"`
	ResolutionTime     *int64        `json:"resolution_time,omitempty"`
	ResolutionNotes    string        `gorm:"type:text" json:"resolution_notes,omitempty"`
	StartedAt          time.Time     `gorm:"not null" json:"started_at"`
	LastActivityAt     time.Time     `gorm:"not null;index" json:"last_activity_at"`
	HandoverAt         *time.Time    `json:"handover_at,omitempty"`
	AssignedAt         *time.Time    `json:"assigned_at,omitempty"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
	Version            int           `gorm:"not null;default:1" json:"version"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// Owner reads the ownership columns as a SessionOwner.
func (s *ChatSession) Owner() SessionOwner {
	if !s.IsBotSession && s.AssignedAgentID != nil {
		return HumanOwner(*s.AssignedAgentID)
	}
	return BotOwner(s.BotPersonalityID)
}

// SetOwner is the only place the ownership columns are written.
func (s *ChatSession) SetOwner(o SessionOwner) {
	if id, ok := o.AgentID(); ok {
		agent := id
		s.IsBotSession = false
		s.AssignedAgentID = &agent
		return
	}
	s.IsBotSession = true
	s.AssignedAgentID = nil
	s.BotPersonalityID = o.PersonalityID()
}

func (s *ChatSession) IsClosed() bool {
	return s.SessionStatus == SessionStatusClosed
}

// OwnershipColumns returns the columns written by SetOwner, for partial updates.
func (s *ChatSession) OwnershipColumns() map[string]interface{} {
	return map[string]interface{}{
		"is_bot_session":     s.IsBotSession,
		"assigned_agent_id":  s.AssignedAgentID,
		"bot_personality_id": s.BotPersonalityID,
	}
}

type TransferKind string

const (
	TransferKindAssignment TransferKind = "assignment"
	TransferKindTransfer   TransferKind = "transfer"
	TransferKindEscalation TransferKind = "escalation"
)

// SessionTransfer is an append-only record of every hand-off a session went through.
type SessionTransfer struct {
	BaseModel
	OrganizationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"organization_id"`
	SessionID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"session_id"`
	FromAgentID    *uuid.UUID   `gorm:"type:uuid" json:"from_agent_id,omitempty"`
	ToAgentID      uuid.UUID    `gorm:"type:uuid;not null" json:"to_agent_id"`
	Kind           TransferKind `gorm:"size:32;not null" json:"kind"`
	Notes          string       `gorm:"type:text" json:"notes,omitempty"`
	Reason         string       `gorm:"type:text" json:"reason,omitempty"`
}

func (SessionTransfer) TableName() string {
	return "session_transfers"
}
