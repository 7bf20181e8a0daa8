package service

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

// SessionRef addresses one session. When ExpectedVersion is set the
// transition is rejected unless the stored version still matches.
type SessionRef struct {
	OrganizationID  uuid.UUID
	SessionID       uuid.UUID
	ExpectedVersion *int
}

// AssignOptions carries the optional context of an assignment.
type AssignOptions struct {
	Reason string
	Notes  string
}

// OpenSessionRequest describes a new bot-handled conversation.
type OpenSessionRequest struct {
	OrganizationID   uuid.UUID
	CustomerID       uuid.UUID
	BotPersonalityID *uuid.UUID
	Priority         model.Priority
}

// StateMachine is the only writer of session ownership and agent load counters.
// Every transition runs in one transaction: the session row is updated with a
// version compare-and-swap, and agent counters with conditional updates.
type StateMachine struct {
	db      *gorm.DB
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStateMachine creates the state machine over db.
func NewStateMachine(db *gorm.DB, log logrus.FieldLogger, m *metrics.Metrics) *StateMachine {
	return &StateMachine{
		db:      db,
		log:     log.WithField("component", "state_machine"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type transitionPlan struct {
	op      string
	allowed []model.SessionStatus
	// apply mutates the in-memory session and returns the columns to write.
	apply func(s *model.ChatSession, now time.Time) (map[string]interface{}, error)
	// effects runs after the session row was swapped, inside the same transaction.
	effects func(ctx context.Context, tx *gorm.DB, before, after *model.ChatSession) error
}

// Open creates a bot-handled session.
func (m *StateMachine) Open(ctx context.Context, req OpenSessionRequest) (*model.ChatSession, error) {
	if req.OrganizationID == uuid.Nil || req.CustomerID == uuid.Nil {
		return nil, newError(KindInvalidRequest, "organization_id and customer_id are required")
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	now := m.now()
	s := &model.ChatSession{
		OrganizationID: req.OrganizationID,
		CustomerID:     req.CustomerID,
		SessionStatus:  model.SessionStatusBotHandled,
		IsActive:       true,
		Priority:       priority,
		StartedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}
	s.SetOwner(model.BotOwner(req.BotPersonalityID))

	if err := repository.NewSessionRepository(m.db).Create(ctx, s); err != nil {
		return nil, wrapError(KindInternal, err, "create session")
	}
	m.log.WithFields(logrus.Fields{
		"session_id":      s.ID,
		"organization_id": s.OrganizationID,
	}).Info("session opened")
	return s, nil
}

// Get loads a session without changing it.
func (m *StateMachine) Get(ctx context.Context, orgID, sessionID uuid.UUID) (*model.ChatSession, error) {
	s, err := repository.NewSessionRepository(m.db).FindByIDAndOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, notFoundOr(err, "session")
	}
	return s, nil
}

// RequestHumanIntervention moves a bot-handled session to escalated.
func (m *StateMachine) RequestHumanIntervention(ctx context.Context, ref SessionRef, reason string) (*model.ChatSession, error) {
	return m.transition(ctx, ref, transitionPlan{
		op:      "request human intervention for",
		allowed: []model.SessionStatus{model.SessionStatusBotHandled},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			s.SessionStatus = model.SessionStatusEscalated
			s.HandoverReason = reason
			s.HandoverAt = &now
			return map[string]interface{}{
				"session_status":  s.SessionStatus,
				"handover_reason": reason,
				"handover_at":     now,
			}, nil
		},
	})
}

// AssignToAgent hands an escalated or bot-handled session to agentID, taking
// one of the agent's slots.
func (m *StateMachine) AssignToAgent(ctx context.Context, ref SessionRef, agentID uuid.UUID, opts AssignOptions) (*model.ChatSession, error) {
	if agentID == uuid.Nil {
		return nil, newError(KindInvalidRequest, "agent_id is required")
	}
	return m.transition(ctx, ref, transitionPlan{
		op:      "assign",
		allowed: []model.SessionStatus{model.SessionStatusBotHandled, model.SessionStatusEscalated},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			s.SetOwner(model.HumanOwner(agentID))
			s.SessionStatus = model.SessionStatusAgentAssigned
			s.AssignedAt = &now
			updates := s.OwnershipColumns()
			updates["session_status"] = s.SessionStatus
			updates["assigned_at"] = now
			if s.HandoverAt == nil {
				s.HandoverAt = &now
				updates["handover_at"] = now
			}
			if s.HandoverReason == "" && opts.Reason != "" {
				s.HandoverReason = opts.Reason
				updates["handover_reason"] = opts.Reason
			}
			return updates, nil
		},
		effects: func(ctx context.Context, tx *gorm.DB, before, after *model.ChatSession) error {
			if err := m.takeSlot(ctx, tx, after.OrganizationID, agentID); err != nil {
				return err
			}
			if err := repository.NewQueueRepository(tx).MarkAssigned(ctx, after.OrganizationID, after.ID, agentID); err != nil {
				return wrapError(KindInternal, err, "close queue entry")
			}
			return m.recordTransfer(ctx, tx, after, nil, agentID, model.TransferKindAssignment, opts.Notes, opts.Reason)
		},
	})
}

// StartAgentHandling marks an assigned session as actively handled.
func (m *StateMachine) StartAgentHandling(ctx context.Context, ref SessionRef) (*model.ChatSession, error) {
	return m.transition(ctx, ref, transitionPlan{
		op:      "start handling",
		allowed: []model.SessionStatus{model.SessionStatusAgentAssigned},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			s.SessionStatus = model.SessionStatusAgentHandling
			return map[string]interface{}{"session_status": s.SessionStatus}, nil
		},
	})
}

// EndAgentHandling returns the session to agent_assigned. The agent keeps the slot.
func (m *StateMachine) EndAgentHandling(ctx context.Context, ref SessionRef) (*model.ChatSession, error) {
	return m.transition(ctx, ref, transitionPlan{
		op:      "end handling",
		allowed: []model.SessionStatus{model.SessionStatusAgentHandling},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			s.SessionStatus = model.SessionStatusAgentAssigned
			return map[string]interface{}{"session_status": s.SessionStatus}, nil
		},
	})
}

// TransferToAgent moves the session to another agent, keeping its status.
func (m *StateMachine) TransferToAgent(ctx context.Context, ref SessionRef, newAgentID uuid.UUID, notes string) (*model.ChatSession, error) {
	return m.reassign(ctx, ref, newAgentID, model.TransferKindTransfer, notes, "")
}

// EscalateToAgent is a transfer that also counts as an escalation.
func (m *StateMachine) EscalateToAgent(ctx context.Context, ref SessionRef, newAgentID uuid.UUID, reason string) (*model.ChatSession, error) {
	return m.reassign(ctx, ref, newAgentID, model.TransferKindEscalation, "", reason)
}

func (m *StateMachine) reassign(ctx context.Context, ref SessionRef, newAgentID uuid.UUID, kind model.TransferKind, notes, reason string) (*model.ChatSession, error) {
	if newAgentID == uuid.Nil {
		return nil, newError(KindInvalidRequest, "agent_id is required")
	}
	return m.transition(ctx, ref, transitionPlan{
		op:      string(kind),
		allowed: []model.SessionStatus{model.SessionStatusAgentAssigned, model.SessionStatusAgentHandling},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			if current, ok := s.Owner().AgentID(); ok && current == newAgentID {
				return nil, newError(KindInvalidRequest, "session is already assigned to agent %s", newAgentID)
			}
			s.SetOwner(model.HumanOwner(newAgentID))
			s.AssignedAt = &now
			updates := s.OwnershipColumns()
			updates["assigned_at"] = now
			if kind == model.TransferKindEscalation {
				s.EscalationCount++
				s.HandoverReason = reason
				updates["escalation_count"] = s.EscalationCount
				updates["handover_reason"] = reason
			}
			return updates, nil
		},
		effects: func(ctx context.Context, tx *gorm.DB, before, after *model.ChatSession) error {
			from, hadAgent := before.Owner().AgentID()
			release := func() error {
				if !hadAgent {
					return nil
				}
				return m.releaseSlot(ctx, tx, before.OrganizationID, from)
			}
			take := func() error {
				return m.takeSlot(ctx, tx, after.OrganizationID, newAgentID)
			}

			// agent rows are always locked in id order
			steps := []func() error{release, take}
			if hadAgent && bytes.Compare(newAgentID[:], from[:]) < 0 {
				steps = []func() error{take, release}
			}
			for _, step := range steps {
				if err := step(); err != nil {
					return err
				}
			}

			var fromPtr *uuid.UUID
			if hadAgent {
				fromPtr = &from
			}
			return m.recordTransfer(ctx, tx, after, fromPtr, newAgentID, kind, notes, reason)
		},
	})
}

// Resolve marks the conversation resolved and frees the agent's slot.
func (m *StateMachine) Resolve(ctx context.Context, ref SessionRef, notes string, rating *int) (*model.ChatSession, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, newError(KindInvalidRequest, "satisfaction_rating must be between 1 and 5")
	}
	return m.transition(ctx, ref, transitionPlan{
		op:      "resolve",
		allowed: []model.SessionStatus{model.SessionStatusAgentAssigned, model.SessionStatusAgentHandling},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			elapsed := int64(now.Sub(s.StartedAt).Seconds())
			if elapsed < 0 {
				elapsed = 0
			}
			s.SessionStatus = model.SessionStatusResolved
			s.IsResolved = true
			s.ResolvedAt = &now
			s.ResolutionNotes = notes
			s.ResolutionTime = &elapsed
			s.SatisfactionRating = rating
			return map[string]interface{}{
				"session_status":      s.SessionStatus,
				"is_resolved":         true,
				"resolved_at":         now,
				"resolution_notes":    notes,
				"resolution_time":     elapsed,
				"satisfaction_rating": rating,
			}, nil
		},
		effects: func(ctx context.Context, tx *gorm.DB, before, after *model.ChatSession) error {
			if agentID, ok := before.Owner().AgentID(); ok {
				return m.releaseSlot(ctx, tx, before.OrganizationID, agentID)
			}
			return nil
		},
	})
}

// Close ends the session from any non-closed status. A slot still held by the
// assigned agent is released and waiting queue entries are cancelled.
func (m *StateMachine) Close(ctx context.Context, ref SessionRef) (*model.ChatSession, error) {
	return m.transition(ctx, ref, transitionPlan{
		op: "close",
		allowed: []model.SessionStatus{
			model.SessionStatusBotHandled, model.SessionStatusEscalated, model.SessionStatusAgentAssigned,
			model.SessionStatusAgentHandling, model.SessionStatusResolved,
		},
		apply: func(s *model.ChatSession, now time.Time) (map[string]interface{}, error) {
			s.SessionStatus = model.SessionStatusClosed
			s.IsActive = false
			s.ClosedAt = &now
			return map[string]interface{}{
				"session_status": s.SessionStatus,
				"is_active":      false,
				"closed_at":      now,
			}, nil
		},
		effects: func(ctx context.Context, tx *gorm.DB, before, after *model.ChatSession) error {
			if before.SessionStatus.HoldsAgentSlot() {
				if agentID, ok := before.Owner().AgentID(); ok {
					if err := m.releaseSlot(ctx, tx, before.OrganizationID, agentID); err != nil {
						return err
					}
				}
			}
			if err := repository.NewQueueRepository(tx).CancelBySession(ctx, after.OrganizationID, after.ID); err != nil {
				return wrapError(KindInternal, err, "cancel queue entry")
			}
			return nil
		},
	})
}

func (m *StateMachine) transition(ctx context.Context, ref SessionRef, plan transitionPlan) (*model.ChatSession, error) {
	var (
		out  *model.ChatSession
		from model.SessionStatus
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := repository.NewSessionRepository(tx)
		s, err := sessions.FindByIDAndOrg(ctx, ref.OrganizationID, ref.SessionID)
		if err != nil {
			return notFoundOr(err, "session")
		}
		if ref.ExpectedVersion != nil && *ref.ExpectedVersion != s.Version {
			return newError(KindConcurrentModification, "session %s is at version %d, expected %d", s.ID, s.Version, *ref.ExpectedVersion)
		}
		if !statusIn(s.SessionStatus, plan.allowed) {
			return newError(KindInvalidStateTransition, "cannot %s session in status %s", plan.op, s.SessionStatus)
		}

		before := *s
		from = s.SessionStatus
		updates, err := plan.apply(s, m.now())
		if err != nil {
			return err
		}
		n, err := sessions.CompareAndSwap(ctx, s.ID, before.SessionStatus, before.Version, updates)
		if err != nil {
			return wrapError(KindInternal, err, "update session")
		}
		if n == 0 {
			return newError(KindConcurrentModification, "session %s was modified concurrently", s.ID)
		}
		s.Version = before.Version + 1

		if plan.effects != nil {
			if err := plan.effects(ctx, tx, &before, s); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, conflictOr(err)
	}

	m.metrics.ObserveTransition(string(from), string(out.SessionStatus))
	fields := logrus.Fields{
		"session_id":      out.ID,
		"organization_id": out.OrganizationID,
		"from":            from,
		"to":              out.SessionStatus,
		"version":         out.Version,
	}
	if agentID, ok := out.Owner().AgentID(); ok {
		fields["agent_id"] = agentID
	}
	m.log.WithFields(fields).Info("session transition")
	return out, nil
}

func (m *StateMachine) takeSlot(ctx context.Context, tx *gorm.DB, orgID, agentID uuid.UUID) error {
	agents := repository.NewAgentRepository(tx)
	n, err := agents.IncrementLoad(ctx, orgID, agentID)
	if err != nil {
		return wrapError(KindInternal, err, "increment agent load")
	}
	if n == 1 {
		return nil
	}

	a, err := agents.FindByIDAndOrg(ctx, orgID, agentID)
	if err != nil {
		return notFoundOr(err, "agent")
	}
	if a.Status != model.AgentStatusActive {
		return newError(KindAgentNotEligible, "agent %s is %s", agentID, a.Status)
	}
	m.metrics.IncCapacityRejection()
	return newError(KindAgentAtCapacity, "agent %s has %d of %d chats", agentID, a.CurrentActiveChats, a.MaxConcurrentChats)
}

func (m *StateMachine) releaseSlot(ctx context.Context, tx *gorm.DB, orgID, agentID uuid.UUID) error {
	n, err := repository.NewAgentRepository(tx).DecrementLoad(ctx, orgID, agentID)
	if err != nil {
		return wrapError(KindInternal, err, "decrement agent load")
	}
	if n == 0 {
		m.log.WithField("agent_id", agentID).Warn("agent load already at zero")
	}
	return nil
}

func (m *StateMachine) recordTransfer(ctx context.Context, tx *gorm.DB, s *model.ChatSession, from *uuid.UUID, to uuid.UUID, kind model.TransferKind, notes, reason string) error {
	err := repository.NewTransferRepository(tx).Create(ctx, &model.SessionTransfer{
		OrganizationID: s.OrganizationID,
		SessionID:      s.ID,
		FromAgentID:    from,
		ToAgentID:      to,
		Kind:           kind,
		Notes:          notes,
		Reason:         reason,
	})
	if err != nil {
		return wrapError(KindInternal, err, "record transfer")
	}
	return nil
}

func statusIn(s model.SessionStatus, allowed []model.SessionStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
