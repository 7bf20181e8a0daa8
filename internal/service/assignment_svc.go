package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

const (
	bulkConcurrency = 4
	drainBatchSize  = 100
)

// AssignmentService selects agents and is the entry point for assignment writes.
type AssignmentService struct {
	sm      *StateMachine
	agents  *repository.AgentRepository
	queue   *repository.QueueRepository
	weights ScoreWeights
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAssignmentService creates an assignment service scoring with weights.
func NewAssignmentService(db *gorm.DB, sm *StateMachine, weights ScoreWeights, log logrus.FieldLogger, m *metrics.Metrics) *AssignmentService {
	return &AssignmentService{
		sm:      sm,
		agents:  repository.NewAgentRepository(db),
		queue:   repository.NewQueueRepository(db),
		weights: weights,
		log:     log.WithField("component", "assignment"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RankAgents returns the eligible agents of an organization, best first.
func (s *AssignmentService) RankAgents(ctx context.Context, orgID uuid.UUID, c Criteria) ([]ScoredAgent, error) {
	agents, err := s.agents.FindCandidates(ctx, orgID, c.Department)
	if err != nil {
		return nil, wrapError(KindInternal, err, "load candidate agents")
	}
	return RankCandidates(agents, c, s.weights, s.now()), nil
}

// SelectAgent picks the single best candidate without assigning it.
func (s *AssignmentService) SelectAgent(ctx context.Context, orgID uuid.UUID, c Criteria) (*ScoredAgent, error) {
	ranked, err := s.RankAgents(ctx, orgID, c)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, newError(KindNoAgentAvailable, "no eligible agent in organization %s", orgID)
	}
	return &ranked[0], nil
}

// AssignConversationToAgent assigns a specific agent.
func (s *AssignmentService) AssignConversationToAgent(ctx context.Context, ref SessionRef, agentID uuid.UUID, opts AssignOptions) (*model.ChatSession, error) {
	session, err := s.sm.AssignToAgent(ctx, ref, agentID, opts)
	s.countOutcome(err)
	return session, err
}

// AutoAssign assigns the best candidate. When a candidate loses a capacity
// race the next one is tried.
func (s *AssignmentService) AutoAssign(ctx context.Context, ref SessionRef, c Criteria, opts AssignOptions) (*model.ChatSession, error) {
	ranked, err := s.RankAgents(ctx, ref.OrganizationID, c)
	if err != nil {
		return nil, err
	}

	for _, candidate := range ranked {
		session, err := s.sm.AssignToAgent(ctx, ref, candidate.Agent.ID, opts)
		if err == nil {
			s.metrics.IncAssignment("assigned")
			return session, nil
		}
		if IsKind(err, KindAgentAtCapacity) || IsKind(err, KindAgentNotEligible) {
			s.log.WithFields(logrus.Fields{
				"session_id": ref.SessionID,
				"agent_id":   candidate.Agent.ID,
			}).Debug("candidate lost capacity race, trying next")
			continue
		}
		s.countOutcome(err)
		return nil, err
	}

	s.metrics.IncAssignment("no_agent")
	return nil, newError(KindNoAgentAvailable, "no eligible agent for session %s", ref.SessionID)
}

func (s *AssignmentService) countOutcome(err error) {
	switch {
	case err == nil:
		s.metrics.IncAssignment("assigned")
	case IsKind(err, KindAgentAtCapacity):
		s.metrics.IncAssignment("at_capacity")
	case IsKind(err, KindConcurrentModification), IsKind(err, KindInvalidStateTransition):
		s.metrics.IncAssignment("conflict")
	default:
		s.metrics.IncAssignment("error")
	}
}

// EnqueueRequest describes a session waiting for an agent.
type EnqueueRequest struct {
	Session       *model.ChatSession
	Priority      int
	Reason        string
	Criteria      Criteria
	TargetAgentID *uuid.UUID
}

// Enqueue puts a session in the agent queue. A session has at most one
// waiting entry; enqueueing again raises its priority if needed.
func (s *AssignmentService) Enqueue(ctx context.Context, req EnqueueRequest) (*model.AgentQueueEntry, int64, error) {
	existing, err := s.queue.FindWaitingBySession(ctx, req.Session.OrganizationID, req.Session.ID)
	switch {
	case err == nil:
		if req.Priority > existing.Priority {
			existing.Priority = req.Priority
			if err := s.queue.DB.WithContext(ctx).Model(existing).Update("priority", req.Priority).Error; err != nil {
				return nil, 0, wrapError(KindInternal, err, "raise queue priority")
			}
		}
		pos, err := s.queue.GetPosition(ctx, existing)
		if err != nil {
			return nil, 0, wrapError(KindInternal, err, "queue position")
		}
		return existing, pos, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, 0, wrapError(KindInternal, err, "load queue entry")
	}

	entry := &model.AgentQueueEntry{
		OrganizationID: req.Session.OrganizationID,
		SessionID:      req.Session.ID,
		TargetAgentID:  req.TargetAgentID,
		Status:         model.QueueStatusWaiting,
		Priority:       req.Priority,
		Reason:         req.Reason,
		RequiredSkills: req.Criteria.RequiredSkills,
		Department:     req.Criteria.Department,
		EnqueuedAt:     s.now(),
	}
	if len(req.Criteria.Languages) > 0 {
		entry.Language = req.Criteria.Languages[0]
	}
	if err := s.queue.Create(ctx, entry); err != nil {
		return nil, 0, wrapError(KindInternal, err, "enqueue session")
	}
	pos, err := s.queue.GetPosition(ctx, entry)
	if err != nil {
		return nil, 0, wrapError(KindInternal, err, "queue position")
	}

	s.log.WithFields(logrus.Fields{
		"session_id": entry.SessionID,
		"priority":   entry.Priority,
		"position":   pos,
	}).Info("session queued for agent")
	return entry, pos, nil
}

// ListQueue returns the waiting entries of an organization in service order.
func (s *AssignmentService) ListQueue(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.AgentQueueEntry, int64, error) {
	items, total, err := s.queue.FindWaiting(ctx, orgID, limit, offset)
	if err != nil {
		return nil, 0, wrapError(KindInternal, err, "list queue")
	}
	return items, total, nil
}

// DrainResult counts what one queue drain did.
type DrainResult struct {
	Assigned  int   `json:"assigned"`
	Cancelled int   `json:"cancelled"`
	Remaining int64 `json:"remaining"`
}

// DrainQueue assigns waiting sessions in priority then arrival order while
// agents have free slots.
func (s *AssignmentService) DrainQueue(ctx context.Context, orgID uuid.UUID) (*DrainResult, error) {
	entries, _, err := s.queue.FindWaiting(ctx, orgID, drainBatchSize, 0)
	if err != nil {
		return nil, wrapError(KindInternal, err, "list queue")
	}

	result := &DrainResult{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref := SessionRef{OrganizationID: orgID, SessionID: entry.SessionID}
		opts := AssignOptions{Reason: entry.Reason}

		var assignErr error
		if entry.TargetAgentID != nil {
			_, assignErr = s.AssignConversationToAgent(ctx, ref, *entry.TargetAgentID, opts)
		} else {
			_, assignErr = s.AutoAssign(ctx, ref, queueCriteria(&entry), opts)
		}

		switch {
		case assignErr == nil:
			result.Assigned++
		case IsKind(assignErr, KindInvalidStateTransition), IsKind(assignErr, KindNotFound):
			// the session moved on without the queue; drop the entry
			if err := s.queue.CancelBySession(ctx, orgID, entry.SessionID); err != nil {
				return nil, wrapError(KindInternal, err, "cancel stale queue entry")
			}
			result.Cancelled++
		case IsKind(assignErr, KindNoAgentAvailable), IsKind(assignErr, KindAgentAtCapacity),
			IsKind(assignErr, KindAgentNotEligible), IsKind(assignErr, KindConcurrentModification):
			continue
		default:
			return nil, assignErr
		}
	}

	remaining, err := s.queue.CountWaiting(ctx, orgID)
	if err != nil {
		return nil, wrapError(KindInternal, err, "count queue")
	}
	result.Remaining = remaining
	s.metrics.SetQueueDepth(remaining)

	if result.Assigned > 0 || result.Cancelled > 0 {
		s.log.WithFields(logrus.Fields{
			"organization_id": orgID,
			"assigned":        result.Assigned,
			"cancelled":       result.Cancelled,
			"remaining":       remaining,
		}).Info("queue drained")
	}
	return result, nil
}

// BulkItemResult reports the outcome of one item of a bulk operation.
type BulkItemResult struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Code    Kind      `json:"code,omitempty"`
}

// BulkReassignItem moves one session to an agent.
type BulkReassignItem struct {
	SessionID uuid.UUID `json:"session_id" validate:"required"`
	AgentID   uuid.UUID `json:"agent_id" validate:"required"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

// BulkReassign assigns or transfers each session independently. A failing
// item never affects the others.
func (s *AssignmentService) BulkReassign(ctx context.Context, orgID uuid.UUID, items []BulkReassignItem) []BulkItemResult {
	return runBulk(ctx, len(items), func(ctx context.Context, i int) BulkItemResult {
		item := items[i]
		ref := SessionRef{OrganizationID: orgID, SessionID: item.SessionID}

		session, err := s.sm.Get(ctx, orgID, item.SessionID)
		if err == nil {
			if session.SessionStatus.HoldsAgentSlot() {
				_, err = s.sm.TransferToAgent(ctx, ref, item.AgentID, item.Notes)
			} else {
				_, err = s.AssignConversationToAgent(ctx, ref, item.AgentID, AssignOptions{Notes: item.Notes, Reason: "bulk reassignment"})
			}
		}
		return bulkResult(item.SessionID, err, "reassigned")
	})
}

// BulkStatusItem drives one session to a status.
type BulkStatusItem struct {
	SessionID uuid.UUID           `json:"session_id" validate:"required"`
	Status    model.SessionStatus `json:"status" validate:"required"`
	Notes     string              `json:"notes" validate:"max=2000"`
}

// BulkUpdateStatus drives each session to the requested status through the
// matching state machine transition. Escalated sessions are queued for the
// next drain.
func (s *AssignmentService) BulkUpdateStatus(ctx context.Context, orgID uuid.UUID, items []BulkStatusItem) []BulkItemResult {
	return runBulk(ctx, len(items), func(ctx context.Context, i int) BulkItemResult {
		item := items[i]
		ref := SessionRef{OrganizationID: orgID, SessionID: item.SessionID}

		var err error
		switch item.Status {
		case model.SessionStatusEscalated:
			err = s.escalateToQueue(ctx, ref, firstNonEmpty(item.Notes, "bulk status update"))
		case model.SessionStatusAgentHandling:
			_, err = s.sm.StartAgentHandling(ctx, ref)
		case model.SessionStatusAgentAssigned:
			_, err = s.sm.EndAgentHandling(ctx, ref)
		case model.SessionStatusResolved:
			_, err = s.sm.Resolve(ctx, ref, item.Notes, nil)
		case model.SessionStatusClosed:
			_, err = s.sm.Close(ctx, ref)
		default:
			err = newError(KindInvalidRequest, "status %q cannot be set in bulk", item.Status)
		}
		return bulkResult(item.SessionID, err, "status updated")
	})
}

// escalateToQueue hands a bot session over and puts it in the agent queue.
func (s *AssignmentService) escalateToQueue(ctx context.Context, ref SessionRef, detail string) error {
	reason := fmt.Sprintf("%s: %s", TriggerManual, detail)
	session, err := s.sm.RequestHumanIntervention(ctx, ref, reason)
	if err != nil {
		return err
	}
	s.metrics.IncEscalation(string(TriggerManual))
	_, _, err = s.Enqueue(ctx, EnqueueRequest{
		Session:  session,
		Priority: QueuePriority(session.Priority, TriggerManual),
		Reason:   reason,
	})
	return err
}

func queueCriteria(e *model.AgentQueueEntry) Criteria {
	c := Criteria{RequiredSkills: e.RequiredSkills, Department: e.Department}
	if e.Language != "" {
		c.Languages = []string{e.Language}
	}
	return c
}

func runBulk(ctx context.Context, n int, fn func(ctx context.Context, i int) BulkItemResult) []BulkItemResult {
	results := make([]BulkItemResult, n)
	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func bulkResult(id uuid.UUID, err error, ok string) BulkItemResult {
	if err != nil {
		var se *Error
		msg := err.Error()
		if errors.As(err, &se) {
			msg = se.Message
		}
		return BulkItemResult{ID: id, Success: false, Message: msg, Code: KindOf(err)}
	}
	return BulkItemResult{ID: id, Success: true, Message: ok}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
