package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

// ConfigCache caches escalation configs by organization.
type ConfigCache interface {
	Get(ctx context.Context, orgID uuid.UUID) (*model.EscalationConfig, bool, error)
	Set(ctx context.Context, cfg *model.EscalationConfig) error
	Invalidate(ctx context.Context, orgID uuid.UUID) error
}

// Notifier tells an agent about a session. Delivery is best effort.
type Notifier interface {
	NotifyAgent(ctx context.Context, agentID, sessionID uuid.UUID, reason string) error
}

// EscalationService drives bot-to-human hand-offs and owns escalation config and stats.
type EscalationService struct {
	configs  *repository.EscalationConfigRepository
	sessions *repository.SessionRepository
	queue    *repository.QueueRepository
	sm       *StateMachine
	assign   *AssignmentService
	cache    ConfigCache
	notifier Notifier
	validate *validator.Validate
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEscalationService wires the service. cache and notifier may be nil.
func NewEscalationService(db *gorm.DB, sm *StateMachine, assign *AssignmentService, cache ConfigCache, notifier Notifier, log logrus.FieldLogger, m *metrics.Metrics) *EscalationService {
	return &EscalationService{
		configs:  repository.NewEscalationConfigRepository(db),
		sessions: repository.NewSessionRepository(db),
		queue:    repository.NewQueueRepository(db),
		sm:       sm,
		assign:   assign,
		cache:    cache,
		notifier: notifier,
		validate: validator.New(),
		log:      log.WithField("component", "escalation"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the organization's escalation config. A missing or invalid
// stored config falls back to the disabled default.
func (s *EscalationService) Config(ctx context.Context, orgID uuid.UUID) *model.EscalationConfig {
	logger := s.log.WithField("organization_id", orgID)

	if s.cache != nil {
		cfg, ok, err := s.cache.Get(ctx, orgID)
		if err != nil {
			logger.WithError(err).Warn("escalation config cache read failed")
		} else if ok {
			return cfg
		}
	}

	cfg, err := s.configs.FindByOrganization(ctx, orgID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg = model.DefaultEscalationConfig(orgID)
	case err != nil:
		logger.WithError(wrapError(KindConfigurationError, err, "load escalation config")).Error("using default escalation config")
		return model.DefaultEscalationConfig(orgID)
	default:
		if verr := s.validate.Struct(cfg); verr != nil {
			logger.WithError(wrapError(KindConfigurationError, verr, "stored escalation config is invalid")).Error("using default escalation config")
			return model.DefaultEscalationConfig(orgID)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cfg); err != nil {
			logger.WithError(err).Warn("escalation config cache write failed")
		}
	}
	return cfg
}

// UpdateConfig validates and stores an organization's escalation config.
func (s *EscalationService) UpdateConfig(ctx context.Context, orgID uuid.UUID, cfg *model.EscalationConfig) (*model.EscalationConfig, error) {
	cfg.OrganizationID = orgID
	cfg.EscalationKeywords = model.NewStringSet(cfg.EscalationKeywords...)
	cfg.NegativeSentimentKeywords = model.NewStringSet(cfg.NegativeSentimentKeywords...)
	if err := s.validate.Struct(cfg); err != nil {
		return nil, wrapError(KindInvalidRequest, err, "invalid escalation config")
	}

	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, wrapError(KindInternal, err, "save escalation config")
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, orgID); err != nil {
			s.log.WithError(err).WithField("organization_id", orgID).Warn("escalation config cache invalidation failed")
		}
	}
	return cfg, nil
}

// EscalationRequest asks for a session to be handed to a human.
type EscalationRequest struct {
	Ref      SessionRef
	Trigger  Trigger
	Reason   string
	Criteria Criteria
}

// EscalationOutcome reports where the escalated session ended up. Code is
// KindNoAgentAvailable when auto-assignment assigned nobody and the session was queued.
type EscalationOutcome struct {
	Session       *model.ChatSession     `json:"session"`
	Trigger       Trigger                `json:"trigger"`
	AgentID       *uuid.UUID             `json:"agent_id,omitempty"`
	QueueEntry    *model.AgentQueueEntry `json:"queue_entry,omitempty"`
	QueuePosition int64                  `json:"queue_position,omitempty"`
	Code          Kind                   `json:"code,omitempty"`
}

// Assigned reports whether an agent took the session.
func (o *EscalationOutcome) Assigned() bool { return o.AgentID != nil }

// Escalate moves a bot-handled session to escalated, then assigns or queues it.
// Only a conflicting state change aborts after the hand-over; any other
// assignment failure leaves the session queued.
func (s *EscalationService) Escalate(ctx context.Context, req EscalationRequest) (*EscalationOutcome, error) {
	cfg := s.Config(ctx, req.Ref.OrganizationID)
	trigger := req.Trigger
	if trigger == TriggerNone {
		trigger = TriggerManual
	}
	reason := string(trigger)
	if req.Reason != "" {
		reason = fmt.Sprintf("%s: %s", trigger, req.Reason)
	}

	session, err := s.sm.RequestHumanIntervention(ctx, req.Ref, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.IncEscalation(string(trigger))

	logger := s.log.WithFields(logrus.Fields{
		"session_id":      session.ID,
		"organization_id": session.OrganizationID,
		"trigger":         trigger,
	})
	logger.Info("session escalated")

	out := &EscalationOutcome{Session: session, Trigger: trigger}
	ref := SessionRef{OrganizationID: session.OrganizationID, SessionID: session.ID}

	if cfg.AutoAssignAgent {
		assigned, err := s.assign.AutoAssign(ctx, ref, req.Criteria, AssignOptions{Reason: reason})
		switch {
		case err == nil:
			agentID, _ := assigned.Owner().AgentID()
			out.Session = assigned
			out.AgentID = &agentID
			if cfg.NotifyAgent {
				s.notify(ctx, agentID, session.ID, reason)
			}
			return out, nil
		case IsKind(err, KindInvalidStateTransition), IsKind(err, KindConcurrentModification):
			return nil, err
		case IsKind(err, KindNoAgentAvailable):
			out.Code = KindNoAgentAvailable
		default:
			// the hand-over is committed; fall back to the queue
			logger.WithError(err).Warn("auto-assignment failed, queueing session")
			out.Code = KindNoAgentAvailable
		}
	}

	entry, pos, err := s.assign.Enqueue(ctx, EnqueueRequest{
		Session:  session,
		Priority: QueuePriority(session.Priority, trigger),
		Reason:   reason,
		Criteria: req.Criteria,
	})
	if err != nil {
		return nil, err
	}
	out.QueueEntry = entry
	out.QueuePosition = pos
	logger.WithField("position", pos).Info("no agent assigned, session queued")
	return out, nil
}

// EscalateManually is the explicit override. It skips the automatic triggers
// and the enabled flag but requires an authorized role.
func (s *EscalationService) EscalateManually(ctx context.Context, role model.Role, ref SessionRef, reason string, c Criteria) (*EscalationOutcome, error) {
	if !role.Can(model.CapEscalateManually) {
		return nil, newError(KindForbidden, "role %q may not escalate sessions", role)
	}
	return s.Escalate(ctx, EscalationRequest{Ref: ref, Trigger: TriggerManual, Reason: reason, Criteria: c})
}

// EvaluateAndEscalate runs the automatic triggers and escalates on a match.
// It returns a nil outcome when nothing triggered.
func (s *EscalationService) EvaluateAndEscalate(ctx context.Context, session *model.ChatSession, in TriggerInput, c Criteria) (*EscalationOutcome, Decision, error) {
	cfg := s.Config(ctx, session.OrganizationID)
	if in.Now.IsZero() {
		in.Now = s.now()
	}
	decision := EvaluateTriggers(cfg, in)
	if !decision.Escalate {
		return nil, decision, nil
	}
	out, err := s.Escalate(ctx, EscalationRequest{
		Ref:      SessionRef{OrganizationID: session.OrganizationID, SessionID: session.ID},
		Trigger:  decision.Trigger,
		Reason:   decision.Reason,
		Criteria: c,
	})
	return out, decision, err
}

func (s *EscalationService) notify(ctx context.Context, agentID, sessionID uuid.UUID, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAgent(ctx, agentID, sessionID, reason); err != nil {
		s.metrics.IncNotificationFailure()
		s.log.WithError(err).WithFields(logrus.Fields{
			"agent_id":   agentID,
			"session_id": sessionID,
		}).Warn("agent notification failed")
	}
}

// EscalationStats summarizes hand-offs since a point in time. A hand-off is
// successful when the session was resolved afterwards; each session counts once.
type EscalationStats struct {
	Since                 time.Time        `json:"since"`
	TotalEscalations      int64            `json:"total_escalations"`
	ResolvedAfterHandover int64            `json:"resolved_after_handover"`
	SuccessRate           float64          `json:"success_rate"`
	AvgEscalationSeconds  float64          `json:"avg_escalation_seconds"`
	AgentEscalations      int64            `json:"agent_escalations"`
	CurrentlyWaiting      int64            `json:"currently_waiting"`
	ByReason              map[string]int64 `json:"by_reason"`
}

// GetStats aggregates hand-offs of an organization since the given time.
func (s *EscalationService) GetStats(ctx context.Context, orgID uuid.UUID, since time.Time) (*EscalationStats, error) {
	sessions, err := s.sessions.EscalatedSince(ctx, orgID, since)
	if err != nil {
		return nil, wrapError(KindInternal, err, "load escalated sessions")
	}
	waiting, err := s.queue.CountWaiting(ctx, orgID)
	if err != nil {
		return nil, wrapError(KindInternal, err, "count queue")
	}

	stats := &EscalationStats{Since: since, CurrentlyWaiting: waiting, ByReason: map[string]int64{}}
	var waitTotal float64
	var waitCount int
	for _, sess := range sessions {
		stats.TotalEscalations++
		stats.AgentEscalations += int64(sess.EscalationCount)
		if sess.IsResolved {
			stats.ResolvedAfterHandover++
		}
		if sess.AssignedAt != nil && sess.HandoverAt != nil && !sess.AssignedAt.Before(*sess.HandoverAt) {
			waitTotal += sess.AssignedAt.Sub(*sess.HandoverAt).Seconds()
			waitCount++
		}
		stats.ByReason[reasonKey(sess.HandoverReason)]++
	}
	if stats.TotalEscalations > 0 {
		stats.SuccessRate = float64(stats.ResolvedAfterHandover) / float64(stats.TotalEscalations)
	}
	if waitCount > 0 {
		stats.AvgEscalationSeconds = waitTotal / float64(waitCount)
	}
	return stats, nil
}

// reasonTrigger recovers the trigger from a stored hand-over reason.
func reasonTrigger(reason string) Trigger {
	switch t := Trigger(reasonKey(reason)); t {
	case TriggerKeyword, TriggerNegativeSentiment, TriggerBotFailures, TriggerTimeout, TriggerManual:
		return t
	default:
		return TriggerManual
	}
}

func reasonKey(reason string) string {
	key, _, _ := strings.Cut(reason, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return "unspecified"
	}
	return key
}
