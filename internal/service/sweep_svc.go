package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

// Lease makes sure only one replica sweeps at a time.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Presence reports whether an agent sent a heartbeat recently.
type Presence interface {
	IsOnline(ctx context.Context, agentID uuid.UUID) (bool, error)
}

// requeueGrace keeps the sweep away from escalations still being assigned.
const requeueGrace = 30 * time.Second

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Skipped    bool `json:"skipped"`
	Escalated  int  `json:"escalated"`
	Requeued   int  `json:"requeued"`
	Assigned   int  `json:"assigned"`
	AgentsAway int  `json:"agents_away"`
}

// SweepService periodically escalates idle bot sessions, requeues escalated
// sessions that lost their queue entry, drains agent queues and marks silent
// agents away.
type SweepService struct {
	configs    *repository.EscalationConfigRepository
	sessions   *repository.SessionRepository
	queue      *repository.QueueRepository
	agents     *repository.AgentRepository
	escalation *EscalationService
	assign     *AssignmentService
	lease      Lease
	presence   Presence
	interval   time.Duration
	batchSize  int
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// SweepOptions tunes a SweepService. Lease and Presence are optional.
type SweepOptions struct {
	Interval  time.Duration
	BatchSize int
	Lease     Lease
	Presence  Presence
}

// NewSweepService applies defaults of one minute and 200 rows per batch.
func NewSweepService(db *gorm.DB, escalation *EscalationService, assign *AssignmentService, opts SweepOptions, log logrus.FieldLogger, m *metrics.Metrics) *SweepService {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	return &SweepService{
		configs:    repository.NewEscalationConfigRepository(db),
		sessions:   repository.NewSessionRepository(db),
		queue:      repository.NewQueueRepository(db),
		agents:     repository.NewAgentRepository(db),
		escalation: escalation,
		assign:     assign,
		lease:      opts.Lease,
		presence:   opts.Presence,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		log:        log.WithField("component", "sweep"),
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one sweep immediately, then one per interval until ctx is cancelled.
func (s *SweepService) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval).Info("starting sweep")

	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Error("sweep failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.lease != nil {
				_ = s.lease.Release(context.Background())
			}
			s.log.Info("stopping sweep")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep. Running it twice over the same data
// escalates nothing new.
func (s *SweepService) RunOnce(ctx context.Context) (*SweepReport, error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return nil, wrapError(KindInternal, err, "acquire sweep lease")
		}
		if !ok {
			return &SweepReport{Skipped: true}, nil
		}
	}

	start := time.Now()
	report := &SweepReport{}

	away, err := s.expirePresence(ctx)
	if err != nil {
		return nil, err
	}
	report.AgentsAway = away

	escalated, err := s.escalateIdle(ctx)
	if err != nil {
		return nil, err
	}
	report.Escalated = escalated

	requeued, err := s.requeueUnqueued(ctx)
	if err != nil {
		return nil, err
	}
	report.Requeued = requeued

	assigned, err := s.drainQueues(ctx)
	if err != nil {
		return nil, err
	}
	report.Assigned = assigned

	s.metrics.ObserveSweep(time.Since(start), report.Escalated)
	if report.Escalated > 0 || report.Requeued > 0 || report.Assigned > 0 || report.AgentsAway > 0 {
		s.log.WithFields(logrus.Fields{
			"escalated":   report.Escalated,
			"requeued":    report.Requeued,
			"assigned":    report.Assigned,
			"agents_away": report.AgentsAway,
		}).Info("sweep complete")
	}
	return report, nil
}

func (s *SweepService) escalateIdle(ctx context.Context) (int, error) {
	configs, err := s.configs.FindWithTimeout(ctx)
	if err != nil {
		return 0, wrapError(KindInternal, err, "load escalation configs")
	}

	escalated := 0
	now := s.now()
	for i := range configs {
		cfg := &configs[i]
		cutoff := now.Add(-time.Duration(cfg.EscalationTimeoutMinutes) * time.Minute)
		idle, err := s.sessions.FindIdleBotSessions(ctx, cfg.OrganizationID, cutoff, s.batchSize)
		if err != nil {
			return escalated, wrapError(KindInternal, err, "load idle sessions")
		}

		for _, sess := range idle {
			decision := EvaluateTriggers(cfg, TriggerInput{
				FailedBotResponses: sess.FailedBotResponses,
				LastActivityAt:     sess.LastActivityAt,
				Now:                now,
			})
			if !decision.Escalate {
				continue
			}

			version := sess.Version
			_, err := s.escalation.Escalate(ctx, EscalationRequest{
				Ref:     SessionRef{OrganizationID: sess.OrganizationID, SessionID: sess.ID, ExpectedVersion: &version},
				Trigger: decision.Trigger,
				Reason:  decision.Reason,
			})
			switch {
			case err == nil:
				escalated++
			case IsKind(err, KindInvalidStateTransition), IsKind(err, KindConcurrentModification):
				// already moved on
			default:
				s.log.WithError(err).WithField("session_id", sess.ID).Warn("idle escalation failed")
			}
		}
	}
	return escalated, nil
}

// requeueUnqueued puts escalated sessions without a waiting entry back in
// their organization's queue.
func (s *SweepService) requeueUnqueued(ctx context.Context) (int, error) {
	orphans, err := s.sessions.FindUnqueuedEscalated(ctx, s.now().Add(-requeueGrace), s.batchSize)
	if err != nil {
		return 0, wrapError(KindInternal, err, "load unqueued escalated sessions")
	}

	requeued := 0
	for i := range orphans {
		sess := &orphans[i]
		_, _, err := s.assign.Enqueue(ctx, EnqueueRequest{
			Session:  sess,
			Priority: QueuePriority(sess.Priority, reasonTrigger(sess.HandoverReason)),
			Reason:   sess.HandoverReason,
		})
		if err != nil {
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("requeue failed")
			continue
		}
		requeued++
	}
	return requeued, nil
}

func (s *SweepService) drainQueues(ctx context.Context) (int, error) {
	orgs, err := s.queue.OrganizationsWithWaiting(ctx)
	if err != nil {
		return 0, wrapError(KindInternal, err, "list queued organizations")
	}
	assigned := 0
	for _, orgID := range orgs {
		res, err := s.assign.DrainQueue(ctx, orgID)
		if err != nil {
			s.log.WithError(err).WithField("organization_id", orgID).Warn("queue drain failed")
			continue
		}
		assigned += res.Assigned
	}
	return assigned, nil
}

// expirePresence marks available agents away when their heartbeat expired.
// It walks every available agent one batch at a time.
func (s *SweepService) expirePresence(ctx context.Context) (int, error) {
	if s.presence == nil {
		return 0, nil
	}

	away := 0
	after := uuid.Nil
	for {
		agents, err := s.agents.FindAvailableAfter(ctx, after, s.batchSize)
		if err != nil {
			return away, wrapError(KindInternal, err, "load available agents")
		}
		for _, a := range agents {
			online, err := s.presence.IsOnline(ctx, a.ID)
			if err != nil {
				s.log.WithError(err).WithField("agent_id", a.ID).Warn("presence check failed")
				continue
			}
			if online {
				continue
			}
			if _, err := s.agents.UpdateAvailability(ctx, a.OrganizationID, a.ID, model.AvailabilityAway); err != nil {
				return away, wrapError(KindInternal, err, "mark agent away")
			}
			away++
		}
		if len(agents) < s.batchSize {
			return away, nil
		}
		after = agents[len(agents)-1].ID
	}
}
