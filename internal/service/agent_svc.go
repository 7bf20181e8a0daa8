package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

// HeartbeatRecorder stores agent heartbeats.
type HeartbeatRecorder interface {
	Heartbeat(ctx context.Context, agentID uuid.UUID) error
}

// AgentService is the agent directory: availability, presence and lookups.
// Load counters are not written here.
type AgentService struct {
	agents   *repository.AgentRepository
	assign   *AssignmentService
	presence HeartbeatRecorder
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewAgentService wires the directory. presence may be nil.
func NewAgentService(db *gorm.DB, assign *AssignmentService, presence HeartbeatRecorder, log logrus.FieldLogger) *AgentService {
	return &AgentService{
		agents:   repository.NewAgentRepository(db),
		assign:   assign,
		presence: presence,
		log:      log.WithField("component", "agents"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns an agent of the organization.
func (s *AgentService) Get(ctx context.Context, orgID, agentID uuid.UUID) (*model.Agent, error) {
	a, err := s.agents.FindByIDAndOrg(ctx, orgID, agentID)
	if err != nil {
		return nil, notFoundOr(err, "agent")
	}
	return a, nil
}

// List returns every agent of the organization.
func (s *AgentService) List(ctx context.Context, orgID uuid.UUID) ([]model.Agent, error) {
	agents, err := s.agents.FindByOrganization(ctx, orgID)
	if err != nil {
		return nil, wrapError(KindInternal, err, "list agents")
	}
	return agents, nil
}

// ListAvailable returns agents that could take a conversation now, best first.
func (s *AgentService) ListAvailable(ctx context.Context, orgID uuid.UUID, c Criteria) ([]ScoredAgent, error) {
	return s.assign.RankAgents(ctx, orgID, c)
}

// SetAvailability changes an agent's availability. Becoming available
// drains the organization's queue.
func (s *AgentService) SetAvailability(ctx context.Context, orgID, agentID uuid.UUID, availability model.Availability) (*model.Agent, error) {
	if !availability.Valid() {
		return nil, newError(KindInvalidRequest, "unknown availability %q", availability)
	}
	n, err := s.agents.UpdateAvailability(ctx, orgID, agentID, availability)
	if err != nil {
		return nil, wrapError(KindInternal, err, "update availability")
	}
	if n == 0 {
		return nil, newError(KindNotFound, "agent not found")
	}

	if availability == model.AvailabilityAvailable {
		if err := s.Heartbeat(ctx, orgID, agentID); err != nil {
			return nil, err
		}
		if _, err := s.assign.DrainQueue(ctx, orgID); err != nil {
			s.log.WithError(err).WithField("agent_id", agentID).Warn("queue drain after availability change failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"agent_id":     agentID,
		"availability": availability,
	}).Info("agent availability changed")
	return s.Get(ctx, orgID, agentID)
}

// Heartbeat refreshes the agent's last activity and presence key.
func (s *AgentService) Heartbeat(ctx context.Context, orgID, agentID uuid.UUID) error {
	n, err := s.agents.TouchLastActive(ctx, orgID, agentID, s.now())
	if err != nil {
		return wrapError(KindInternal, err, "touch agent")
	}
	if n == 0 {
		return newError(KindNotFound, "agent not found")
	}
	if s.presence != nil {
		if err := s.presence.Heartbeat(ctx, agentID); err != nil {
			s.log.WithError(err).WithField("agent_id", agentID).Warn("presence heartbeat failed")
		}
	}
	return nil
}
