package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/botclient"
	"github.com/tgo/engage/internal/repository"
)

// BotResponder answers customer messages on behalf of a bot personality.
type BotResponder interface {
	Respond(ctx context.Context, req botclient.Request) (*botclient.Reply, error)
}

// RouteHandler names who handles a routed message.
type RouteHandler string

const (
	RouteHandlerBot       RouteHandler = "bot"
	RouteHandlerEscalated RouteHandler = "escalated"
	RouteHandlerAgent     RouteHandler = "agent"
)

// InboundMessage is a customer message. Without SessionID a new
// bot-handled session is opened for CustomerID.
type InboundMessage struct {
	OrganizationID   uuid.UUID              `json:"organization_id" validate:"required"`
	SessionID        *uuid.UUID             `json:"session_id,omitempty"`
	CustomerID       uuid.UUID              `json:"customer_id"`
	BotPersonalityID *uuid.UUID             `json:"bot_personality_id,omitempty"`
	Text             string                 `json:"text" validate:"required,max=10000"`
	Priority         model.Priority         `json:"priority,omitempty"`
	Languages        []string               `json:"languages,omitempty" validate:"max=10"`
	RequiredSkills   []string               `json:"required_skills,omitempty" validate:"max=20"`
	Department       string                 `json:"department,omitempty" validate:"max=100"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

func (m *InboundMessage) criteria() Criteria {
	return Criteria{
		RequiredSkills: model.NewStringSet(m.RequiredSkills...),
		Department:     m.Department,
		Languages:      m.Languages,
	}
}

// RouteResult reports what happened to one inbound message.
type RouteResult struct {
	Session    *model.ChatSession `json:"session"`
	Handler    RouteHandler       `json:"handler"`
	BotReply   *botclient.Reply   `json:"bot_reply,omitempty"`
	Escalation *EscalationOutcome `json:"escalation,omitempty"`
}

// OutboundMessage is a reply written by an agent, the bot or the system.
type OutboundMessage struct {
	OrganizationID uuid.UUID        `json:"organization_id" validate:"required"`
	SessionID      uuid.UUID        `json:"session_id" validate:"required"`
	SenderType     model.SenderType `json:"sender_type" validate:"required,oneof=bot agent system"`
	SenderID       *uuid.UUID       `json:"sender_id,omitempty"`
	Text           string           `json:"text" validate:"required,max=10000"`
}

// RoutingService is the entry point for every chat message.
type RoutingService struct {
	sm         *StateMachine
	escalation *EscalationService
	bot        BotResponder
	sessions   *repository.SessionRepository
	messages   *repository.MessageRepository
	agents     *repository.AgentRepository
	validate   *validator.Validate
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewRoutingService creates the inbound message façade.
func NewRoutingService(db *gorm.DB, sm *StateMachine, escalation *EscalationService, bot BotResponder, log logrus.FieldLogger) *RoutingService {
	return &RoutingService{
		sm:         sm,
		escalation: escalation,
		bot:        bot,
		sessions:   repository.NewSessionRepository(db),
		messages:   repository.NewMessageRepository(db),
		agents:     repository.NewAgentRepository(db),
		validate:   validator.New(),
		log:        log.WithField("component", "routing"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RouteInboundMessage stores a customer message and decides who answers it.
// Closed sessions reject the message without any change.
func (s *RoutingService) RouteInboundMessage(ctx context.Context, msg InboundMessage) (*RouteResult, error) {
	if err := s.validate.Struct(&msg); err != nil {
		return nil, wrapError(KindInvalidRequest, err, "invalid inbound message")
	}

	session, err := s.loadOrOpen(ctx, &msg)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, newError(KindSessionClosed, "session %s is closed", session.ID)
	}

	if err := s.store(ctx, session, model.SenderCustomer, nil, msg.Text, nil, false, msg.Metadata); err != nil {
		return nil, err
	}
	if err := s.touch(ctx, session, repositoryActivity(s.now(), 1)); err != nil {
		return nil, err
	}

	result := &RouteResult{}
	switch session.SessionStatus {
	case model.SessionStatusBotHandled:
		if err := s.routeToBot(ctx, session, &msg, result); err != nil {
			return nil, err
		}
	case model.SessionStatusEscalated:
		result.Handler = RouteHandlerEscalated
	default:
		result.Handler = RouteHandlerAgent
	}

	fresh, err := s.sm.Get(ctx, session.OrganizationID, session.ID)
	if err != nil {
		return nil, err
	}
	result.Session = fresh
	return result, nil
}

func (s *RoutingService) routeToBot(ctx context.Context, session *model.ChatSession, msg *InboundMessage, result *RouteResult) error {
	c := msg.criteria()
	logger := s.log.WithField("session_id", session.ID)

	out, _, err := s.escalation.EvaluateAndEscalate(ctx, session, TriggerInput{
		MessageText:        msg.Text,
		FailedBotResponses: session.FailedBotResponses,
	}, c)
	if err != nil {
		return err
	}
	if out != nil {
		result.Handler = RouteHandlerEscalated
		result.Escalation = out
		return nil
	}

	reply, err := s.bot.Respond(ctx, botclient.Request{
		OrganizationID:   session.OrganizationID,
		SessionID:        session.ID,
		BotPersonalityID: session.BotPersonalityID,
		MessageText:      msg.Text,
	})
	if err != nil {
		logger.WithError(err).Warn("bot responder failed, counting as failed response")
		reply = &botclient.Reply{Failed: true}
	}
	result.Handler = RouteHandlerBot
	result.BotReply = reply

	activity := repositoryActivity(s.now(), 0)
	if reply.ResponseText != "" {
		if err := s.store(ctx, session, model.SenderBot, session.BotPersonalityID, reply.ResponseText, reply.SentimentScore, reply.Failed, nil); err != nil {
			return err
		}
		activity.MessageDelta = 1
	}
	failures := 0
	if reply.Failed {
		activity.IncrementFailure = true
		failures = session.FailedBotResponses + 1
	} else {
		activity.ResetFailures = true
	}
	if err := s.touch(ctx, session, activity); err != nil {
		return err
	}

	out, _, err = s.escalation.EvaluateAndEscalate(ctx, session, TriggerInput{
		SentimentScore:     reply.SentimentScore,
		FailedBotResponses: failures,
	}, c)
	if err != nil {
		return err
	}
	if out != nil {
		result.Handler = RouteHandlerEscalated
		result.Escalation = out
	}
	return nil
}

// RecordOutboundMessage stores a reply and refreshes session activity.
// An agent may only write to sessions it owns.
func (s *RoutingService) RecordOutboundMessage(ctx context.Context, msg OutboundMessage) (*model.ChatMessage, error) {
	if err := s.validate.Struct(&msg); err != nil {
		return nil, wrapError(KindInvalidRequest, err, "invalid outbound message")
	}
	session, err := s.sm.Get(ctx, msg.OrganizationID, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, newError(KindSessionClosed, "session %s is closed", session.ID)
	}

	if msg.SenderType == model.SenderAgent {
		owner, ok := session.Owner().AgentID()
		if !ok || msg.SenderID == nil || *msg.SenderID != owner {
			return nil, newError(KindForbidden, "agent does not own session %s", session.ID)
		}
		if _, err := s.agents.TouchLastActive(ctx, session.OrganizationID, owner, s.now()); err != nil {
			return nil, wrapError(KindInternal, err, "touch agent")
		}
	}

	chat := &model.ChatMessage{
		OrganizationID: session.OrganizationID,
		SessionID:      session.ID,
		SenderType:     msg.SenderType,
		SenderID:       msg.SenderID,
		Content:        msg.Text,
		SentAt:         s.now(),
	}
	if err := s.messages.Create(ctx, chat); err != nil {
		return nil, wrapError(KindInternal, err, "store message")
	}
	if err := s.touch(ctx, session, repositoryActivity(chat.SentAt, 1)); err != nil {
		return nil, err
	}
	return chat, nil
}

// History returns the stored messages of a session, oldest first.
func (s *RoutingService) History(ctx context.Context, orgID, sessionID uuid.UUID, limit int) ([]model.ChatMessage, error) {
	if _, err := s.sm.Get(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.messages.FindBySession(ctx, orgID, sessionID, limit)
	if err != nil {
		return nil, wrapError(KindInternal, err, "load messages")
	}
	return messages, nil
}

func (s *RoutingService) loadOrOpen(ctx context.Context, msg *InboundMessage) (*model.ChatSession, error) {
	if msg.SessionID != nil {
		return s.sm.Get(ctx, msg.OrganizationID, *msg.SessionID)
	}
	return s.sm.Open(ctx, OpenSessionRequest{
		OrganizationID:   msg.OrganizationID,
		CustomerID:       msg.CustomerID,
		BotPersonalityID: msg.BotPersonalityID,
		Priority:         model.ParsePriority(string(msg.Priority)),
	})
}

func (s *RoutingService) store(ctx context.Context, session *model.ChatSession, sender model.SenderType, senderID *uuid.UUID, text string, sentiment *float64, failed bool, meta map[string]interface{}) error {
	err := s.messages.Create(ctx, &model.ChatMessage{
		OrganizationID: session.OrganizationID,
		SessionID:      session.ID,
		SenderType:     sender,
		SenderID:       senderID,
		Content:        text,
		BotFailed:      failed,
		SentimentScore: sentiment,
		Metadata:       model.JSONMap(meta),
		SentAt:         s.now(),
	})
	if err != nil {
		return wrapError(KindInternal, err, "store message")
	}
	return nil
}

func (s *RoutingService) touch(ctx context.Context, session *model.ChatSession, u repository.ActivityUpdate) error {
	n, err := s.sessions.TouchActivity(ctx, session.OrganizationID, session.ID, u)
	if err != nil {
		return wrapError(KindInternal, err, "update session activity")
	}
	if n == 0 {
		return newError(KindSessionClosed, "session %s was closed", session.ID)
	}
	return nil
}

func repositoryActivity(at time.Time, delta int) repository.ActivityUpdate {
	return repository.ActivityUpdate{At: at, MessageDelta: delta}
}
