package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/botclient"
	"github.com/tgo/engage/internal/pkg/db"
)

type fakeBot struct {
	mu      sync.Mutex
	replies []*botclient.Reply
	err     error
	calls   []botclient.Request
}

func (b *fakeBot) Respond(ctx context.Context, req botclient.Request) (*botclient.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	if b.err != nil {
		return nil, b.err
	}
	if len(b.replies) == 0 {
		return &botclient.Reply{ResponseText: "happy to help"}, nil
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	return r, nil
}

func (b *fakeBot) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type notification struct {
	AgentID   uuid.UUID
	SessionID uuid.UUID
	Reason    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *fakeNotifier) NotifyAgent(ctx context.Context, agentID, sessionID uuid.UUID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{AgentID: agentID, SessionID: sessionID, Reason: reason})
	return n.err
}

type testEnv struct {
	db         *gorm.DB
	log        *logrus.Logger
	metrics    *metrics.Metrics
	sm         *StateMachine
	assign     *AssignmentService
	escalation *EscalationService
	routing    *RoutingService
	agents     *AgentService
	sessions   *SessionService
	bot        *fakeBot
	notifier   *fakeNotifier
	orgID      uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gormDB, err := db.NewGormDB("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gormDB))
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log, _ := logtest.NewNullLogger()
	m := metrics.NewMetrics()
	env := &testEnv{
		db:       gormDB,
		log:      log,
		metrics:  m,
		bot:      &fakeBot{},
		notifier: &fakeNotifier{},
		orgID:    uuid.New(),
	}
	env.sm = NewStateMachine(gormDB, log, m)
	env.assign = NewAssignmentService(gormDB, env.sm, DefaultScoreWeights(), log, m)
	env.escalation = NewEscalationService(gormDB, env.sm, env.assign, nil, env.notifier, log, m)
	env.routing = NewRoutingService(gormDB, env.sm, env.escalation, env.bot, log)
	env.agents = NewAgentService(gormDB, env.assign, nil, log)
	env.sessions = NewSessionService(gormDB)
	return env
}

func (e *testEnv) addAgent(t *testing.T, mutate func(a *model.Agent)) *model.Agent {
	t.Helper()
	a := &model.Agent{
		OrganizationID:     e.orgID,
		DisplayName:        "agent-" + uuid.NewString()[:8],
		MaxConcurrentChats: 5,
		Status:             model.AgentStatusActive,
		AvailabilityStatus: model.AvailabilityAvailable,
		PerformanceScore:   0.5,
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, e.db.Create(a).Error)
	return a
}

func (e *testEnv) openSession(t *testing.T) *model.ChatSession {
	t.Helper()
	s, err := e.sm.Open(context.Background(), OpenSessionRequest{OrganizationID: e.orgID, CustomerID: uuid.New()})
	require.NoError(t, err)
	return s
}

// escalatedSession opens a session and moves it to escalated.
func (e *testEnv) escalatedSession(t *testing.T) *model.ChatSession {
	t.Helper()
	s := e.openSession(t)
	s, err := e.sm.RequestHumanIntervention(context.Background(), e.ref(s), "test")
	require.NoError(t, err)
	return s
}

func (e *testEnv) setConfig(t *testing.T, cfg *model.EscalationConfig) {
	t.Helper()
	_, err := e.escalation.UpdateConfig(context.Background(), e.orgID, cfg)
	require.NoError(t, err)
}

func (e *testEnv) ref(s *model.ChatSession) SessionRef {
	return SessionRef{OrganizationID: s.OrganizationID, SessionID: s.ID}
}

func (e *testEnv) reloadAgent(t *testing.T, id uuid.UUID) *model.Agent {
	t.Helper()
	var a model.Agent
	require.NoError(t, e.db.First(&a, "id = ?", id).Error)
	return &a
}

func (e *testEnv) reloadSession(t *testing.T, id uuid.UUID) *model.ChatSession {
	t.Helper()
	var s model.ChatSession
	require.NoError(t, e.db.First(&s, "id = ?", id).Error)
	return &s
}

// waitingEntries counts the waiting queue entries of a session.
func (e *testEnv) waitingEntries(t *testing.T, sessionID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.AgentQueueEntry{}).
		Where("session_id = ? AND status = ?", sessionID, model.QueueStatusWaiting).
		Count(&n).Error)
	return n
}

// requireConsistentOwnership checks session ownership and agent load across the whole database.
func (e *testEnv) requireConsistentOwnership(t *testing.T) {
	t.Helper()

	var sessions []model.ChatSession
	require.NoError(t, e.db.Find(&sessions).Error)
	for _, s := range sessions {
		require.Equal(t, s.IsBotSession, s.AssignedAgentID == nil, "ownership columns out of sync on %s", s.ID)
	}

	var agents []model.Agent
	require.NoError(t, e.db.Find(&agents).Error)
	for _, a := range agents {
		require.GreaterOrEqual(t, a.CurrentActiveChats, 0)
		require.LessOrEqual(t, a.CurrentActiveChats, a.MaxConcurrentChats)
	}
}

func ptr[T any](v T) *T { return &v }

func minutesAgo(n int) time.Time {
	return time.Now().UTC().Add(-time.Duration(n) * time.Minute)
}

var errBotDown = errors.New("bot unavailable")
