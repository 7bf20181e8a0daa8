package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/redis"
)

func enabledConfig() *model.EscalationConfig {
	return &model.EscalationConfig{
		Enabled:            true,
		MaxFailedResponses: 3,
		EscalationKeywords: model.NewStringSet("talk to a human"),
		AutoAssignAgent:    true,
		NotifyAgent:        true,
	}
}

func TestEscalate_AssignsAvailableAgent(t *testing.T) {
	env := newTestEnv(t)
	env.setConfig(t, enabledConfig())
	agent := env.addAgent(t, nil)
	s := env.openSession(t)

	out, err := env.escalation.Escalate(context.Background(), EscalationRequest{Ref: env.ref(s), Trigger: TriggerKeyword, Reason: "asked"})
	require.NoError(t, err)
	require.True(t, out.Assigned())
	assert.Equal(t, agent.ID, *out.AgentID)
	assert.Empty(t, out.Code)
	assert.Equal(t, model.SessionStatusAgentAssigned, out.Session.SessionStatus)
	assert.Equal(t, "keyword: asked", out.Session.HandoverReason)
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats)

	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, agent.ID, env.notifier.sent[0].AgentID)
	assert.Equal(t, s.ID, env.notifier.sent[0].SessionID)
}

func TestEscalate_QueuesWhenNoAgent(t *testing.T) {
	env := newTestEnv(t)
	env.setConfig(t, enabledConfig())
	env.addAgent(t, func(a *model.Agent) { a.AvailabilityStatus = model.AvailabilityOffline })
	s := env.openSession(t)

	out, err := env.escalation.Escalate(context.Background(), EscalationRequest{Ref: env.ref(s), Trigger: TriggerBotFailures})
	require.NoError(t, err)
	assert.False(t, out.Assigned())
	assert.Equal(t, KindNoAgentAvailable, out.Code)
	require.NotNil(t, out.QueueEntry)
	assert.Equal(t, int64(1), out.QueuePosition)
	assert.Equal(t, model.PriorityHigh.Rank(), out.QueueEntry.Priority)

	stored := env.reloadSession(t, s.ID)
	assert.Equal(t, model.SessionStatusEscalated, stored.SessionStatus)
	assert.True(t, stored.IsBotSession)
	assert.Empty(t, env.notifier.sent)
}

func TestEscalate_AutoAssignDisabledQueuesWithoutError(t *testing.T) {
	env := newTestEnv(t)
	cfg := enabledConfig()
	cfg.AutoAssignAgent = false
	env.setConfig(t, cfg)
	env.addAgent(t, nil)
	s := env.openSession(t)

	out, err := env.escalation.Escalate(context.Background(), EscalationRequest{Ref: env.ref(s), Trigger: TriggerKeyword})
	require.NoError(t, err)
	assert.False(t, out.Assigned())
	assert.Empty(t, out.Code)
	require.NotNil(t, out.QueueEntry)
	assert.Equal(t, model.SessionStatusEscalated, out.Session.SessionStatus)
}

func TestEscalate_AssignmentFailureStillQueues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.setConfig(t, enabledConfig())
	s := env.openSession(t)

	// agent selection fails with a database error after the hand-over
	require.NoError(t, env.db.Exec("ALTER TABLE agents RENAME TO agents_offline").Error)
	out, err := env.escalation.Escalate(ctx, EscalationRequest{Ref: env.ref(s), Trigger: TriggerKeyword})
	require.NoError(t, env.db.Exec("ALTER TABLE agents_offline RENAME TO agents").Error)

	require.NoError(t, err)
	assert.False(t, out.Assigned())
	assert.Equal(t, KindNoAgentAvailable, out.Code)
	assert.Equal(t, int64(1), out.QueuePosition)
	assert.Equal(t, model.SessionStatusEscalated, env.reloadSession(t, s.ID).SessionStatus)
	assert.Equal(t, int64(1), env.waitingEntries(t, s.ID))

	env.addAgent(t, nil)
	res, err := env.assign.DrainQueue(ctx, env.orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, model.SessionStatusAgentAssigned, env.reloadSession(t, s.ID).SessionStatus)
}

func TestEscalate_NotificationFailureKeepsAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.setConfig(t, enabledConfig())
	env.notifier.err = errors.New("webhook down")
	agent := env.addAgent(t, nil)
	s := env.openSession(t)

	out, err := env.escalation.Escalate(context.Background(), EscalationRequest{Ref: env.ref(s), Trigger: TriggerKeyword})
	require.NoError(t, err)
	assert.True(t, out.Assigned())
	assert.Equal(t, model.SessionStatusAgentAssigned, env.reloadSession(t, s.ID).SessionStatus)
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats)
}

func TestEscalate_AlreadyEscalated(t *testing.T) {
	env := newTestEnv(t)
	s := env.escalatedSession(t)
	_, err := env.escalation.Escalate(context.Background(), EscalationRequest{Ref: env.ref(s), Trigger: TriggerTimeout})
	assert.True(t, IsKind(err, KindInvalidStateTransition))
}

func TestEscalateManually(t *testing.T) {
	env := newTestEnv(t)
	agent := env.addAgent(t, nil)
	s := env.openSession(t)

	_, err := env.escalation.EscalateManually(context.Background(), model.RoleCustomer, env.ref(s), "please", Criteria{})
	assert.True(t, IsKind(err, KindForbidden))
	assert.Equal(t, model.SessionStatusBotHandled, env.reloadSession(t, s.ID).SessionStatus)

	// no stored config: escalation is disabled but the override still works
	out, err := env.escalation.EscalateManually(context.Background(), model.RoleAgent, env.ref(s), "supervisor request", Criteria{})
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, out.Trigger)
	require.True(t, out.Assigned())
	assert.Equal(t, agent.ID, *out.AgentID)
}

func TestConfig_FallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg := env.escalation.Config(ctx, env.orgID)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.MaxFailedResponses)

	invalid := &model.EscalationConfig{OrganizationID: env.orgID, Enabled: true, MaxFailedResponses: -4}
	require.NoError(t, env.db.Select("*").Create(invalid).Error)

	cfg = env.escalation.Config(ctx, env.orgID)
	assert.False(t, cfg.Enabled, "invalid stored config must not enable escalation")
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.escalation.UpdateConfig(ctx, env.orgID, &model.EscalationConfig{MaxFailedResponses: -1})
	assert.True(t, IsKind(err, KindInvalidRequest))

	_, err = env.escalation.UpdateConfig(ctx, env.orgID, &model.EscalationConfig{NegativeSentimentThreshold: ptr(-3.0)})
	assert.True(t, IsKind(err, KindInvalidRequest))

	first := enabledConfig()
	first.EscalationKeywords = model.StringSet{" Human ", "human", "AGENT"}
	saved, err := env.escalation.UpdateConfig(ctx, env.orgID, first)
	require.NoError(t, err)
	assert.Equal(t, model.StringSet{"agent", "human"}, saved.EscalationKeywords)

	second := enabledConfig()
	second.AutoAssignAgent = false
	second.MaxFailedResponses = 5
	updated, err := env.escalation.UpdateConfig(ctx, env.orgID, second)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	var count int64
	require.NoError(t, env.db.Model(&model.EscalationConfig{}).Where("organization_id = ?", env.orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	cfg := env.escalation.Config(ctx, env.orgID)
	assert.False(t, cfg.AutoAssignAgent)
	assert.Equal(t, 5, cfg.MaxFailedResponses)
}

func TestConfig_UsesCacheAndInvalidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redis.NewEscalationConfigCache(redis.Wrap(rdb), time.Minute)
	svc := NewEscalationService(env.db, env.sm, env.assign, cache, nil, env.log, env.metrics)

	_, err := svc.UpdateConfig(ctx, env.orgID, enabledConfig())
	require.NoError(t, err)
	assert.True(t, svc.Config(ctx, env.orgID).Enabled)

	_, ok, err := cache.Get(ctx, env.orgID)
	require.NoError(t, err)
	assert.True(t, ok, "config is cached after the first read")

	// a write that bypasses the service is not seen until the cache expires
	require.NoError(t, env.db.Model(&model.EscalationConfig{}).Where("organization_id = ?", env.orgID).Update("enabled", false).Error)
	assert.True(t, svc.Config(ctx, env.orgID).Enabled)

	disabled := enabledConfig()
	disabled.Enabled = false
	_, err = svc.UpdateConfig(ctx, env.orgID, disabled)
	require.NoError(t, err)
	assert.False(t, svc.Config(ctx, env.orgID).Enabled)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)
	agent := env.addAgent(t, nil)

	resolved := env.openSession(t)
	out, err := env.escalation.Escalate(ctx, EscalationRequest{Ref: env.ref(resolved), Trigger: TriggerKeyword})
	require.NoError(t, err)
	require.True(t, out.Assigned())
	_, err = env.sm.Resolve(ctx, env.ref(resolved), "ok", nil)
	require.NoError(t, err)

	_, err = env.agents.SetAvailability(ctx, env.orgID, agent.ID, model.AvailabilityOffline)
	require.NoError(t, err)

	waiting := env.openSession(t)
	out, err = env.escalation.Escalate(ctx, EscalationRequest{Ref: env.ref(waiting), Trigger: TriggerTimeout})
	require.NoError(t, err)
	require.False(t, out.Assigned())

	env.openSession(t)

	stats, err := env.escalation.GetStats(ctx, env.orgID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEscalations)
	assert.Equal(t, int64(1), stats.ResolvedAfterHandover)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.GreaterOrEqual(t, stats.AvgEscalationSeconds, 0.0)
	assert.Equal(t, int64(1), stats.CurrentlyWaiting)
	assert.Equal(t, map[string]int64{"keyword": 1, "timeout": 1}, stats.ByReason)

	other, err := env.escalation.GetStats(ctx, uuid.New(), since)
	require.NoError(t, err)
	assert.Zero(t, other.TotalEscalations)
	assert.Zero(t, other.SuccessRate)
}
