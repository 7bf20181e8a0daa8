package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgo/engage/internal/model"
)

func TestStateMachine_FullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.addAgent(t, nil)

	s := env.openSession(t)
	assert.Equal(t, model.SessionStatusBotHandled, s.SessionStatus)
	assert.True(t, s.Owner().IsBot())
	assert.Equal(t, 1, s.Version)

	s, err := env.sm.RequestHumanIntervention(ctx, env.ref(s), "customer asked")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEscalated, s.SessionStatus)
	assert.Equal(t, "customer asked", s.HandoverReason)
	require.NotNil(t, s.HandoverAt)
	assert.True(t, s.IsBotSession, "escalated sessions stay bot-owned until assigned")

	s, err = env.sm.AssignToAgent(ctx, env.ref(s), agent.ID, AssignOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusAgentAssigned, s.SessionStatus)
	owner, ok := s.Owner().AgentID()
	require.True(t, ok)
	assert.Equal(t, agent.ID, owner)
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats)

	s, err = env.sm.StartAgentHandling(ctx, env.ref(s))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusAgentHandling, s.SessionStatus)

	s, err = env.sm.EndAgentHandling(ctx, env.ref(s))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusAgentAssigned, s.SessionStatus)
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats, "ending handling keeps the slot")

	s, err = env.sm.StartAgentHandling(ctx, env.ref(s))
	require.NoError(t, err)

	s, err = env.sm.Resolve(ctx, env.ref(s), "refund issued", ptr(5))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusResolved, s.SessionStatus)
	assert.True(t, s.IsResolved)
	require.NotNil(t, s.ResolutionTime)
	assert.GreaterOrEqual(t, *s.ResolutionTime, int64(0))
	assert.Equal(t, 0, env.reloadAgent(t, agent.ID).CurrentActiveChats)

	s, err = env.sm.Close(ctx, env.ref(s))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, s.SessionStatus)
	assert.False(t, s.IsActive)
	require.NotNil(t, s.ClosedAt)
	assert.Equal(t, 0, env.reloadAgent(t, agent.ID).CurrentActiveChats, "closing a resolved session releases nothing")

	stored := env.reloadSession(t, s.ID)
	assert.Equal(t, s.Version, stored.Version)
	assert.Equal(t, 8, stored.Version)

	env.requireConsistentOwnership(t)
}

func TestStateMachine_ClosedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.addAgent(t, nil)

	s := env.openSession(t)
	_, err := env.sm.Close(ctx, env.ref(s))
	require.NoError(t, err)

	ops := map[string]func() error{
		"escalate": func() error { _, err := env.sm.RequestHumanIntervention(ctx, env.ref(s), "x"); return err },
		"assign":   func() error { _, err := env.sm.AssignToAgent(ctx, env.ref(s), agent.ID, AssignOptions{}); return err },
		"start":    func() error { _, err := env.sm.StartAgentHandling(ctx, env.ref(s)); return err },
		"resolve":  func() error { _, err := env.sm.Resolve(ctx, env.ref(s), "", nil); return err },
		"close":    func() error { _, err := env.sm.Close(ctx, env.ref(s)); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.True(t, IsKind(err, KindInvalidStateTransition), "got %v", err)
		})
	}
	assert.Equal(t, 0, env.reloadAgent(t, agent.ID).CurrentActiveChats)
}

func TestStateMachine_RejectsOutOfOrderTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := env.openSession(t)

	_, err := env.sm.Resolve(ctx, env.ref(s), "", nil)
	assert.True(t, IsKind(err, KindInvalidStateTransition))

	_, err = env.sm.StartAgentHandling(ctx, env.ref(s))
	assert.True(t, IsKind(err, KindInvalidStateTransition))

	_, err = env.sm.TransferToAgent(ctx, env.ref(s), uuid.New(), "")
	assert.True(t, IsKind(err, KindInvalidStateTransition))

	s, err = env.sm.RequestHumanIntervention(ctx, env.ref(s), "first")
	require.NoError(t, err)
	_, err = env.sm.RequestHumanIntervention(ctx, env.ref(s), "second")
	assert.True(t, IsKind(err, KindInvalidStateTransition))

	stored := env.reloadSession(t, s.ID)
	assert.Equal(t, "first", stored.HandoverReason)
	assert.Equal(t, 2, stored.Version)
}

func TestStateMachine_DirectAssignmentFromBotHandled(t *testing.T) {
	env := newTestEnv(t)
	agent := env.addAgent(t, nil)
	s := env.openSession(t)

	s, err := env.sm.AssignToAgent(context.Background(), env.ref(s), agent.ID, AssignOptions{Reason: "vip customer"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusAgentAssigned, s.SessionStatus)
	require.NotNil(t, s.HandoverAt)
	assert.Equal(t, "vip customer", s.HandoverReason)

	transfers, err := env.sessions.Transfers(context.Background(), env.orgID, s.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, model.TransferKindAssignment, transfers[0].Kind)
	assert.Nil(t, transfers[0].FromAgentID)
}

func TestStateMachine_AgentAtCapacity(t *testing.T) {
	env := newTestEnv(t)
	full := env.addAgent(t, func(a *model.Agent) {
		a.MaxConcurrentChats = 5
		a.CurrentActiveChats = 5
	})
	s := env.escalatedSession(t)

	_, err := env.sm.AssignToAgent(context.Background(), env.ref(s), full.ID, AssignOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAgentAtCapacity), "got %v", err)

	assert.Equal(t, 5, env.reloadAgent(t, full.ID).CurrentActiveChats)
	stored := env.reloadSession(t, s.ID)
	assert.Equal(t, model.SessionStatusEscalated, stored.SessionStatus)
	assert.Equal(t, s.Version, stored.Version, "failed assignment must not touch the session")
	assert.True(t, stored.IsBotSession)
}

func TestStateMachine_AssignRejectsInactiveAndUnknownAgents(t *testing.T) {
	env := newTestEnv(t)
	suspended := env.addAgent(t, func(a *model.Agent) { a.Status = model.AgentStatusSuspended })
	s := env.escalatedSession(t)

	_, err := env.sm.AssignToAgent(context.Background(), env.ref(s), suspended.ID, AssignOptions{})
	assert.True(t, IsKind(err, KindAgentNotEligible), "got %v", err)

	_, err = env.sm.AssignToAgent(context.Background(), env.ref(s), uuid.New(), AssignOptions{})
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)

	otherOrg := env.addAgent(t, func(a *model.Agent) { a.OrganizationID = uuid.New() })
	_, err = env.sm.AssignToAgent(context.Background(), env.ref(s), otherOrg.ID, AssignOptions{})
	assert.True(t, IsKind(err, KindNotFound), "agents of other organizations are invisible, got %v", err)
}

func TestStateMachine_TransferMovesLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a3 := env.addAgent(t, nil)
	a4 := env.addAgent(t, func(a *model.Agent) { a.CurrentActiveChats = 2 })

	s := env.escalatedSession(t)
	s, err := env.sm.AssignToAgent(ctx, env.ref(s), a3.ID, AssignOptions{})
	require.NoError(t, err)
	s, err = env.sm.StartAgentHandling(ctx, env.ref(s))
	require.NoError(t, err)

	s, err = env.sm.TransferToAgent(ctx, env.ref(s), a4.ID, "customer needs billing expert")
	require.NoError(t, err)

	owner, _ := s.Owner().AgentID()
	assert.Equal(t, a4.ID, owner)
	assert.Equal(t, model.SessionStatusAgentHandling, s.SessionStatus)
	assert.Equal(t, 0, env.reloadAgent(t, a3.ID).CurrentActiveChats)
	assert.Equal(t, 3, env.reloadAgent(t, a4.ID).CurrentActiveChats)

	transfers, err := env.sessions.Transfers(ctx, env.orgID, s.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	last := transfers[1]
	assert.Equal(t, model.TransferKindTransfer, last.Kind)
	assert.Equal(t, "customer needs billing expert", last.Notes)
	require.NotNil(t, last.FromAgentID)
	assert.Equal(t, a3.ID, *last.FromAgentID)

	env.requireConsistentOwnership(t)
}

func TestStateMachine_TransferToFullAgentRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	from := env.addAgent(t, nil)
	full := env.addAgent(t, func(a *model.Agent) {
		a.MaxConcurrentChats = 1
		a.CurrentActiveChats = 1
	})

	s := env.escalatedSession(t)
	s, err := env.sm.AssignToAgent(ctx, env.ref(s), from.ID, AssignOptions{})
	require.NoError(t, err)

	_, err = env.sm.TransferToAgent(ctx, env.ref(s), full.ID, "")
	assert.True(t, IsKind(err, KindAgentAtCapacity))

	stored := env.reloadSession(t, s.ID)
	owner, _ := stored.Owner().AgentID()
	assert.Equal(t, from.ID, owner)
	assert.Equal(t, 1, env.reloadAgent(t, from.ID).CurrentActiveChats, "old agent keeps the slot")
	assert.Equal(t, 1, env.reloadAgent(t, full.ID).CurrentActiveChats)
}

func TestStateMachine_TransferToSameAgent(t *testing.T) {
	env := newTestEnv(t)
	agent := env.addAgent(t, nil)
	s := env.escalatedSession(t)
	s, err := env.sm.AssignToAgent(context.Background(), env.ref(s), agent.ID, AssignOptions{})
	require.NoError(t, err)

	_, err = env.sm.TransferToAgent(context.Background(), env.ref(s), agent.ID, "")
	assert.True(t, IsKind(err, KindInvalidRequest))
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats)
}

func TestStateMachine_EscalateToAgentCountsEscalation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.addAgent(t, nil)
	senior := env.addAgent(t, nil)

	s := env.escalatedSession(t)
	s, err := env.sm.AssignToAgent(ctx, env.ref(s), first.ID, AssignOptions{})
	require.NoError(t, err)

	s, err = env.sm.EscalateToAgent(ctx, env.ref(s), senior.ID, "needs supervisor")
	require.NoError(t, err)
	assert.Equal(t, 1, s.EscalationCount)
	assert.Equal(t, "needs supervisor", s.HandoverReason)
	assert.Equal(t, model.SessionStatusAgentAssigned, s.SessionStatus)
	assert.Equal(t, 0, env.reloadAgent(t, first.ID).CurrentActiveChats)
	assert.Equal(t, 1, env.reloadAgent(t, senior.ID).CurrentActiveChats)

	transfers, err := env.sessions.Transfers(ctx, env.orgID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransferKindEscalation, transfers[len(transfers)-1].Kind)
}

func TestStateMachine_CloseReleasesSlotAndCancelsQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.addAgent(t, nil)

	handled := env.escalatedSession(t)
	handled, err := env.sm.AssignToAgent(ctx, env.ref(handled), agent.ID, AssignOptions{})
	require.NoError(t, err)
	handled, err = env.sm.StartAgentHandling(ctx, env.ref(handled))
	require.NoError(t, err)

	_, err = env.sm.Close(ctx, env.ref(handled))
	require.NoError(t, err)
	assert.Equal(t, 0, env.reloadAgent(t, agent.ID).CurrentActiveChats)

	queued := env.escalatedSession(t)
	_, _, err = env.assign.Enqueue(ctx, EnqueueRequest{Session: queued, Priority: 2})
	require.NoError(t, err)

	_, err = env.sm.Close(ctx, env.ref(queued))
	require.NoError(t, err)

	var entry model.AgentQueueEntry
	require.NoError(t, env.db.Where("session_id = ?", queued.ID).First(&entry).Error)
	assert.Equal(t, model.QueueStatusCancelled, entry.Status)
}

func TestStateMachine_ResolveValidatesRating(t *testing.T) {
	env := newTestEnv(t)
	agent := env.addAgent(t, nil)
	s := env.escalatedSession(t)
	s, err := env.sm.AssignToAgent(context.Background(), env.ref(s), agent.ID, AssignOptions{})
	require.NoError(t, err)

	_, err = env.sm.Resolve(context.Background(), env.ref(s), "", ptr(6))
	assert.True(t, IsKind(err, KindInvalidRequest))

	s, err = env.sm.Resolve(context.Background(), env.ref(s), "done", nil)
	require.NoError(t, err)
	assert.Nil(t, s.SatisfactionRating)
}

func TestStateMachine_ExpectedVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	s := env.openSession(t)

	stale := 7
	ref := env.ref(s)
	ref.ExpectedVersion = &stale
	_, err := env.sm.RequestHumanIntervention(context.Background(), ref, "x")
	assert.True(t, IsKind(err, KindConcurrentModification), "got %v", err)

	current := s.Version
	ref.ExpectedVersion = &current
	_, err = env.sm.RequestHumanIntervention(context.Background(), ref, "x")
	require.NoError(t, err)
}

func TestStateMachine_NoDoubleAssignment(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.addAgent(t, nil)
	a2 := env.addAgent(t, nil)
	s := env.escalatedSession(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, agentID := range []uuid.UUID{a1.ID, a2.ID} {
		wg.Add(1)
		go func(i int, agentID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = env.sm.AssignToAgent(context.Background(), env.ref(s), agentID, AssignOptions{})
		}(i, agentID)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		kind := KindOf(err)
		assert.Contains(t, []Kind{KindConcurrentModification, KindInvalidStateTransition}, kind)
	}
	assert.Equal(t, 1, successes)

	total := env.reloadAgent(t, a1.ID).CurrentActiveChats + env.reloadAgent(t, a2.ID).CurrentActiveChats
	assert.Equal(t, 1, total)
	env.requireConsistentOwnership(t)
}

func TestStateMachine_CapacityRace(t *testing.T) {
	env := newTestEnv(t)
	agent := env.addAgent(t, func(a *model.Agent) { a.MaxConcurrentChats = 1 })
	sessions := []*model.ChatSession{env.escalatedSession(t), env.escalatedSession(t), env.escalatedSession(t)}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *model.ChatSession) {
			defer wg.Done()
			_, errs[i] = env.sm.AssignToAgent(context.Background(), env.ref(s), agent.ID, AssignOptions{})
		}(i, s)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, IsKind(err, KindAgentAtCapacity), "got %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, env.reloadAgent(t, agent.ID).CurrentActiveChats)
	env.requireConsistentOwnership(t)
}

func TestStateMachine_CrossTransfers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.addAgent(t, nil)
	b := env.addAgent(t, nil)

	held := func(agentID uuid.UUID) *model.ChatSession {
		s := env.escalatedSession(t)
		s, err := env.sm.AssignToAgent(ctx, env.ref(s), agentID, AssignOptions{})
		require.NoError(t, err)
		s, err = env.sm.StartAgentHandling(ctx, env.ref(s))
		require.NoError(t, err)
		return s
	}
	fromA, fromB := held(a.ID), held(b.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	moves := []struct {
		s  *model.ChatSession
		to uuid.UUID
	}{{fromA, b.ID}, {fromB, a.ID}}
	for i, m := range moves {
		wg.Add(1)
		go func(i int, s *model.ChatSession, to uuid.UUID) {
			defer wg.Done()
			_, errs[i] = env.sm.TransferToAgent(ctx, env.ref(s), to, "swap")
		}(i, m.s, m.to)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	ownerA, _ := env.reloadSession(t, fromA.ID).Owner().AgentID()
	assert.Equal(t, b.ID, ownerA)
	ownerB, _ := env.reloadSession(t, fromB.ID).Owner().AgentID()
	assert.Equal(t, a.ID, ownerB)
	assert.Equal(t, 1, env.reloadAgent(t, a.ID).CurrentActiveChats)
	assert.Equal(t, 1, env.reloadAgent(t, b.ID).CurrentActiveChats)
	env.requireConsistentOwnership(t)
}

func TestStateMachine_OpenRequiresIDs(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sm.Open(context.Background(), OpenSessionRequest{OrganizationID: env.orgID})
	assert.True(t, IsKind(err, KindInvalidRequest))
}
