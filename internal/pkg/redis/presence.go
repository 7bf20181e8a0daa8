package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	agentPresenceKeyPrefix = "agent_presence:"

	// DefaultPresenceTimeout is how long an agent stays online without a heartbeat.
	DefaultPresenceTimeout = 5 * time.Minute
)

// AgentPresence tracks agent heartbeats with expiring keys.
type AgentPresence struct {
	client  *Client
	timeout time.Duration
}

// NewAgentPresence defaults to DefaultPresenceTimeout when timeout is zero.
func NewAgentPresence(client *Client, timeout time.Duration) *AgentPresence {
	if timeout == 0 {
		timeout = DefaultPresenceTimeout
	}
	return &AgentPresence{client: client, timeout: timeout}
}

// Heartbeat marks the agent online for another timeout period.
func (p *AgentPresence) Heartbeat(ctx context.Context, agentID uuid.UUID) error {
	return p.client.Set(ctx, p.key(agentID), time.Now().UTC().Format(time.RFC3339), p.timeout)
}

// IsOnline reports whether the agent sent a heartbeat within the timeout.
func (p *AgentPresence) IsOnline(ctx context.Context, agentID uuid.UUID) (bool, error) {
	n, err := p.client.Exists(ctx, p.key(agentID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *AgentPresence) Forget(ctx context.Context, agentID uuid.UUID) error {
	return p.client.Del(ctx, p.key(agentID))
}

func (p *AgentPresence) key(agentID uuid.UUID) string {
	return fmt.Sprintf("%s%s", agentPresenceKeyPrefix, agentID)
}
