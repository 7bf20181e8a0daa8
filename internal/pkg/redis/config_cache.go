package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tgo/engage/internal/model"
)

const escalationConfigKeyPrefix = "escalation_config:"

// EscalationConfigCache keeps per-organization escalation configs for a short TTL.
type EscalationConfigCache struct {
	client *Client
	ttl    time.Duration
}

// NewEscalationConfigCache defaults to a one minute TTL.
func NewEscalationConfigCache(client *Client, ttl time.Duration) *EscalationConfigCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &EscalationConfigCache{client: client, ttl: ttl}
}

// Get returns ok=false on a cache miss.
func (c *EscalationConfigCache) Get(ctx context.Context, orgID uuid.UUID) (*model.EscalationConfig, bool, error) {
	raw, err := c.client.Get(ctx, c.key(orgID))
	if IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var cfg model.EscalationConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, false, fmt.Errorf("decode cached escalation config: %w", err)
	}
	return &cfg, true, nil
}

// Set caches cfg under its organization.
func (c *EscalationConfigCache) Set(ctx context.Context, cfg *model.EscalationConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(cfg.OrganizationID), b, c.ttl)
}

// Invalidate drops the cached config of an organization.
func (c *EscalationConfigCache) Invalidate(ctx context.Context, orgID uuid.UUID) error {
	return c.client.Del(ctx, c.key(orgID))
}

func (c *EscalationConfigCache) key(orgID uuid.UUID) string {
	return escalationConfigKeyPrefix + orgID.String()
}
