package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is the payload posted to the notification webhook.
type Event struct {
	Type      string    `json:"type"`
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookNotifier posts agent notifications to an external URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier posts notifications to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyAgent posts one notification and fails on 4xx and 5xx replies.
func (n *WebhookNotifier) NotifyAgent(ctx context.Context, agentID, sessionID uuid.UUID, reason string) error {
	payload, err := json.Marshal(Event{
		Type:      "session.escalated",
		AgentID:   agentID,
		SessionID: sessionID,
		Reason:    reason,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier only logs; used when no webhook is configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// NotifyAgent only logs the notification.
func (n LogNotifier) NotifyAgent(ctx context.Context, agentID, sessionID uuid.UUID, reason string) error {
	n.Log.WithFields(logrus.Fields{
		"component":  "notify",
		"agent_id":   agentID,
		"session_id": sessionID,
		"reason":     reason,
	}).Info("agent notification")
	return nil
}
