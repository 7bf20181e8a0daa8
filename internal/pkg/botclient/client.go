package botclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is one customer message handed to the bot.
type Request struct {
	OrganizationID   uuid.UUID  `json:"organization_id"`
	SessionID        uuid.UUID  `json:"session_id"`
	BotPersonalityID *uuid.UUID `json:"bot_personality_id,omitempty"`
	MessageText      string     `json:"message_text"`
}

// Reply is the bot's answer. Failed means the bot could not answer the question.
type Reply struct {
	ResponseText   string   `json:"response_text"`
	Failed         bool     `json:"failed"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
}

// Client calls the bot service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the bot service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Respond asks the bot service to answer a message.
func (c *Client) Respond(ctx context.Context, req Request) (*Reply, error) {
	body, status, err := c.request(ctx, http.MethodPost, "/api/v1/bot/respond", req)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("bot service returned %d: %s", status, truncate(body, 200))
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode bot reply: %w", err)
	}
	return &reply, nil
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
