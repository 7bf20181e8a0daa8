package botclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespond(t *testing.T) {
	sessionID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bot/respond", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, sessionID, req.SessionID)
		assert.Equal(t, "where is my order", req.MessageText)

		_, _ = w.Write([]byte(`{"response_text":"I am not sure","failed":true,"sentiment_score":-0.4}`))
	}))
	defer srv.Close()

	reply, err := NewClient(srv.URL).Respond(context.Background(), Request{SessionID: sessionID, MessageText: "where is my order"})
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.Equal(t, "I am not sure", reply.ResponseText)
	require.NotNil(t, reply.SentimentScore)
	assert.InDelta(t, -0.4, *reply.SentimentScore, 1e-9)
}

func TestRespond_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Respond(context.Background(), Request{MessageText: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
