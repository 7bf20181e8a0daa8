package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

const defaultStatsWindow = 30 * 24 * time.Hour

type EscalationHandler struct {
	svc *service.EscalationService
}

func NewEscalationHandler(svc *service.EscalationService) *EscalationHandler {
	return &EscalationHandler{svc: svc}
}

// GetConfig returns the effective config, the default one when none is stored.
func (h *EscalationHandler) GetConfig(c *gin.Context) {
	response.Success(c, h.svc.Config(c.Request.Context(), middleware.OrganizationID(c)))
}

type configRequest struct {
	Enabled                    bool     `json:"enabled"`
	EscalationTimeoutMinutes   int      `json:"escalation_timeout_minutes"`
	MaxFailedResponses         int      `json:"max_failed_responses"`
	EscalationKeywords         []string `json:"escalation_keywords"`
	NegativeSentimentKeywords  []string `json:"negative_sentiment_keywords"`
	NegativeSentimentThreshold *float64 `json:"negative_sentiment_threshold"`
	AutoAssignAgent            bool     `json:"auto_assign_agent"`
	NotifyAgent                bool     `json:"notify_agent"`
}

func (h *EscalationHandler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.svc.UpdateConfig(c.Request.Context(), middleware.OrganizationID(c), &model.EscalationConfig{
		Enabled:                    req.Enabled,
		EscalationTimeoutMinutes:   req.EscalationTimeoutMinutes,
		MaxFailedResponses:         req.MaxFailedResponses,
		EscalationKeywords:         req.EscalationKeywords,
		NegativeSentimentKeywords:  req.NegativeSentimentKeywords,
		NegativeSentimentThreshold: req.NegativeSentimentThreshold,
		AutoAssignAgent:            req.AutoAssignAgent,
		NotifyAgent:                req.NotifyAgent,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, cfg)
}

// Stats accepts since as RFC 3339; the default window is 30 days.
func (h *EscalationHandler) Stats(c *gin.Context) {
	since := time.Now().UTC().Add(-defaultStatsWindow)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		since = t.UTC()
	}

	stats, err := h.svc.GetStats(c.Request.Context(), middleware.OrganizationID(c), since)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, stats)
}
