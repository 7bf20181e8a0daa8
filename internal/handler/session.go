package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

type SessionHandler struct {
	sm         *service.StateMachine
	sessions   *service.SessionService
	assign     *service.AssignmentService
	escalation *service.EscalationService
	routing    *service.RoutingService
}

func NewSessionHandler(sm *service.StateMachine, sessions *service.SessionService, assign *service.AssignmentService, escalation *service.EscalationService, routing *service.RoutingService) *SessionHandler {
	return &SessionHandler{sm: sm, sessions: sessions, assign: assign, escalation: escalation, routing: routing}
}

// versioned is embedded by every transition request.
type versioned struct {
	ExpectedVersion *int `json:"expected_version" binding:"omitempty,gte=1"`
}

type criteriaRequest struct {
	RequiredSkills []string `json:"required_skills" binding:"omitempty,max=20"`
	Department     string   `json:"department" binding:"max=100"`
	Languages      []string `json:"languages" binding:"omitempty,max=10"`
}

func (r criteriaRequest) criteria() service.Criteria {
	return service.Criteria{
		RequiredSkills: model.NewStringSet(r.RequiredSkills...),
		Department:     r.Department,
		Languages:      r.Languages,
	}
}

func (h *SessionHandler) ref(c *gin.Context, v versioned) (service.SessionRef, bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return service.SessionRef{}, false
	}
	return service.SessionRef{
		OrganizationID:  middleware.OrganizationID(c),
		SessionID:       id,
		ExpectedVersion: v.ExpectedVersion,
	}, true
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), middleware.OrganizationID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	var status *model.SessionStatus
	if s := c.Query("status"); s != "" {
		st := model.SessionStatus(s)
		status = &st
	}

	items, total, err := h.sessions.List(c.Request.Context(), middleware.OrganizationID(c), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	response.List(c, items, total, limit, offset)
}

func (h *SessionHandler) Messages(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	limit, _ := pagination(c)
	messages, err := h.routing.History(c.Request.Context(), middleware.OrganizationID(c), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"data": messages})
}

func (h *SessionHandler) Transfers(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	transfers, err := h.sessions.Transfers(c.Request.Context(), middleware.OrganizationID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"data": transfers})
}

// Escalate is the manual override.
func (h *SessionHandler) Escalate(c *gin.Context) {
	var req struct {
		versioned
		criteriaRequest
		Reason string `json:"reason" binding:"max=2000"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	ref, ok := h.ref(c, req.versioned)
	if !ok {
		return
	}

	out, err := h.escalation.EscalateManually(c.Request.Context(), middleware.Role(c), ref, req.Reason, req.criteria())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, out)
}

// Assign assigns the given agent, or the best candidate when agent_id is omitted.
func (h *SessionHandler) Assign(c *gin.Context) {
	var req struct {
		versioned
		criteriaRequest
		AgentID *uuid.UUID `json:"agent_id"`
		Reason  string     `json:"reason" binding:"max=2000"`
		Notes   string     `json:"notes" binding:"max=2000"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	ref, ok := h.ref(c, req.versioned)
	if !ok {
		return
	}

	opts := service.AssignOptions{Reason: req.Reason, Notes: req.Notes}
	var (
		session *model.ChatSession
		err     error
	)
	if req.AgentID != nil {
		session, err = h.assign.AssignConversationToAgent(c.Request.Context(), ref, *req.AgentID, opts)
	} else {
		session, err = h.assign.AutoAssign(c.Request.Context(), ref, req.criteria(), opts)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) Transfer(c *gin.Context) {
	var req struct {
		versioned
		AgentID uuid.UUID `json:"agent_id" binding:"required"`
		Notes   string    `json:"notes" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ref, ok := h.ref(c, req.versioned)
	if !ok {
		return
	}
	session, err := h.sm.TransferToAgent(c.Request.Context(), ref, req.AgentID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) EscalateToAgent(c *gin.Context) {
	var req struct {
		versioned
		AgentID uuid.UUID `json:"agent_id" binding:"required"`
		Reason  string    `json:"reason" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ref, ok := h.ref(c, req.versioned)
	if !ok {
		return
	}
	session, err := h.sm.EscalateToAgent(c.Request.Context(), ref, req.AgentID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) StartHandling(c *gin.Context) {
	h.simpleTransition(c, h.sm.StartAgentHandling)
}

func (h *SessionHandler) EndHandling(c *gin.Context) {
	h.simpleTransition(c, h.sm.EndAgentHandling)
}

func (h *SessionHandler) Close(c *gin.Context) {
	h.simpleTransition(c, h.sm.Close)
}

func (h *SessionHandler) Resolve(c *gin.Context) {
	var req struct {
		versioned
		Notes              string `json:"notes" binding:"max=5000"`
		SatisfactionRating *int   `json:"satisfaction_rating" binding:"omitempty,min=1,max=5"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	ref, ok := h.ref(c, req.versioned)
	if !ok {
		return
	}
	session, err := h.sm.Resolve(c.Request.Context(), ref, req.Notes, req.SatisfactionRating)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) simpleTransition(c *gin.Context, fn func(ctx context.Context, ref service.SessionRef) (*model.ChatSession, error)) {
	var req versioned
	if !bindOptionalJSON(c, &req) {
		return
	}
	ref, ok := h.ref(c, req)
	if !ok {
		return
	}
	session, err := fn(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}
