package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

type AgentHandler struct {
	svc *service.AgentService
}

func NewAgentHandler(svc *service.AgentService) *AgentHandler {
	return &AgentHandler{svc: svc}
}

func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.svc.List(c.Request.Context(), middleware.OrganizationID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"data": agents})
}

func (h *AgentHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	agent, err := h.svc.Get(c.Request.Context(), middleware.OrganizationID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, agent)
}

// Available ranks the agents that could take a conversation now. Filters come
// from the query: skill (repeatable), language (repeatable), department.
func (h *AgentHandler) Available(c *gin.Context) {
	criteria := service.Criteria{
		RequiredSkills: model.NewStringSet(c.QueryArray("skill")...),
		Department:     c.Query("department"),
		Languages:      c.QueryArray("language"),
	}
	ranked, err := h.svc.ListAvailable(c.Request.Context(), middleware.OrganizationID(c), criteria)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"data": ranked})
}

func (h *AgentHandler) SetAvailability(c *gin.Context) {
	id, ok := h.selfOrManager(c)
	if !ok {
		return
	}
	var req struct {
		AvailabilityStatus model.Availability `json:"availability_status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	agent, err := h.svc.SetAvailability(c.Request.Context(), middleware.OrganizationID(c), id, req.AvailabilityStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, agent)
}

func (h *AgentHandler) Heartbeat(c *gin.Context) {
	id, ok := h.selfOrManager(c)
	if !ok {
		return
	}
	if err := h.svc.Heartbeat(c.Request.Context(), middleware.OrganizationID(c), id); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

// selfOrManager lets agents act on themselves and managers on anyone.
func (h *AgentHandler) selfOrManager(c *gin.Context) (uuid.UUID, bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	if middleware.Role(c).Can(model.CapManageAgents) {
		return id, true
	}
	if self, isAgent := middleware.AgentID(c); isAgent && self == id {
		return id, true
	}
	response.Forbidden(c, "Agents may only update themselves")
	return uuid.Nil, false
}
