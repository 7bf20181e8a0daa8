package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

type MessageHandler struct {
	routing *service.RoutingService
}

func NewMessageHandler(routing *service.RoutingService) *MessageHandler {
	return &MessageHandler{routing: routing}
}

type inboundRequest struct {
	criteriaRequest
	SessionID        *uuid.UUID             `json:"session_id"`
	CustomerID       uuid.UUID              `json:"customer_id"`
	BotPersonalityID *uuid.UUID             `json:"bot_personality_id"`
	Text             string                 `json:"text" binding:"required,max=10000"`
	Priority         model.Priority         `json:"priority" binding:"omitempty,oneof=low medium normal high urgent"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// Inbound routes a customer message to the bot or the human side.
func (h *MessageHandler) Inbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.routing.RouteInboundMessage(c.Request.Context(), service.InboundMessage{
		OrganizationID:   middleware.OrganizationID(c),
		SessionID:        req.SessionID,
		CustomerID:       req.CustomerID,
		BotPersonalityID: req.BotPersonalityID,
		Text:             req.Text,
		Priority:         req.Priority,
		Languages:        req.Languages,
		RequiredSkills:   req.RequiredSkills,
		Department:       req.Department,
		Metadata:         req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

type outboundRequest struct {
	SessionID  uuid.UUID        `json:"session_id" binding:"required"`
	SenderType model.SenderType `json:"sender_type"`
	SenderID   *uuid.UUID       `json:"sender_id"`
	Text       string           `json:"text" binding:"required,max=10000"`
}

// Outbound stores a reply. Agents always write as themselves; bot and system
// replies need the message routing capability.
func (h *MessageHandler) Outbound(c *gin.Context) {
	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg := service.OutboundMessage{
		OrganizationID: middleware.OrganizationID(c),
		SessionID:      req.SessionID,
		SenderType:     req.SenderType,
		SenderID:       req.SenderID,
		Text:           req.Text,
	}
	if agentID, ok := middleware.AgentID(c); ok && middleware.Role(c) == model.RoleAgent {
		msg.SenderType = model.SenderAgent
		msg.SenderID = &agentID
	} else if !middleware.Role(c).Can(model.CapRouteMessages) {
		response.Forbidden(c, "Role may not post messages")
		return
	}

	stored, err := h.routing.RecordOutboundMessage(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, stored)
}
