package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

type QueueHandler struct {
	svc *service.AssignmentService
}

func NewQueueHandler(svc *service.AssignmentService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

func (h *QueueHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	items, total, err := h.svc.ListQueue(c.Request.Context(), middleware.OrganizationID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	response.List(c, items, total, limit, offset)
}

func (h *QueueHandler) Drain(c *gin.Context) {
	result, err := h.svc.DrainQueue(c.Request.Context(), middleware.OrganizationID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
