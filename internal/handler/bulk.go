package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

type BulkHandler struct {
	svc *service.AssignmentService
}

func NewBulkHandler(svc *service.AssignmentService) *BulkHandler {
	return &BulkHandler{svc: svc}
}

type bulkSummary struct {
	Results   []service.BulkItemResult `json:"results"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

func summarize(results []service.BulkItemResult) bulkSummary {
	s := bulkSummary{Results: results}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

func (h *BulkHandler) Reassign(c *gin.Context) {
	var req struct {
		Items []service.BulkReassignItem `json:"items" binding:"required,min=1,max=100,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	results := h.svc.BulkReassign(c.Request.Context(), middleware.OrganizationID(c), req.Items)
	response.Success(c, summarize(results))
}

func (h *BulkHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Items []service.BulkStatusItem `json:"items" binding:"required,min=1,max=100,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	results := h.svc.BulkUpdateStatus(c.Request.Context(), middleware.OrganizationID(c), req.Items)
	response.Success(c, summarize(results))
}
