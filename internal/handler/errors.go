package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tgo/engage/internal/pkg/response"
	"github.com/tgo/engage/internal/service"
)

var kindStatus = map[service.Kind]int{
	service.KindInvalidStateTransition: http.StatusConflict,
	service.KindAgentAtCapacity:        http.StatusConflict,
	service.KindNoAgentAvailable:       http.StatusConflict,
	service.KindConcurrentModification: http.StatusConflict,
	service.KindSessionClosed:          http.StatusConflict,
	service.KindAgentNotEligible:       http.StatusUnprocessableEntity,
	service.KindNotFound:               http.StatusNotFound,
	service.KindInvalidRequest:         http.StatusBadRequest,
	service.KindForbidden:              http.StatusForbidden,
	service.KindConfigurationError:     http.StatusInternalServerError,
}

// respondError writes the error envelope for err. Internal failures are
// recorded on the context for the request logger and never exposed.
func respondError(c *gin.Context, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		if status, ok := kindStatus[se.Kind]; ok && status < 500 {
			response.Error(c, status, string(se.Kind), se.Message)
			return
		}
	}
	_ = c.Error(err)
	response.Error(c, http.StatusInternalServerError, string(service.KindInternal), "internal error")
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.BadRequest(c, err.Error())
		return false
	}
	return true
}
