package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every failed request.
type Envelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	More   bool  `json:"has_more"`
}

func NewPage[T any](items []T, total int64, limit, offset int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
		More:   int64(offset+len(items)) < total,
	}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

func List[T any](c *gin.Context, items []T, total int64, limit, offset int) {
	c.JSON(http.StatusOK, NewPage(items, total, limit, offset))
}

func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Error: ErrorBody{Code: code, Message: message}})
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{Error: ErrorBody{Code: code, Message: message}})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "INVALID_REQUEST", message)
}

func Unauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, "AUTHENTICATION_FAILED", message)
}

func Forbidden(c *gin.Context, message string) {
	Abort(c, http.StatusForbidden, "FORBIDDEN", message)
}
