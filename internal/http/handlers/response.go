// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, the translation of classified application errors into statuses,
// pagination metadata and the small success writers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/services"
	"github.com/unisoflta/chatbot-back/internal/utils"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"chat not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to a response. Only classified messages reach
// the client; internal causes are logged and replaced by a generic text.
func failErr(c *gin.Context, err error) {
	switch {
	case err == services.ErrChatClosed:
		fail(c, http.StatusConflict, ErrCodeChatClosed, publicMessage(err))
		return
	case err == services.ErrTooLong:
		fail(c, http.StatusBadRequest, ErrCodeTooLong, publicMessage(err))
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, publicMessage(err))
	case apperr.KindNotFound, apperr.KindNoData:
		fail(c, http.StatusNotFound, ErrCodeNotFound, publicMessage(err))
	case apperr.KindForbidden:
		fail(c, http.StatusForbidden, ErrCodeForbidden, publicMessage(err))
	case apperr.KindUpstream, apperr.KindProtocol:
		middleware.LoggerFrom(c).Warn().Err(err).Msg("upstream failure")
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "upstream service unavailable")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// publicMessage returns the message of the outermost classified error.
func publicMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return apperr.KindOf(err).String()
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds the page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.BoundedInt(c.Query("page"), 1, 1, 0)
	pageSize = utils.BoundedInt(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return page, pageSize
}
