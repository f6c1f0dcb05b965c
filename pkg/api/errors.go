package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
	"guidekit/pkg/persistence"
	"guidekit/pkg/service"
	"guidekit/pkg/workflow"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func invalidParam(field, msg string) error {
	return &service.ValidationError{Field: field, Message: msg}
}

// statusOf maps a service error to the HTTP status and client-facing message.
func statusOf(err error) (int, string) {
	var (
		verr     *service.ValidationError
		llmErr   *llmerrors.Error
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, persistence.ErrForbidden):
		return http.StatusForbidden, "you do not have access to this resource"
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, workflow.ErrQueueFull):
		return http.StatusServiceUnavailable, "ingestion queue is full, retry later"
	case errors.Is(err, llm.ErrMalformedJSON):
		return http.StatusBadGateway, "the language model returned an unusable response"
	case errors.As(err, &llmErr):
		status := llmerrors.HTTPStatus(err)
		switch status {
		case http.StatusTooManyRequests:
			return status, "the language model is rate limited, retry later"
		case http.StatusBadGateway:
			return status, "the language model returned an unusable response"
		case http.StatusServiceUnavailable:
			return status, "the language model is unavailable, retry later"
		default:
			return status, "the language model request failed"
		}
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// bind decodes a JSON body into v.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, err)
			return false
		}
		s.fail(c, invalidParam("body", "must be valid JSON: "+err.Error()))
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, "must be an integer")
	}
	return n, nil
}
