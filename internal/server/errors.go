package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	questiondomain "github.com/octue/twined-server/internal/question/domain"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware converts errors queued on the context into a
// structured JSON error body. Handlers never write stack traces.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, srdomain.ErrInvalidName),
		errors.Is(err, srdomain.ErrInvalidNamespace),
		errors.Is(err, srdomain.ErrInvalidTag),
		errors.Is(err, questiondomain.ErrInvalidRequest),
		errors.Is(err, questiondomain.ErrNoServiceRevision),
		errors.Is(err, usagedomain.ErrInvalidQuestion),
		errors.Is(err, usagedomain.ErrInvalidRevision),
		errors.Is(err, usagedomain.ErrInvalidPayload),
		errors.Is(err, usagedomain.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, srdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "service revision not found",
		}
	case errors.Is(err, questiondomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "question not found",
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, srdomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "service revision already exists",
		}
	case errors.Is(err, questiondomain.ErrAlreadyAsked):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "question has already been asked",
		}
	case errors.Is(err, srdomain.ErrDispatchFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "dispatch_failed",
			Message: "question could not be dispatched",
		}
	case errors.Is(err, questiondomain.ErrNotImplemented):
		return http.StatusInternalServerError, errorPayload{
			Type:    "not_implemented",
			Message: "question resolver is not configured",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
