// Package handlers serves the relay's bridge API: the web tier pushes events
// through POST /emit and reads presence, meeting and counter snapshots.
//
// Every failure is written as an ErrorResponse with a stable code from
// errors.go. Typed relay errors are mapped in one place, failErr, so the
// web tier can branch on the code without parsing messages.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/relay"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable code from errors.go
	Code string `json:"code" example:"missing_field"`
	// Human-readable detail
	Message string `json:"message" example:"notify-user: userId is required"`
	// Offending payload field, for missing_field
	Field string `json:"field,omitempty" example:"userId"`
}

// fail aborts with an ErrorResponse. 5xx are logged with the request logger.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// failErr maps an error from the relay to its status and code. Anything
// unrecognised is a 500 carrying fallback as its code.
func failErr(c *gin.Context, err error, fallback string) {
	var fe *relay.FieldError
	switch {
	case errors.As(err, &fe):
		failWith(c, http.StatusBadRequest, ErrorResponse{Code: ErrCodeMissingField, Message: fe.Error(), Field: fe.Field})
	case errors.Is(err, relay.ErrUnknownBridgeEvent):
		fail(c, http.StatusBadRequest, ErrCodeUnknownEvent, err.Error())
	case errors.Is(err, relay.ErrInvalidEvent):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidEvent, err.Error())
	case errors.Is(err, relay.ErrMeetingNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

// Fail lets the router answer NoRoute and NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
