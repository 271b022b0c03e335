package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by relay components. Targeting errors are
// non-fatal: callers log them and skip the operation.
var (
	// ErrMissingIdentity is returned by Attach when userId or username is empty.
	ErrMissingIdentity = errors.New("userId and username are required")

	// ErrUnknownConnection is returned when a connection id is not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrUndecidableRoom is returned when no target room can be derived.
	ErrUndecidableRoom = errors.New("target room undecidable")

	// ErrMeetingNotFound is returned when a channel has no active voice meeting.
	ErrMeetingNotFound = errors.New("voice meeting not found")

	// ErrInvalidEvent is returned when an outbound event fails validation and
	// was therefore not emitted.
	ErrInvalidEvent = errors.New("outbound event failed validation")

	// ErrUnknownBridgeEvent is returned for bridge events outside the
	// supported set.
	ErrUnknownBridgeEvent = errors.New("unknown bridge event")

	// ErrNotAuthenticated is returned when a connection sends an event that
	// requires an attached identity before authenticating.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// FieldError reports a required field missing from an inbound payload.
type FieldError struct {
	Event string
	Field string
}

func (e *FieldError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s is required", e.Event, e.Field)
}

func missing(event, field string) error { return &FieldError{Event: event, Field: field} }
