package handlers

// Error codes returned in ErrorResponse.Code. The web tier branches on
// these, so existing values never change meaning.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeMissingField: a required identifier is absent from the event
	// data. ErrorResponse.Field names it.
	ErrCodeMissingField = "missing_field"
	// ErrCodeUnknownEvent: the bridge event name is not one of the six.
	ErrCodeUnknownEvent = "unknown_event"
	// ErrCodeInvalidEvent: the outbound frame failed validation and was not sent.
	ErrCodeInvalidEvent = "invalid_event"
	// ErrCodeEmitFailed: fan-out failed for a reason other than the above.
	ErrCodeEmitFailed = "emit_failed"
	// ErrCodeIdempotencyInFlight: an emit with the same Idempotency-Key has
	// not finished yet.
	ErrCodeIdempotencyInFlight = "idempotency_in_progress"
)
