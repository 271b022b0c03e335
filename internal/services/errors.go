// Package services defines the business logic behind message persistence.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into client-facing events or HTTP status codes is performed by
// the relay and handler layers.
package services

import "errors"

// Message-related errors.
var (
	// ErrEmptyContent is returned when a message to persist has no content
	// after trimming.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when a message exceeds the configured maximum
	// length.
	ErrTooLong = errors.New("message content too long")

	// ErrMissingTarget is returned when a message carries neither a channel
	// id nor a DM room id, or carries both.
	ErrMissingTarget = errors.New("message must target exactly one channel or room")

	// ErrMissingAuthor is returned when a message has no author id.
	ErrMissingAuthor = errors.New("message author is required")
)
