package relay

import (
	"encoding/json"
	"fmt"
)

// Encoder turns (event, payload) pairs into wire frames, validating each one
// at the point of emission.
type Encoder struct {
	v *Validator
}

// NewEncoder returns an Encoder backed by v.
func NewEncoder(v *Validator) *Encoder { return &Encoder{v: v} }

// Encode marshals payload, validates it and wraps it in an Envelope. An
// invalid event yields ErrInvalidEvent and must not be sent.
func (e *Encoder) Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	fields := map[string]any{}
	if payload != nil {
		// Non-object payloads validate as empty objects.
		_ = json.Unmarshal(data, &fields)
	}
	if !e.v.Check(event, fields) {
		return nil, fmt.Errorf("%s: %w", event, ErrInvalidEvent)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
