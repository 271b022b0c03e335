package relay

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// Schema lists the fields an outbound event carries.
type Schema struct {
	Required []string
	Optional []string
}

// Result is the outcome of validating one event.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// schemas is the outbound event table.
var schemas = map[string]Schema{
	EventAuthenticated:         {Required: []string{"userId", "username", "connectionId"}},
	EventAuthenticationFailed:  {Required: []string{"error"}},
	EventOnlineUsers:           {Required: []string{"users"}},
	EventChannelJoined:         {Required: []string{"channelId"}},
	EventChannelLeft:           {Required: []string{"channelId"}},
	EventUserJoinedChannel:     {Required: []string{"channelId", "userId", "username"}},
	EventDMJoined:              {Required: []string{"roomId"}},
	EventDMLeft:                {Required: []string{"roomId"}},
	EventNewChannelMessage:     {Required: []string{"id", "channelId", "userId", "content", "source"}, Optional: []string{"username", "messageType", "timestamp", "createdAt", "seq", "messageId"}},
	EventNewDMMessage:          {Required: []string{"id", "roomId", "userId", "content", "source"}, Optional: []string{"username", "messageType", "timestamp", "createdAt", "seq", "messageId"}},
	EventMessageSent:           {Required: []string{"messageId", "source"}, Optional: []string{"tempId", "channelId", "roomId", "duplicate"}},
	EventMessageError:          {Required: []string{"error", "source"}, Optional: []string{"tempId"}},
	EventUserTyping:            {Required: []string{"userId"}, Optional: []string{"channelId", "roomId", "username"}},
	EventUserStopTyping:        {Required: []string{"userId"}, Optional: []string{"channelId", "roomId", "username"}},
	EventUserStatusChanged:     {Required: []string{"userId", "status", "timestamp"}, Optional: []string{"username", "activityDetails"}},
	EventHeartbeatResponse:     {},
	EventReactionAdded:         {Required: []string{"messageId", "emoji", "userId"}, Optional: []string{"channelId", "roomId", "username"}},
	EventReactionRemoved:       {Required: []string{"messageId", "emoji", "userId"}, Optional: []string{"channelId", "roomId", "username"}},
	EventVoiceParticipants:     {Required: []string{"channelId", "meetingId", "participants", "count"}},
	EventMemberJoinedCommunity: {Required: []string{"communityId", "userId"}, Optional: []string{"username"}},
	EventCommunityMemberJoined: {Required: []string{"communityId", "userId"}, Optional: []string{"username"}},
	EventNotification:          {Optional: []string{"type", "title", "message"}},
}

// Validator checks outbound payloads against the schema table.
type Validator struct {
	schemas map[string]Schema
	log     zerolog.Logger
}

// NewValidator returns a Validator over the built-in event table.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{schemas: schemas, log: log.With().Str("component", "validator").Logger()}
}

// Validate applies the schema table and the cross-field rules to payload.
// Unregistered events are valid with a warning.
func (v *Validator) Validate(event string, payload map[string]any) Result {
	res := Result{Valid: true}

	schema, known := v.schemas[event]
	if !known {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no schema registered for event %q", event))
	}
	for _, f := range schema.Required {
		if !present(payload, f) {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required field %q", f))
		}
	}

	name := strings.ToLower(event)
	if strings.Contains(name, "channel") && !present(payload, "channelId") {
		res.Errors = appendOnce(res.Errors, `missing required field "channelId"`)
	}
	if strings.Contains(name, "dm") && !present(payload, "roomId") {
		res.Errors = appendOnce(res.Errors, `missing required field "roomId"`)
	}

	src, hasSource := payload["source"].(string)
	_, srcPresent := payload["source"]
	switch {
	case strings.Contains(name, "message") && !strings.Contains(name, "typing"):
		if !srcPresent || payload["source"] == nil {
			res.Errors = appendOnce(res.Errors, `missing required field "source"`)
		} else if !hasSource || !domain.Source(src).Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid source %v", payload["source"]))
		}
	case srcPresent && (!hasSource || !domain.Source(src).Valid()):
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown source %v", payload["source"]))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// Check validates and logs the outcome. It reports whether the event may be
// emitted.
func (v *Validator) Check(event string, payload map[string]any) bool {
	res := v.Validate(event, payload)
	if !res.Valid {
		validationFailures.WithLabelValues(event).Inc()
		v.log.Error().Str("event", event).Strs("errors", res.Errors).Msg("outbound event rejected")
		return false
	}
	for _, w := range res.Warnings {
		v.log.Warn().Str("event", event).Msg(w)
	}
	return true
}

func present(payload map[string]any, field string) bool {
	v, ok := payload[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

func appendOnce(list []string, msg string) []string {
	for _, m := range list {
		if m == msg {
			return list
		}
	}
	return append(list, msg)
}
