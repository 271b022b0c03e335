package relay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Inbound event names.
const (
	EventAuthenticate   = "authenticate"
	EventJoinChannel    = "join-channel"
	EventLeaveChannel   = "leave-channel"
	EventChannelMessage = "channel-message"
	EventJoinDM         = "join-dm"
	EventLeaveDM        = "leave-dm"
	EventDMMessage      = "dm-message"
	EventTyping         = "typing"
	EventStopTyping     = "stop-typing"
	EventHeartbeat      = "heartbeat"
	EventUpdatePresence = "update-presence"
	EventAddReaction    = "add-reaction"
	EventRemoveReaction = "remove-reaction"
	EventJoinVoice      = "join-voice"
	EventLeaveVoice     = "leave-voice"
)

// Outbound event names.
const (
	EventAuthenticated         = "authenticated"
	EventAuthenticationFailed  = "authentication-failed"
	EventOnlineUsers           = "online-users"
	EventChannelJoined         = "channel-joined"
	EventChannelLeft           = "channel-left"
	EventUserJoinedChannel     = "user-joined-channel"
	EventDMJoined              = "dm-joined"
	EventDMLeft                = "dm-left"
	EventNewChannelMessage     = "new-channel-message"
	EventNewDMMessage          = "new-dm-message"
	EventMessageSent           = "message-sent-confirmation"
	EventMessageError          = "message_error"
	EventUserTyping            = "user-typing"
	EventUserStopTyping        = "user-stop-typing"
	EventUserStatusChanged     = "user-status-changed"
	EventHeartbeatResponse     = "heartbeat-response"
	EventReactionAdded         = "reaction-added"
	EventReactionRemoved       = "reaction-removed"
	EventVoiceParticipants     = "voice-participants-updated"
	EventMemberJoinedCommunity = "member-joined-community"
	EventCommunityMemberJoined = "community-member-joined"
	EventNotification          = "notification"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ID is an identifier that clients may send as a JSON number or string. It is
// always carried as a string.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = ID(n.String())
		return nil
	}
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Timestamp is a client-supplied timestamp, either epoch milliseconds or a
// formatted string. It is kept verbatim for fingerprinting.
type Timestamp = ID

// ---- inbound payloads ----

type authenticatePayload struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

type channelPayload struct {
	ChannelID ID `json:"channelId"`
}

type dmPayload struct {
	RoomID ID `json:"roomId"`
}

type messagePayload struct {
	ChannelID   ID        `json:"channelId"`
	RoomID      ID        `json:"roomId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Timestamp   Timestamp `json:"timestamp"`
	TempID      ID        `json:"tempId"`
}

type typingPayload struct {
	ChannelID  ID     `json:"channelId"`
	RoomID     ID     `json:"roomId"`
	TargetType string `json:"targetType"`
	TargetID   ID     `json:"targetId"`
}

type presencePayload struct {
	Status          string `json:"status"`
	ActivityDetails string `json:"activityDetails"`
}

type reactionPayload struct {
	MessageID ID     `json:"messageId"`
	Emoji     string `json:"emoji"`
	ChannelID ID     `json:"channelId"`
	RoomID    ID     `json:"roomId"`
}

type voicePayload struct {
	ChannelID ID `json:"channelId"`
	MeetingID ID `json:"meetingId"`
}

// ---- outbound payloads ----

type authenticatedPayload struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type errorPayload struct {
	Error  string `json:"error"`
	TempID string `json:"tempId,omitempty"`
	Source string `json:"source,omitempty"`
}

type channelRef struct {
	ChannelID string `json:"channelId"`
}

type dmRef struct {
	RoomID string `json:"roomId"`
}

type userJoinedPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

type typingOut struct {
	ChannelID string `json:"channelId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

type statusChangedPayload struct {
	UserID          string `json:"userId"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	Username        string `json:"username,omitempty"`
	ActivityDetails string `json:"activityDetails,omitempty"`
}

type reactionOut struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ChannelID string `json:"channelId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
}

// Participant is a connection taking part in a voice meeting.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
}

type voiceParticipantsPayload struct {
	ChannelID    string        `json:"channelId"`
	MeetingID    string        `json:"meetingId"`
	Participants []Participant `json:"participants"`
	Count        int           `json:"count"`
}

type onlineUsersPayload struct {
	Users map[string]OnlineUser `json:"users"`
}

// MessageOut is the fan-out payload of new-channel-message and new-dm-message.
type MessageOut struct {
	ID          string `json:"id"`
	MessageID   string `json:"messageId"`
	ChannelID   string `json:"channelId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   string `json:"timestamp,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	Source      string `json:"source"`
	Seq         uint64 `json:"seq"`
}

type confirmationPayload struct {
	TempID    string `json:"tempId,omitempty"`
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Source    string `json:"source"`
}
