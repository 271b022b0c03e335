package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Bridge events accepted from the web tier.
const (
	BridgeBroadcast             = "broadcast"
	BridgeNotifyUser            = "notify-user"
	BridgeBroadcastToRoom       = "broadcast-to-room"
	BridgeChannelMessage        = "channel-message"
	BridgeDirectMessage         = "direct-message"
	BridgeMemberJoinedCommunity = "member-joined-community"
)

// EmitRequest is one control request from the web tier.
type EmitRequest struct {
	Event string          `json:"event" example:"broadcast-to-room"`
	Data  json.RawMessage `json:"data" swaggertype:"object"`
}

// EmitResult reports what an EmitRequest did. Zero deliveries is a success.
type EmitResult struct {
	Event     string `json:"event" example:"broadcast-to-room"`
	Room      string `json:"room,omitempty" example:"channel-42"`
	Delivered int    `json:"delivered" example:"3"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// StatusSnapshot summarizes relay state for the status endpoint.
type StatusSnapshot struct {
	Connections       int        `json:"connections" example:"12"`
	Users             int        `json:"users" example:"9"`
	Rooms             int        `json:"rooms" example:"5"`
	Meetings          int        `json:"meetings" example:"1"`
	UptimeSeconds     int64      `json:"uptimeSeconds" example:"3600"`
	PersistedMessages *int64     `json:"persistedMessages,omitempty" example:"420"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
}

// MessageCounter reports persisted message totals.
type MessageCounter interface {
	Stats(ctx context.Context) (int64, *time.Time, error)
}

type broadcastData struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type notifyData struct {
	UserID ID              `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type roomData struct {
	ChannelID  ID              `json:"channelId"`
	RoomID     ID              `json:"roomId"`
	TargetType string          `json:"targetType"`
	TargetID   ID              `json:"targetId"`
	Room       string          `json:"room"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
}

type persistedData struct {
	ID          ID        `json:"id"`
	MessageID   ID        `json:"messageId"`
	ChannelID   ID        `json:"channelId"`
	RoomID      ID        `json:"roomId"`
	UserID      ID        `json:"userId"`
	Username    string    `json:"username"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Timestamp   Timestamp `json:"timestamp"`
	CreatedAt   string    `json:"createdAt"`
}

type communityData struct {
	CommunityID ID     `json:"communityId"`
	UserID      ID     `json:"userId"`
	Username    string `json:"username"`
}

type communityOut struct {
	CommunityID string `json:"communityId"`
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
}

// Bridge lets the stateless web tier push events into the relay and query
// its state. It is shared by the HTTP and NATS inlets.
type Bridge struct {
	relay   *Relay
	counter MessageCounter
	log     zerolog.Logger
}

// NewBridge returns a Bridge over r. counter may be nil.
func NewBridge(r *Relay, counter MessageCounter, log zerolog.Logger) *Bridge {
	return &Bridge{relay: r, counter: counter, log: log.With().Str("component", "bridge").Logger()}
}

// Emit executes one control request. Missing identifiers yield *FieldError,
// unsupported events ErrUnknownBridgeEvent.
func (b *Bridge) Emit(ctx context.Context, req EmitRequest) (EmitResult, error) {
	event := strings.TrimSpace(req.Event)
	ctx, span := otel.Tracer("relay/Bridge").Start(ctx, "Emit",
		trace.WithAttributes(attribute.String("bridge.event", event)),
	)
	defer span.End()

	res, err := b.emit(ctx, event, req.Data)
	res.Event = event
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit rejected")
		b.log.Warn().Err(err).Str("event", event).Msg("bridge emit rejected")
	} else {
		span.SetAttributes(
			attribute.String("room.id", res.Room),
			attribute.Int("bridge.delivered", res.Delivered),
		)
		b.log.Debug().Str("event", event).Str("room", res.Room).Int("delivered", res.Delivered).Msg("bridge emit")
	}
	bridgeEmits.WithLabelValues(bridgeMetricEvent(event), result).Inc()
	return res, err
}

func (b *Bridge) emit(_ context.Context, event string, data json.RawMessage) (EmitResult, error) {
	rooms := b.relay.Rooms
	switch event {
	case "":
		return EmitResult{}, missing("", "event")

	case BridgeBroadcast:
		var d broadcastData
		if err := decodeBridge(event, data, &d); err != nil {
			return EmitResult{}, err
		}
		if strings.TrimSpace(d.Event) == "" {
			return EmitResult{}, missing(event, "data.event")
		}
		n, err := rooms.BroadcastAll(d.Event, rawPayload(d.Data))
		return EmitResult{Delivered: n}, err

	case BridgeNotifyUser:
		var d notifyData
		if err := decodeBridge(event, data, &d); err != nil {
			return EmitResult{}, err
		}
		if d.UserID == "" {
			return EmitResult{}, missing(event, "userId")
		}
		name := strings.TrimSpace(d.Event)
		if name == "" {
			name = EventNotification
		}
		n, err := rooms.SendTo(b.relay.Registry.Connections(d.UserID.String()), name, rawPayload(d.Data))
		return EmitResult{Delivered: n}, err

	case BridgeBroadcastToRoom:
		var d roomData
		if err := decodeBridge(event, data, &d); err != nil {
			return EmitResult{}, err
		}
		if strings.TrimSpace(d.Event) == "" {
			return EmitResult{}, missing(event, "data.event")
		}
		room, ok := ResolveTargetRoom(Target{
			ChannelID:  d.ChannelID.String(),
			RoomID:     d.RoomID.String(),
			TargetType: d.TargetType,
			TargetID:   d.TargetID.String(),
		})
		if !ok {
			room = NormalizeRoomName(d.Room)
		}
		if room == "" {
			return EmitResult{}, missing(event, "room")
		}
		n, err := rooms.Broadcast(room, d.Event, rawPayload(d.Data))
		return EmitResult{Room: room, Delivered: n}, err

	case BridgeChannelMessage, BridgeDirectMessage:
		var d persistedData
		if err := decodeBridge(event, data, &d); err != nil {
			return EmitResult{}, err
		}
		id := d.MessageID
		if id == "" {
			id = d.ID
		}
		pm := PersistedMessage{
			MessageID:   id.String(),
			UserID:      d.UserID.String(),
			Username:    d.Username,
			Content:     d.Content,
			MessageType: d.MessageType,
			Timestamp:   d.Timestamp.String(),
			CreatedAt:   d.CreatedAt,
		}
		if event == BridgeChannelMessage {
			pm.ChannelID = d.ChannelID.String()
		} else {
			pm.RoomID = d.RoomID.String()
		}
		rr, err := b.relay.Pipeline.RelayPersisted(pm, event)
		return EmitResult{Room: rr.Room, Delivered: rr.Delivered, Duplicate: rr.Duplicate}, err

	case BridgeMemberJoinedCommunity:
		var d communityData
		if err := decodeBridge(event, data, &d); err != nil {
			return EmitResult{}, err
		}
		room := CommunityRoom(d.CommunityID.String())
		if room == "" {
			return EmitResult{}, missing(event, "communityId")
		}
		if d.UserID == "" {
			return EmitResult{}, missing(event, "userId")
		}
		for _, connID := range b.relay.Registry.Connections(d.UserID.String()) {
			rooms.Join(connID, room)
		}
		out := communityOut{
			CommunityID: strings.TrimPrefix(room, CommunityPrefix),
			UserID:      d.UserID.String(),
			Username:    strings.TrimSpace(d.Username),
		}
		global, err := rooms.BroadcastAll(EventMemberJoinedCommunity, out)
		if err != nil {
			return EmitResult{Room: room}, err
		}
		local, err := rooms.Broadcast(room, EventCommunityMemberJoined, out)
		return EmitResult{Room: room, Delivered: global + local}, err
	}
	return EmitResult{}, ErrUnknownBridgeEvent
}

// OnlineUsers returns the presence snapshot.
func (b *Bridge) OnlineUsers() map[string]OnlineUser { return b.relay.Registry.OnlineUsers() }

// Meetings returns every active voice meeting.
func (b *Bridge) Meetings() []Meeting { return b.relay.Rooms.ListMeetings() }

// Meeting returns the voice meeting of channelID or ErrMeetingNotFound.
func (b *Bridge) Meeting(channelID string) (Meeting, error) {
	id := strings.TrimPrefix(ChannelRoom(channelID), ChannelPrefix)
	mt, ok := b.relay.Rooms.GetMeeting(id)
	if !ok {
		return Meeting{}, ErrMeetingNotFound
	}
	return mt, nil
}

// Status returns relay counters. Persisted message totals are included when a
// MessageCounter is configured and answers.
func (b *Bridge) Status(ctx context.Context) StatusSnapshot {
	conns, users := b.relay.Registry.Count()
	s := StatusSnapshot{
		Connections:   conns,
		Users:         users,
		Rooms:         b.relay.Rooms.RoomCount(),
		Meetings:      len(b.relay.Rooms.ListMeetings()),
		UptimeSeconds: int64(b.relay.Uptime() / time.Second),
	}
	if b.counter != nil {
		n, last, err := b.counter.Stats(ctx)
		if err != nil {
			b.log.Warn().Err(err).Msg("message stats unavailable")
		} else {
			s.PersistedMessages, s.LastMessageAt = &n, last
		}
	}
	return s
}

func decodeBridge(event string, data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &FieldError{Event: event, Field: "data (valid JSON object)"}
	}
	return nil
}

// rawPayload passes a caller-supplied payload through unchanged; absent data
// becomes an empty object.
func rawPayload(data json.RawMessage) any {
	if len(data) == 0 || string(data) == "null" {
		return struct{}{}
	}
	return data
}

var bridgeEventSet = map[string]struct{}{
	BridgeBroadcast: {}, BridgeNotifyUser: {}, BridgeBroadcastToRoom: {},
	BridgeChannelMessage: {}, BridgeDirectMessage: {}, BridgeMemberJoinedCommunity: {},
}

func bridgeMetricEvent(event string) string {
	if _, ok := bridgeEventSet[event]; ok {
		return event
	}
	return "other"
}
