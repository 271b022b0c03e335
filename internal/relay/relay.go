// Package relay implements the real-time event relay: the connection
// registry, room membership and voice meetings, outbound event validation,
// the deduplicating message pipeline and the cross-process bridge. It is
// transport-agnostic; internal/ws feeds it frames from WebSocket connections.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// PresenceMirror publishes presence transitions to an external store.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID, username string, status domain.Status) error
	SetOffline(ctx context.Context, userID string) error
}

type noopMirror struct{}

func (noopMirror) SetOnline(context.Context, string, string, domain.Status) error { return nil }
func (noopMirror) SetOffline(context.Context, string) error                       { return nil }

// Options configures a Relay.
type Options struct {
	Store          MessageStore
	Mirror         PresenceMirror
	PersistTimeout time.Duration
	MirrorTimeout  time.Duration
	DedupTTL       time.Duration
	DedupMax       int
	Logger         zerolog.Logger
}

// Relay dispatches inbound events and emits presence transitions.
type Relay struct {
	Registry *Registry
	Rooms    *RoomManager
	Pipeline *Pipeline

	// presence orders each user's online/offline transitions, including
	// their broadcasts and mirror writes.
	presence keyedMutex

	mirror        PresenceMirror
	mirrorTimeout time.Duration
	log           zerolog.Logger
	started       time.Time
}

// New builds a Relay and its components.
func New(opts Options) *Relay {
	log := opts.Logger
	reg := NewRegistry()
	enc := NewEncoder(NewValidator(log))
	rooms := NewRoomManager(reg, enc, log)
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 2 * time.Minute
	}
	if opts.DedupMax <= 0 {
		opts.DedupMax = 10000
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = time.Second
	}
	mirror := opts.Mirror
	if mirror == nil {
		mirror = noopMirror{}
	}
	return &Relay{
		Registry:      reg,
		Rooms:         rooms,
		Pipeline:      NewPipeline(opts.Store, rooms, NewDedupCache(opts.DedupTTL, opts.DedupMax), opts.PersistTimeout, log),
		mirror:        mirror,
		mirrorTimeout: opts.MirrorTimeout,
		log:           log.With().Str("component", "relay").Logger(),
		started:       time.Now(),
	}
}

// Uptime returns the time since the relay was created.
func (r *Relay) Uptime() time.Duration { return time.Since(r.started) }

// Connect registers a new transport connection.
func (r *Relay) Connect(c Conn) {
	r.Registry.Register(c)
	r.log.Debug().Str("conn_id", c.ID()).Msg("connection opened")
}

// Disconnect tears down a connection: room memberships, voice meetings and
// presence. Calling it twice for the same id is a no-op.
func (r *Relay) Disconnect(connID string) {
	_, unlock, ok := r.lockConnUser(connID)
	if !ok {
		return
	}
	defer unlock()
	res, ok := r.Registry.Detach(connID)
	if !ok {
		return
	}
	r.Rooms.LeaveAll(connID)
	for _, mt := range r.Rooms.RemoveFromAllMeetings(connID) {
		r.announceMeeting(mt)
	}
	r.log.Debug().Str("conn_id", connID).Str("user_id", res.Info.UserID).Int("remaining", res.Remaining).Msg("connection closed")

	if res.Info.Authenticated() && res.Remaining == 0 {
		r.wentOffline(res.Info.UserID, res.Info.Username)
	}
}

// lockConnUser takes the presence lock of connID's current user together with
// extra, and returns the connection info read while holding it. It reports
// false once connID is no longer registered.
func (r *Relay) lockConnUser(connID string, extra ...string) (ConnInfo, func(), bool) {
	for {
		info, ok := r.Registry.Lookup(connID)
		if !ok {
			return ConnInfo{}, nil, false
		}
		unlock := r.presence.LockAll(append([]string{info.UserID}, extra...)...)
		cur, ok := r.Registry.Lookup(connID)
		if ok && cur.UserID == info.UserID {
			return cur, unlock, true
		}
		unlock()
		if !ok {
			return ConnInfo{}, nil, false
		}
	}
}

// Shutdown closes every registered connection.
func (r *Relay) Shutdown() {
	for _, id := range r.Registry.AllConnections() {
		if c, ok := r.Registry.Conn(id); ok {
			_ = c.Close()
		}
		r.Disconnect(id)
	}
}

// Throttled tells connID an inbound event was dropped by rate limiting.
func (r *Relay) Throttled(connID string) {
	r.sendError(connID, "rate limit exceeded", "")
}

// Dispatch handles one inbound frame from connID.
func (r *Relay) Dispatch(ctx context.Context, connID string, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		r.sendError(connID, "malformed frame", "")
		return
	}
	if _, ok := r.Registry.Lookup(connID); !ok {
		return
	}
	eventsIn.WithLabelValues(metricEvent(env.Event)).Inc()

	var err error
	switch env.Event {
	case EventAuthenticate:
		err = r.authenticate(connID, env.Data)
	case EventHeartbeat:
		r.heartbeat(connID)
	default:
		info, _ := r.Registry.Lookup(connID)
		if !info.Authenticated() {
			err = ErrNotAuthenticated
			break
		}
		err = r.dispatchAuthenticated(ctx, info, env)
	}
	if err != nil {
		r.reject(connID, env, err)
	}
}

func (r *Relay) dispatchAuthenticated(ctx context.Context, info ConnInfo, env Envelope) error {
	switch env.Event {
	case EventJoinChannel, EventLeaveChannel:
		var p channelPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.channelMembership(info, env.Event, p.ChannelID.String())
	case EventJoinDM, EventLeaveDM:
		var p dmPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.dmMembership(info, env.Event, p.RoomID.String())
	case EventChannelMessage, EventDMMessage:
		return r.message(ctx, info, env)
	case EventTyping, EventStopTyping:
		return r.typing(info, env)
	case EventUpdatePresence:
		return r.updatePresence(ctx, info, env)
	case EventAddReaction, EventRemoveReaction:
		return r.reaction(info, env)
	case EventJoinVoice, EventLeaveVoice:
		return r.voice(info, env)
	}
	r.log.Debug().Str("conn_id", info.ConnectionID).Str("event", env.Event).Msg("unknown inbound event")
	return errors.New("unknown event " + env.Event)
}

func (r *Relay) authenticate(connID string, data json.RawMessage) error {
	var p authenticatePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return ErrMissingIdentity
		}
	}
	_, unlock, ok := r.lockConnUser(connID, strings.TrimSpace(p.UserID.String()))
	if !ok {
		return ErrUnknownConnection
	}
	defer unlock()
	res, err := r.Registry.Attach(connID, p.UserID.String(), p.Username)
	if err != nil {
		return err
	}
	info := res.Info
	r.send(connID, EventAuthenticated, authenticatedPayload{
		UserID:       info.UserID,
		Username:     info.Username,
		ConnectionID: connID,
	})
	r.send(connID, EventOnlineUsers, onlineUsersPayload{Users: r.Registry.OnlineUsers()})

	if res.Previous != nil && res.PreviousRemaining == 0 {
		r.wentOffline(res.Previous.UserID, res.Previous.Username)
	}
	if res.FirstConnection {
		r.log.Info().Str("user_id", info.UserID).Str("conn_id", connID).Msg("user online")
		r.broadcastStatus(info.UserID, info.Username, domain.StatusOnline, "", connID)
		r.mirrorOnline(info.UserID, info.Username, domain.StatusOnline)
	}
	return nil
}

func (r *Relay) heartbeat(connID string) {
	r.Registry.Touch(connID)
	r.send(connID, EventHeartbeatResponse, struct{}{})
	info, unlock, ok := r.lockConnUser(connID)
	if !ok {
		return
	}
	defer unlock()
	if !info.Authenticated() {
		return
	}
	if u, ok := r.Registry.Presence(info.UserID); ok {
		r.mirrorOnline(info.UserID, info.Username, u.Status)
	}
}

func (r *Relay) channelMembership(info ConnInfo, event, channelID string) error {
	room := ChannelRoom(channelID)
	if room == "" {
		return missing(event, "channelId")
	}
	id := strings.TrimPrefix(room, ChannelPrefix)
	if event == EventLeaveChannel {
		r.Rooms.Leave(info.ConnectionID, room)
		r.send(info.ConnectionID, EventChannelLeft, channelRef{ChannelID: id})
		return nil
	}
	changed := r.Rooms.Join(info.ConnectionID, room)
	r.send(info.ConnectionID, EventChannelJoined, channelRef{ChannelID: id})
	if changed {
		_, _ = r.Rooms.Broadcast(room, EventUserJoinedChannel, userJoinedPayload{
			ChannelID: id,
			UserID:    info.UserID,
			Username:  info.Username,
		}, info.ConnectionID)
	}
	return nil
}

func (r *Relay) dmMembership(info ConnInfo, event, roomID string) error {
	room := DMRoom(roomID)
	if room == "" {
		return missing(event, "roomId")
	}
	id := strings.TrimPrefix(room, DMPrefix)
	if event == EventLeaveDM {
		r.Rooms.Leave(info.ConnectionID, room)
		r.send(info.ConnectionID, EventDMLeft, dmRef{RoomID: id})
		return nil
	}
	r.Rooms.Join(info.ConnectionID, room)
	r.send(info.ConnectionID, EventDMJoined, dmRef{RoomID: id})
	return nil
}

func (r *Relay) message(ctx context.Context, info ConnInfo, env Envelope) error {
	var p messagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	s := Submission{
		ConnID:      info.ConnectionID,
		UserID:      info.UserID,
		Username:    info.Username,
		Content:     strings.TrimSpace(p.Content),
		MessageType: strings.TrimSpace(p.MessageType),
		Timestamp:   p.Timestamp.String(),
		TempID:      p.TempID.String(),
	}
	if env.Event == EventDMMessage {
		s.RoomID = p.RoomID.String()
		if s.RoomID == "" {
			return &messageError{missing(env.Event, "roomId"), s.TempID}
		}
	} else {
		s.ChannelID = p.ChannelID.String()
		if s.ChannelID == "" {
			return &messageError{missing(env.Event, "channelId"), s.TempID}
		}
	}
	switch {
	case s.Content == "":
		return &messageError{missing(env.Event, "content"), s.TempID}
	case s.Timestamp == "":
		return &messageError{missing(env.Event, "timestamp"), s.TempID}
	}
	r.Pipeline.Submit(ctx, s)
	return nil
}

func (r *Relay) typing(info ConnInfo, env Envelope) error {
	var p typingPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	room, ok := ResolveTargetRoom(Target{
		ChannelID:  p.ChannelID.String(),
		RoomID:     p.RoomID.String(),
		TargetType: p.TargetType,
		TargetID:   p.TargetID.String(),
	})
	if !ok {
		r.log.Warn().Str("conn_id", info.ConnectionID).Str("event", env.Event).Err(ErrUndecidableRoom).Msg("typing skipped")
		return nil
	}
	out := typingOut{UserID: info.UserID, Username: info.Username}
	setRoomRef(room, &out.ChannelID, &out.RoomID)
	event := EventUserTyping
	if env.Event == EventStopTyping {
		event = EventUserStopTyping
	}
	_, _ = r.Rooms.Broadcast(room, event, out, info.ConnectionID)
	return nil
}

func (r *Relay) updatePresence(ctx context.Context, info ConnInfo, env Envelope) error {
	var p presencePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	status, ok := domain.ParseStatus(p.Status)
	if !ok {
		if strings.TrimSpace(p.Status) == "" {
			return missing(env.Event, "status")
		}
		return errors.New("invalid status " + p.Status)
	}
	activity := strings.TrimSpace(p.ActivityDetails)
	unlock := r.presence.Lock(info.UserID)
	defer unlock()
	if _, ok := r.Registry.SetStatus(info.UserID, status, activity); !ok {
		return ErrNotAuthenticated
	}
	r.broadcastStatus(info.UserID, info.Username, status, activity, "")
	r.mirrorOnline(info.UserID, info.Username, status)
	return nil
}

func (r *Relay) reaction(info ConnInfo, env Envelope) error {
	var p reactionPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.MessageID == "" {
		return missing(env.Event, "messageId")
	}
	if strings.TrimSpace(p.Emoji) == "" {
		return missing(env.Event, "emoji")
	}
	room, ok := ResolveTargetRoom(Target{ChannelID: p.ChannelID.String(), RoomID: p.RoomID.String()})
	if !ok {
		r.log.Warn().Str("conn_id", info.ConnectionID).Str("event", env.Event).Err(ErrUndecidableRoom).Msg("reaction skipped")
		return nil
	}
	out := reactionOut{
		MessageID: p.MessageID.String(),
		Emoji:     strings.TrimSpace(p.Emoji),
		UserID:    info.UserID,
		Username:  info.Username,
	}
	setRoomRef(room, &out.ChannelID, &out.RoomID)
	event := EventReactionAdded
	if env.Event == EventRemoveReaction {
		event = EventReactionRemoved
	}
	_, _ = r.Rooms.Broadcast(room, event, out)
	return nil
}

func (r *Relay) voice(info ConnInfo, env Envelope) error {
	var p voicePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	channelID := strings.TrimPrefix(ChannelRoom(p.ChannelID.String()), ChannelPrefix)
	if channelID == "" {
		return missing(env.Event, "channelId")
	}
	if env.Event == EventJoinVoice {
		mt, ok := r.Rooms.AddParticipant(channelID, p.MeetingID.String(), info.ConnectionID)
		if !ok {
			return nil
		}
		r.Rooms.Join(info.ConnectionID, VoiceRoom(channelID))
		r.announceMeeting(mt)
		return nil
	}
	mt, err := r.Rooms.LeaveMeeting(channelID, info.ConnectionID)
	r.Rooms.Leave(info.ConnectionID, VoiceRoom(channelID))
	if err != nil {
		r.log.Warn().Err(err).Str("conn_id", info.ConnectionID).Str("channel_id", channelID).Msg("leave-voice ignored")
		return nil
	}
	r.announceMeeting(mt)
	return nil
}

// announceMeeting tells the channel and voice rooms who is in the meeting.
func (r *Relay) announceMeeting(mt Meeting) {
	participants := make([]Participant, 0, len(mt.Participants))
	for _, id := range mt.Participants {
		pt := Participant{ConnectionID: id}
		if info, ok := r.Registry.Lookup(id); ok {
			pt.UserID, pt.Username = info.UserID, info.Username
		}
		participants = append(participants, pt)
	}
	_, _ = r.Rooms.BroadcastRooms(
		[]string{ChannelRoom(mt.ChannelID), VoiceRoom(mt.ChannelID)},
		EventVoiceParticipants,
		voiceParticipantsPayload{
			ChannelID:    mt.ChannelID,
			MeetingID:    mt.MeetingID,
			Participants: participants,
			Count:        len(participants),
		},
	)
}

func (r *Relay) wentOffline(userID, username string) {
	r.log.Info().Str("user_id", userID).Msg("user offline")
	r.broadcastStatus(userID, username, domain.StatusOffline, "", "")
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.SetOffline(ctx, userID); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("presence mirror offline failed")
	}
}

func (r *Relay) mirrorOnline(userID, username string, status domain.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.SetOnline(ctx, userID, username, status); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("presence mirror update failed")
	}
}

func (r *Relay) broadcastStatus(userID, username string, status domain.Status, activity string, except string) {
	payload := statusChangedPayload{
		UserID:          userID,
		Status:          string(status),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Username:        username,
		ActivityDetails: activity,
	}
	var excl []string
	if except != "" {
		excl = append(excl, except)
	}
	_, _ = r.Rooms.BroadcastAll(EventUserStatusChanged, payload, excl...)
}

func (r *Relay) send(connID, event string, payload any) {
	_, _ = r.Rooms.SendTo([]string{connID}, event, payload)
}

func (r *Relay) sendError(connID, msg, tempID string) {
	r.send(connID, EventMessageError, errorPayload{Error: msg, TempID: tempID, Source: string(domain.SourceClient)})
}

// messageError carries the tempId of a rejected chat message.
type messageError struct {
	err    error
	tempID string
}

func (e *messageError) Error() string { return e.err.Error() }
func (e *messageError) Unwrap() error { return e.err }

// reject answers a failed inbound event on the offending connection only.
func (r *Relay) reject(connID string, env Envelope, err error) {
	r.log.Debug().Err(err).Str("conn_id", connID).Str("event", env.Event).Msg("inbound event rejected")
	if env.Event == EventAuthenticate {
		r.send(connID, EventAuthenticationFailed, errorPayload{Error: err.Error()})
		return
	}
	tempID := ""
	var me *messageError
	if errors.As(err, &me) {
		tempID = me.tempID
	}
	r.sendError(connID, err.Error(), tempID)
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errors.New(env.Event + ": malformed payload")
	}
	return nil
}

// setRoomRef fills the channelId or roomId field matching room's kind.
func setRoomRef(room string, channelID, roomID *string) {
	switch {
	case strings.HasPrefix(room, ChannelPrefix):
		*channelID = strings.TrimPrefix(room, ChannelPrefix)
	case strings.HasPrefix(room, DMPrefix):
		*roomID = strings.TrimPrefix(room, DMPrefix)
	}
}

// inboundEvents bounds the label set of eventsIn.
var inboundEvents = map[string]struct{}{
	EventAuthenticate: {}, EventJoinChannel: {}, EventLeaveChannel: {}, EventChannelMessage: {},
	EventJoinDM: {}, EventLeaveDM: {}, EventDMMessage: {}, EventTyping: {}, EventStopTyping: {},
	EventHeartbeat: {}, EventUpdatePresence: {}, EventAddReaction: {}, EventRemoveReaction: {},
	EventJoinVoice: {}, EventLeaveVoice: {},
}

func metricEvent(event string) string {
	if _, ok := inboundEvents[event]; ok {
		return event
	}
	return "other"
}
