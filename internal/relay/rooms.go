package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Room name prefixes.
const (
	ChannelPrefix   = "channel-"
	DMPrefix        = "dm-room-"
	VoicePrefix     = "voice_channel_"
	CommunityPrefix = "community-"
)

func normalizeRoom(prefix, id string) string {
	id = strings.TrimSpace(id)
	for strings.HasPrefix(id, prefix) {
		id = strings.TrimPrefix(id, prefix)
	}
	if id == "" {
		return ""
	}
	return prefix + id
}

// ChannelRoom returns the canonical room of a channel. Already-prefixed input
// yields the same name.
func ChannelRoom(id string) string { return normalizeRoom(ChannelPrefix, id) }

// DMRoom returns the canonical room of a direct-message thread.
func DMRoom(id string) string { return normalizeRoom(DMPrefix, id) }

// VoiceRoom returns the canonical room of a channel's voice meeting.
func VoiceRoom(id string) string { return normalizeRoom(VoicePrefix, id) }

// CommunityRoom returns the canonical room of a community.
func CommunityRoom(id string) string { return normalizeRoom(CommunityPrefix, id) }

// NormalizeRoomName canonicalizes an already-built room name: a known prefix
// repeated or padded with spaces collapses to one. Names without a known
// prefix are only trimmed.
func NormalizeRoomName(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{ChannelPrefix, DMPrefix, VoicePrefix, CommunityPrefix} {
		if strings.HasPrefix(name, prefix) {
			return normalizeRoom(prefix, name)
		}
	}
	return name
}

// Target carries the targeting fields of a payload.
type Target struct {
	ChannelID  string
	RoomID     string
	TargetType string
	TargetID   string
}

// ResolveTargetRoom picks one room by precedence channelId, roomId, then
// (targetType, targetId). The second return value is false when undecidable.
func ResolveTargetRoom(t Target) (string, bool) {
	if room := ChannelRoom(t.ChannelID); room != "" {
		return room, true
	}
	if room := DMRoom(t.RoomID); room != "" {
		return room, true
	}
	var room string
	switch strings.ToLower(strings.TrimSpace(t.TargetType)) {
	case "channel":
		room = ChannelRoom(t.TargetID)
	case "dm", "direct", "dm-room":
		room = DMRoom(t.TargetID)
	case "voice", "voice_channel":
		room = VoiceRoom(t.TargetID)
	case "community":
		room = CommunityRoom(t.TargetID)
	}
	return room, room != ""
}

// RoomManager tracks room membership and voice meetings and performs
// fan-out. One mutex guards membership, sequences and meetings; frames are
// sent after it is released.
type RoomManager struct {
	seqLocks keyedMutex // per-room order of sequenced fan-out; taken before mu

	mu       sync.Mutex
	rooms    map[string]map[string]struct{}
	byConn   map[string]map[string]struct{}
	seq      map[string]uint64
	meetings map[string]*meeting

	reg *Registry
	enc *Encoder
	log zerolog.Logger
	now func() time.Time
}

// NewRoomManager returns a RoomManager sending through reg's connections.
func NewRoomManager(reg *Registry, enc *Encoder, log zerolog.Logger) *RoomManager {
	return &RoomManager{
		rooms:    make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
		seq:      make(map[string]uint64),
		meetings: make(map[string]*meeting),
		reg:      reg,
		enc:      enc,
		log:      log.With().Str("component", "rooms").Logger(),
		now:      time.Now,
	}
}

// Join adds connID to room and reports whether membership changed. Joining
// twice is a no-op. An attached connection is re-affirmed in its user's
// socket set. Connections no longer registered are refused.
func (m *RoomManager) Join(connID, room string) bool {
	if room == "" || connID == "" {
		return false
	}
	m.mu.Lock()
	if !m.registered(connID) {
		m.mu.Unlock()
		return false
	}
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[room] = members
	}
	_, already := members[connID]
	members[connID] = struct{}{}
	rs, ok := m.byConn[connID]
	if !ok {
		rs = make(map[string]struct{})
		m.byConn[connID] = rs
	}
	rs[room] = struct{}{}
	m.mu.Unlock()

	if info, ok := m.reg.Lookup(connID); ok && info.UserID != "" {
		m.reg.AddUserSocket(info.UserID, connID)
	}
	return !already
}

// registered reports whether connID is still in the registry. Called with mu
// held: Disconnect detaches before LeaveAll takes mu, so a connection that
// passes here is cleaned up by that LeaveAll.
func (m *RoomManager) registered(connID string) bool {
	_, ok := m.reg.Conn(connID)
	return ok
}

// Leave removes connID from room. It reports whether membership changed.
func (m *RoomManager) Leave(connID, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connID, room)
}

func (m *RoomManager) leaveLocked(connID, room string) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[connID]; !in {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, room)
		delete(m.seq, room)
	}
	if rs, ok := m.byConn[connID]; ok {
		delete(rs, room)
		if len(rs) == 0 {
			delete(m.byConn, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (m *RoomManager) LeaveAll(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.byConn[connID]
	left := make([]string, 0, len(rs))
	for room := range rs {
		left = append(left, room)
	}
	for _, room := range left {
		m.leaveLocked(connID, room)
	}
	sort.Strings(left)
	return left
}

// Members returns the sorted connection ids in room.
func (m *RoomManager) Members(room string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.rooms[room])
}

// RoomsOf returns the sorted rooms connID belongs to.
func (m *RoomManager) RoomsOf(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.byConn[connID])
}

// RoomCount returns the number of non-empty rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// NextSeq returns the next sequence number for room, starting at 1. Sequences
// are per process and reset when the room empties.
func (m *RoomManager) NextSeq(room string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[room]++
	return m.seq[room]
}

// BroadcastSequenced assigns the next sequence number of room, builds the
// payload with it and broadcasts. Frames of one room are queued to every
// member in sequence order.
func (m *RoomManager) BroadcastSequenced(room, event string, build func(seq uint64) any, except ...string) (int, uint64, error) {
	if room == "" {
		m.log.Warn().Str("event", event).Msg("broadcast skipped: room undecidable")
		return 0, 0, ErrUndecidableRoom
	}
	unlock := m.seqLocks.Lock(room)
	defer unlock()
	seq := m.NextSeq(room)
	n, err := m.Broadcast(room, event, build(seq), except...)
	return n, seq, err
}

// Broadcast sends event to every member of room except the listed
// connections. An empty room name is a logged no-op returning
// ErrUndecidableRoom; a room without members delivers to nobody.
func (m *RoomManager) Broadcast(room, event string, payload any, except ...string) (int, error) {
	return m.BroadcastRooms([]string{room}, event, payload, except...)
}

// BroadcastRooms sends event once to every connection in the union of rooms.
func (m *RoomManager) BroadcastRooms(rooms []string, event string, payload any, except ...string) (int, error) {
	decided := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r != "" {
			decided = append(decided, r)
		}
	}
	if len(decided) == 0 {
		m.log.Warn().Str("event", event).Msg("broadcast skipped: room undecidable")
		return 0, ErrUndecidableRoom
	}

	frame, err := m.enc.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	targets := make(map[string]struct{})
	for _, r := range decided {
		for id := range m.rooms[r] {
			targets[id] = struct{}{}
		}
	}
	m.mu.Unlock()

	for _, id := range except {
		delete(targets, id)
	}
	return m.deliver(event, frame, targets), nil
}

// BroadcastAll sends event to every registered connection except the listed ones.
func (m *RoomManager) BroadcastAll(event string, payload any, except ...string) (int, error) {
	frame, err := m.enc.Encode(event, payload)
	if err != nil {
		return 0, err
	}
	targets := make(map[string]struct{})
	for _, id := range m.reg.AllConnections() {
		targets[id] = struct{}{}
	}
	for _, id := range except {
		delete(targets, id)
	}
	return m.deliver(event, frame, targets), nil
}

// SendTo sends event to the listed connections.
func (m *RoomManager) SendTo(connIDs []string, event string, payload any) (int, error) {
	frame, err := m.enc.Encode(event, payload)
	if err != nil {
		return 0, err
	}
	targets := make(map[string]struct{}, len(connIDs))
	for _, id := range connIDs {
		targets[id] = struct{}{}
	}
	return m.deliver(event, frame, targets), nil
}

func (m *RoomManager) deliver(event string, frame []byte, targets map[string]struct{}) int {
	n := 0
	for id := range targets {
		c, ok := m.reg.Conn(id)
		if !ok {
			continue
		}
		if err := c.Send(frame); err != nil {
			m.log.Debug().Err(err).Str("conn_id", id).Str("event", event).Msg("send failed")
			continue
		}
		n++
	}
	if n > 0 {
		eventsOut.WithLabelValues(event).Add(float64(n))
	}
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
