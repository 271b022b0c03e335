package relay

import (
	"sort"
	"strings"
	"time"
)

type meeting struct {
	channelID    string
	meetingID    string
	startedAt    time.Time
	participants map[string]struct{}
}

// Meeting is a snapshot of a channel's voice meeting.
type Meeting struct {
	ChannelID    string    `json:"channelId"`
	MeetingID    string    `json:"meetingId"`
	StartedAt    time.Time `json:"startedAt"`
	Participants []string  `json:"participants"`
}

// Count returns the number of participating connections.
func (m Meeting) Count() int { return len(m.Participants) }

func (mt *meeting) snapshot() Meeting {
	return Meeting{
		ChannelID:    mt.channelID,
		MeetingID:    mt.meetingID,
		StartedAt:    mt.startedAt,
		Participants: sortedKeys(mt.participants),
	}
}

// AddParticipant adds connID to the meeting of channelID, creating the
// meeting with meetingID on first join. An existing meeting keeps its id.
// It returns false for connections no longer registered.
func (m *RoomManager) AddParticipant(channelID, meetingID, connID string) (Meeting, bool) {
	channelID = strings.TrimSpace(channelID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registered(connID) {
		return Meeting{}, false
	}
	mt, ok := m.meetings[channelID]
	if !ok {
		if meetingID = strings.TrimSpace(meetingID); meetingID == "" {
			meetingID = VoiceRoom(channelID)
		}
		mt = &meeting{
			channelID:    channelID,
			meetingID:    meetingID,
			startedAt:    m.now().UTC(),
			participants: make(map[string]struct{}),
		}
		m.meetings[channelID] = mt
	}
	mt.participants[connID] = struct{}{}
	return mt.snapshot(), true
}

// RemoveParticipant removes connID from channelID's meeting. The meeting is
// deleted when its last participant leaves.
func (m *RoomManager) RemoveParticipant(channelID, connID string) (removed bool, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, removed, remaining = m.removeParticipantLocked(strings.TrimSpace(channelID), connID)
	return removed, remaining
}

func (m *RoomManager) removeParticipantLocked(channelID, connID string) (Meeting, bool, int) {
	mt, ok := m.meetings[channelID]
	if !ok {
		return Meeting{}, false, 0
	}
	if _, in := mt.participants[connID]; !in {
		return mt.snapshot(), false, len(mt.participants)
	}
	delete(mt.participants, connID)
	snap := mt.snapshot()
	if len(mt.participants) == 0 {
		delete(m.meetings, channelID)
	}
	return snap, true, len(snap.Participants)
}

// LeaveMeeting removes connID from channelID's meeting and returns the
// post-removal snapshot. ErrMeetingNotFound is returned when connID was not
// participating.
func (m *RoomManager) LeaveMeeting(channelID, connID string) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, removed, _ := m.removeParticipantLocked(strings.TrimSpace(channelID), connID)
	if !removed {
		return Meeting{}, ErrMeetingNotFound
	}
	return snap, nil
}

// RemoveFromAllMeetings drops connID from every meeting and returns the
// post-removal snapshots of the meetings it left.
func (m *RoomManager) RemoveFromAllMeetings(connID string) []Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meeting
	for ch, mt := range m.meetings {
		if _, in := mt.participants[connID]; !in {
			continue
		}
		snap, _, _ := m.removeParticipantLocked(ch, connID)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// GetMeeting returns the meeting of channelID.
func (m *RoomManager) GetMeeting(channelID string) (Meeting, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[strings.TrimSpace(channelID)]
	if !ok {
		return Meeting{}, false
	}
	return mt.snapshot(), true
}

// ListMeetings returns every active meeting ordered by channel id.
func (m *RoomManager) ListMeetings() []Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Meeting, 0, len(m.meetings))
	for _, mt := range m.meetings {
		out = append(out, mt.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}
