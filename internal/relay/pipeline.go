package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// MessageStore persists a message and sets its ID.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *domain.Message) error
}

// Submission is an inbound chat message from a live connection.
type Submission struct {
	ConnID      string
	UserID      string
	Username    string
	ChannelID   string
	RoomID      string
	Content     string
	MessageType string
	Timestamp   string
	TempID      string
}

// Outcome is the terminal state of a submission: Err is set when Failed.
type Outcome struct {
	MessageID string
	Duplicate bool
	Delivered int
	Err       error
}

// PersistedMessage is a message the web tier already persisted and hands to
// the relay for fan-out.
type PersistedMessage struct {
	MessageID   string
	ChannelID   string
	RoomID      string
	UserID      string
	Username    string
	Content     string
	MessageType string
	Timestamp   string
	CreatedAt   string
}

// RelayResult reports the fan-out of a PersistedMessage.
type RelayResult struct {
	Room      string `json:"room"`
	Delivered int    `json:"delivered"`
	Duplicate bool   `json:"duplicate"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Pipeline runs Received → Dedup → Persisted → Confirmed | Failed for chat
// messages and deduplicates across the socket and bridge paths.
type Pipeline struct {
	store   MessageStore
	rooms   *RoomManager
	dedup   *DedupCache
	sf      singleflight.Group
	timeout time.Duration
	log     zerolog.Logger
}

// NewPipeline wires a Pipeline. timeout bounds each persistence hand-off.
func NewPipeline(store MessageStore, rooms *RoomManager, dedup *DedupCache, timeout time.Duration, log zerolog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Pipeline{
		store:   store,
		rooms:   rooms,
		dedup:   dedup,
		timeout: timeout,
		log:     log.With().Str("component", "pipeline").Logger(),
	}
}

type fanout struct {
	id        string
	delivered int
	dup       bool
}

func fingerprintKey(fp domain.Fingerprint) string { return "fp:" + fp.Key() }
func messageKey(id string) string                 { return "id:" + id }

// Submit processes one submission. The sender receives either a
// message-sent-confirmation or a message_error; room members receive the
// message only from the first submission of a fingerprint.
func (p *Pipeline) Submit(ctx context.Context, s Submission) Outcome {
	room := p.normalizeTarget(&s.ChannelID, &s.RoomID)
	if room == "" {
		err := missing(EventChannelMessage, "channelId")
		p.fail(s, err.Error())
		return Outcome{Err: err}
	}

	fp := domain.NewFingerprint(s.UserID, s.Timestamp, s.Content)
	key := ""
	if !fp.Empty() {
		key = fingerprintKey(fp)
		if id, ok := p.dedup.Get(key); ok {
			dedupHits.WithLabelValues("socket").Inc()
			p.confirm(s, id, true)
			return Outcome{MessageID: id, Duplicate: true}
		}
	}

	leader := false
	run := func() (any, error) {
		leader = true
		if key != "" {
			if id, ok := p.dedup.Get(key); ok {
				return fanout{id: id, dup: true}, nil
			}
		}
		msg, err := p.persist(ctx, s)
		if err != nil {
			return nil, err
		}
		if key != "" {
			p.dedup.Put(key, msg.ID)
		}
		p.dedup.Put(messageKey(msg.ID), msg.ID)
		n := p.fanOut(room, msg, domain.SourceClient, s.ConnID)
		return fanout{id: msg.ID, delivered: n}, nil
	}

	var (
		v   any
		err error
	)
	if key == "" {
		v, err = run()
	} else {
		v, err, _ = p.sf.Do(key, run)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("conn_id", s.ConnID).Str("user_id", s.UserID).Msg("message persistence failed")
		p.fail(s, failureText(err))
		return Outcome{Err: err}
	}

	res := v.(fanout)
	dup := !leader || res.dup
	if dup {
		dedupHits.WithLabelValues("socket").Inc()
		res.delivered = 0
	}
	p.confirm(s, res.id, dup)
	return Outcome{MessageID: res.id, Duplicate: dup, Delivered: res.delivered}
}

// RelayPersisted fans out a message the web tier persisted itself. It is
// skipped when its id or fingerprint was already fanned out by either path.
func (p *Pipeline) RelayPersisted(pm PersistedMessage, event string) (RelayResult, error) {
	pm.MessageID = strings.TrimSpace(pm.MessageID)
	if pm.MessageID == "" {
		return RelayResult{}, missing(event, "messageId")
	}
	if strings.TrimSpace(pm.UserID) == "" {
		return RelayResult{}, missing(event, "userId")
	}
	room := p.normalizeTarget(&pm.ChannelID, &pm.RoomID)
	if room == "" {
		field := "channelId"
		if event == BridgeDirectMessage {
			field = "roomId"
		}
		return RelayResult{}, missing(event, field)
	}

	res := RelayResult{Room: room}
	if _, fresh := p.dedup.PutIfAbsent(messageKey(pm.MessageID), pm.MessageID); !fresh {
		dedupHits.WithLabelValues("bridge").Inc()
		res.Duplicate = true
		return res, nil
	}
	if fp := domain.NewFingerprint(pm.UserID, pm.Timestamp, pm.Content); !fp.Empty() {
		if existing, fresh := p.dedup.PutIfAbsent(fingerprintKey(fp), pm.MessageID); !fresh && existing != pm.MessageID {
			dedupHits.WithLabelValues("bridge").Inc()
			res.Duplicate = true
			return res, nil
		}
	}

	msg := &domain.Message{
		ID:              pm.MessageID,
		ChannelID:       pm.ChannelID,
		RoomID:          pm.RoomID,
		AuthorID:        pm.UserID,
		Username:        pm.Username,
		Content:         pm.Content,
		MessageType:     pm.MessageType,
		ClientTimestamp: pm.Timestamp,
	}
	if t, err := time.Parse(time.RFC3339Nano, pm.CreatedAt); err == nil {
		msg.CreatedAt = t
	}
	n, seq, err := p.fanOutSeq(room, msg, domain.SourceServer)
	res.Delivered, res.Seq = n, seq
	return res, err
}

// normalizeTarget canonicalizes the target ids in place and returns the room.
// A channel id wins over a room id.
func (p *Pipeline) normalizeTarget(channelID, roomID *string) string {
	if room := ChannelRoom(*channelID); room != "" {
		*channelID = strings.TrimPrefix(room, ChannelPrefix)
		*roomID = ""
		return room
	}
	if room := DMRoom(*roomID); room != "" {
		*roomID = strings.TrimPrefix(room, DMPrefix)
		*channelID = ""
		return room
	}
	return ""
}

var errNoStore = errors.New("message store not configured")

func (p *Pipeline) persist(ctx context.Context, s Submission) (*domain.Message, error) {
	if p.store == nil {
		return nil, errNoStore
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := &domain.Message{
		ChannelID:       s.ChannelID,
		RoomID:          s.RoomID,
		AuthorID:        s.UserID,
		Username:        s.Username,
		Content:         s.Content,
		MessageType:     s.MessageType,
		ClientTimestamp: s.Timestamp,
		Source:          domain.SourceClient,
	}
	start := time.Now()
	err := p.store.SaveMessage(ctx, msg)
	persistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		persistResults.WithLabelValues("error").Inc()
		return nil, err
	}
	persistResults.WithLabelValues("ok").Inc()
	return msg, nil
}

func (p *Pipeline) fanOut(room string, msg *domain.Message, src domain.Source, except ...string) int {
	n, _, err := p.fanOutSeq(room, msg, src, except...)
	if err != nil {
		p.log.Error().Err(err).Str("room", room).Str("message_id", msg.ID).Msg("message fan-out failed")
	}
	return n
}

func (p *Pipeline) fanOutSeq(room string, msg *domain.Message, src domain.Source, except ...string) (int, uint64, error) {
	event := EventNewChannelMessage
	if msg.ChannelID == "" {
		event = EventNewDMMessage
	}
	mt := msg.MessageType
	if mt == "" {
		mt = "text"
	}
	created := ""
	if !msg.CreatedAt.IsZero() {
		created = msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return p.rooms.BroadcastSequenced(room, event, func(seq uint64) any {
		return MessageOut{
			ID:          msg.ID,
			MessageID:   msg.ID,
			ChannelID:   msg.ChannelID,
			RoomID:      msg.RoomID,
			UserID:      msg.AuthorID,
			Username:    msg.Username,
			Content:     msg.Content,
			MessageType: mt,
			Timestamp:   msg.ClientTimestamp,
			CreatedAt:   created,
			Source:      string(src),
			Seq:         seq,
		}
	}, except...)
}

func (p *Pipeline) confirm(s Submission, id string, dup bool) {
	_, err := p.rooms.SendTo([]string{s.ConnID}, EventMessageSent, confirmationPayload{
		TempID:    s.TempID,
		MessageID: id,
		ChannelID: s.ChannelID,
		RoomID:    s.RoomID,
		Duplicate: dup,
		Source:    string(domain.SourceClient),
	})
	if err != nil {
		p.log.Error().Err(err).Str("conn_id", s.ConnID).Msg("confirmation not sent")
	}
}

func (p *Pipeline) fail(s Submission, msg string) {
	_, _ = p.rooms.SendTo([]string{s.ConnID}, EventMessageError, errorPayload{
		Error:  msg,
		TempID: s.TempID,
		Source: string(domain.SourceClient),
	})
}

func failureText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "message could not be saved in time"
	}
	return "failed to save message"
}
