package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxContentRunes bounds message content when MaxContentRunes is unset.
const defaultMaxContentRunes = 4000

// MessageService persists chat messages on behalf of the relay.
type MessageService struct {
	DB *gorm.DB

	// Optional guard; <= 0 uses defaultMaxContentRunes.
	MaxContentRunes int
}

// SaveMessage validates m, assigns its id and creation time, and persists it.
// On success m.ID holds the persisted id.
func (s *MessageService) SaveMessage(ctx context.Context, m *domain.Message) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SaveMessage",
		trace.WithAttributes(
			attribute.String("user.id", m.AuthorID),
			attribute.String("channel.id", m.ChannelID),
			attribute.String("room.id", m.RoomID),
		),
	)
	defer span.End()

	m.Content = strings.TrimSpace(m.Content)
	m.AuthorID = strings.TrimSpace(m.AuthorID)
	switch {
	case m.Content == "":
		return ErrEmptyContent
	case utf8.RuneCountInString(m.Content) > s.maxRunes():
		return ErrTooLong
	case m.AuthorID == "":
		return ErrMissingAuthor
	case (m.ChannelID == "") == (m.RoomID == ""):
		return ErrMissingTarget
	}
	if !m.Source.Valid() {
		m.Source = domain.SourceClient
	}
	m.CreatedAt = time.Now().UTC()

	if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	span.SetAttributes(attribute.String("message.id", m.ID))
	return nil
}

// Stats returns the persisted message count and the time of the latest one.
func (s *MessageService) Stats(ctx context.Context) (int64, *time.Time, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Stats")
	defer span.End()

	return repo.MessagesStats(ctx, s.DB)
}

func (s *MessageService) maxRunes() int {
	if s.MaxContentRunes <= 0 {
		return defaultMaxContentRunes
	}
	return s.MaxContentRunes
}
