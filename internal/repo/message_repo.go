package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

const defaultMessageType = "text"

// CreateMessage inserts m. A blank ID gets a UUID, a zero CreatedAt gets the
// current UTC time and a blank MessageType becomes "text"; the assigned
// values are visible on m afterwards.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.MessageType == "" {
		m.MessageType = defaultMessageType
	}
	return db.WithContext(ctx).Create(m).Error
}
