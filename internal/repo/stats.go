package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// MessagesStats reports how many messages the relay has handed to storage and
// when the newest one was written. latest is nil on an empty table.
func MessagesStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	tx := db.WithContext(ctx).Model(&domain.Message{})
	if err = tx.Count(&count).Error; err != nil || count == 0 {
		return 0, nil, err
	}

	// Scan through a typed column; MAX(created_at) comes back as TEXT on SQLite.
	var newest struct{ CreatedAt time.Time }
	err = db.WithContext(ctx).Model(&domain.Message{}).
		Select("created_at").
		Order("created_at DESC").
		Limit(1).
		Scan(&newest).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &newest.CreatedAt, nil
}
