// Package repo persists relayed messages through GORM on SQLite.
package repo

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// Message inserts arrive from every socket at once; WAL plus a busy wait
// lets concurrent writers queue instead of failing with SQLITE_BUSY.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// maxOpenConns bounds concurrent inserts; SQLite serialises writers anyway.
const maxOpenConns = 4

// sqliteDSN attaches the pragmas to path so every pooled connection gets
// them, not only the first.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// OpenSQLite opens or creates the message database at path with query
// tracing enabled. The parent directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates the messages table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Message{})
}
