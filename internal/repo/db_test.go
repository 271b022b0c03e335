package repo

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "absent", "relay.db")
	db, err := OpenSQLite(bad)
	if db != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("want fs.ErrNotExist, got db=%v err=%v", db, err)
	}
}

func TestSqliteDSN_CarriesPragmas(t *testing.T) {
	dsn := sqliteDSN("/var/lib/relay/relay.db")
	if !strings.HasPrefix(dsn, "/var/lib/relay/relay.db?") {
		t.Fatalf("dsn=%q", dsn)
	}
	if n := strings.Count(dsn, "_pragma="); n != len(connPragmas) {
		t.Fatalf("dsn has %d pragmas; want %d: %s", n, len(connPragmas), dsn)
	}
}

func TestOpenSQLite_PragmasOnEveryConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if got := sqlDB.Stats().MaxOpenConnections; got != maxOpenConns {
		t.Fatalf("MaxOpenConnections=%d; want %d", got, maxOpenConns)
	}

	// Hold every pooled connection at once and check each one.
	ctx := context.Background()
	for i := 0; i < maxOpenConns; i++ {
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		defer conn.Close()

		var mode string
		var busy, syncMode int
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil || strings.ToLower(mode) != "wal" {
			t.Fatalf("conn %d journal_mode=%q err=%v", i, mode, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil || busy != 5000 {
			t.Fatalf("conn %d busy_timeout=%d err=%v", i, busy, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&syncMode); err != nil || syncMode != 1 {
			t.Fatalf("conn %d synchronous=%d err=%v", i, syncMode, err)
		}
	}
}

func TestOpenSQLite_ConcurrentInserts(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &domain.Message{ChannelID: "7", AuthorID: "u1", Content: "hi", Source: domain.SourceClient}
			errs <- CreateMessage(context.Background(), db, m)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	var n int64
	if err := db.Model(&domain.Message{}).Count(&n).Error; err != nil || n != writers {
		t.Fatalf("count=%d err=%v; want %d", n, err, writers)
	}
}
