// Package storagetest opens migrated in-memory SQLite databases for tests.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agentprobe_api/internal/storage"
)

var seq atomic.Int64

// NewDB returns a fresh migrated in-memory database closed at test cleanup.
func NewDB(t testing.TB) *storage.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name, seq.Add(1),
	)

	db, err := storage.NewDB(storage.DBConfig{
		Driver:          storage.DriverSQLite,
		DSN:             dsn,
		APIKeyCacheSize: 100,
		APIKeyCacheTTL:  time.Minute,
	})
	if err != nil {
		t.Fatalf("storagetest: open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("storagetest: migrate: %v", err)
	}
	return db
}
