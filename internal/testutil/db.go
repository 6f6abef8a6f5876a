// Package testutil holds shared fixtures for service tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/orderflow/internal/migration"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with the full schema.
// The pool holds a single connection, so callers must not query through the
// root handle while a transaction on it is open.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// Node returns a snowflake generator for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AssertCount fails the test unless table holds want rows matching where.
func AssertCount(t testing.TB, db *gorm.DB, table string, want int64, where string, args ...any) {
	t.Helper()
	var got int64
	q := db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&got).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("expected %d rows in %s, got %d", want, table, got)
	}
}
