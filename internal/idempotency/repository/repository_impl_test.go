package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/orderflow/internal/idempotency/domain"
	"github.com/smallbiznis/orderflow/internal/idempotency/repository"
	"github.com/smallbiznis/orderflow/internal/testutil"
)

func TestInsertKeepsFirstRecord(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.Provide()
	ctx := context.Background()
	now := time.Date(2024, 8, 17, 10, 0, 0, 0, time.UTC)

	inserted, err := repo.Insert(ctx, db, &domain.Record{CallerID: "user-1", Token: "t-1", OrderID: 1, Total: 100, Status: "pending", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, db, &domain.Record{CallerID: "user-1", Token: "t-1", OrderID: 2, Total: 999, Status: "pending", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.FindLive(ctx, db, "user-1", "t-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.OrderID)
	testutil.AssertCount(t, db, "idempotency_records", 1, "")
}

// captureInsert opens dialector without a server and returns the SQL that
// Insert would send.
func captureInsert(t *testing.T, dialector gorm.Dialector) string {
	t.Helper()
	db, err := gorm.Open(dialector, &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	var sql string
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture", func(tx *gorm.DB) {
		sql = tx.Statement.SQL.String()
	}))

	_, err = repository.Provide().Insert(context.Background(), db, &domain.Record{
		CallerID: "user-1", Token: "t-1", OrderID: 1, Total: 100, Status: "pending", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return sql
}

func TestInsertConflictClausePerDialect(t *testing.T) {
	mysqlSQL := captureInsert(t, mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/orderflow?parseTime=True",
		SkipInitializeWithVersion: true,
	}))
	assert.Contains(t, mysqlSQL, "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, mysqlSQL, "ON CONFLICT")

	postgresSQL := captureInsert(t, postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=orderflow dbname=orderflow sslmode=disable",
	}))
	assert.Contains(t, postgresSQL, `ON CONFLICT ("caller_id","token") DO NOTHING`)
}
