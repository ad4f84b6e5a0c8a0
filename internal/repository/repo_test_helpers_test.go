package repository

import (
	"database/sql"
	"testing"

	"github.com/hitoshi/hourglass/internal/database"
	"github.com/hitoshi/hourglass/internal/testutil/pgtest"
)

// openMigratedDB はマイグレーション適用済みのテスト用DBを返す。
func openMigratedDB(t *testing.T) *sql.DB {
	t.Helper()

	db, dbURL := pgtest.Open(t)
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	return db
}
