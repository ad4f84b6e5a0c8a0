// Package pgtest はPostgreSQL統合テスト用のヘルパーを提供する。
//
// TEST_DATABASE_URL が設定されていればそのDBを使う。
// 未設定の場合はtestcontainersで使い捨てのPostgreSQLコンテナを1つ起動し、
// 同一テストバイナリ内で共有する。どちらも使えない環境ではテストをスキップする。
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// URL はテスト用のデータベースURLを返す。
func URL(t testing.TB) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("PostgreSQL統合テストはshortモードではスキップします")
	}

	containerOnce.Do(func() {
		containerURL, containerErr = startContainer()
	})
	if containerErr != nil {
		t.Skipf("PostgreSQLを利用できないためスキップします: %v", containerErr)
	}
	return containerURL
}

// startContainer はPostgreSQLコンテナを起動して接続URLを返す。
// コンテナの後始末はtestcontainersのリーパーに任せる。
func startContainer() (url string, err error) {
	// Dockerが無い環境ではpanicする場合がある
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker not available: %v", r)
		}
	}()

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hourglass_test"),
		postgres.WithUsername("hourglass"),
		postgres.WithPassword("hourglass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", err
	}
	return container.ConnectionString(ctx, "sslmode=disable")
}

// Open はテスト用DBに接続し、全テーブルとマイグレーション履歴を削除した状態で返す。
// 接続できない場合はテストをスキップする。
func Open(t testing.TB) (*sql.DB, string) {
	t.Helper()

	dbURL := URL(t)
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	Reset(t, db)
	return db, dbURL
}

// Reset は全テーブルとマイグレーション履歴を削除する。
func Reset(t testing.TB, db *sql.DB) {
	t.Helper()

	const cleanupSQL = `
		DROP TABLE IF EXISTS newsletter_subscribers CASCADE;
		DROP TABLE IF EXISTS bearer_tokens CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
}
