package database

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/hitoshi/hourglass/internal/testutil/pgtest"
)

var expectedTables = []string{
	"users",
	"bearer_tokens",
	"newsletter_subscribers",
}

func countTables(t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	err := db.QueryRow(
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name IN ('users','bearer_tokens','newsletter_subscribers')",
	).Scan(&count)
	if err != nil {
		t.Fatalf("テーブルカウント取得に失敗: %v", err)
	}
	return count
}

func TestRunMigrations_Up(t *testing.T) {
	db, dbURL := pgtest.Open(t)

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	for _, table := range expectedTables {
		t.Run("テーブル存在確認_"+table, func(t *testing.T) {
			var exists bool
			err := db.QueryRow(
				"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
				table,
			).Scan(&exists)
			if err != nil {
				t.Fatalf("テーブル存在確認クエリに失敗: %v", err)
			}
			if !exists {
				t.Errorf("テーブル %q が存在しません", table)
			}
		})
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	_, dbURL := pgtest.Open(t)

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("1回目のマイグレーション実行に失敗: %v", err)
	}
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("2回目のマイグレーション実行に失敗（冪等性の問題）: %v", err)
	}
}

func TestMigrations_UpAndDown(t *testing.T) {
	db, dbURL := pgtest.Open(t)

	m, err := NewMigrator(dbURL)
	if err != nil {
		t.Fatalf("Migrator生成に失敗: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("Up マイグレーション実行に失敗: %v", err)
	}
	if got := countTables(t, db); got != len(expectedTables) {
		t.Errorf("Up後のテーブル数が不正: got %d, want %d", got, len(expectedTables))
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down マイグレーション実行に失敗: %v", err)
	}
	if got := countTables(t, db); got != 0 {
		t.Errorf("Down後のテーブル数が不正: got %d, want 0", got)
	}
}

// TestUsersTable はusersテーブルのカラム構成と制約を検証する。
func TestUsersTable(t *testing.T) {
	db, dbURL := pgtest.Open(t)
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	assertTableColumns(t, db, "users", map[string]string{
		"id":                       "uuid",
		"provider":                 "text",
		"subject_id":               "text",
		"email":                    "text",
		"display_name":             "text",
		"avatar_url":               "text",
		"exchange_code_hash":       "text",
		"exchange_code_expires_at": "timestamp with time zone",
		"created_at":               "timestamp with time zone",
		"updated_at":               "timestamp with time zone",
	})
	assertNotNull(t, db, "users", []string{"id", "provider", "subject_id", "email", "display_name", "created_at", "updated_at"})
	assertPrimaryKey(t, db, "users", "id")
	assertUniqueConstraint(t, db, "users", []string{"provider", "subject_id"})
	assertPartialUniqueIndex(t, db, "users", []string{"exchange_code_hash"}, "exchange_code_hash")
}

// TestBearerTokensTable はbearer_tokensテーブルのカラム構成と制約を検証する。
func TestBearerTokensTable(t *testing.T) {
	db, dbURL := pgtest.Open(t)
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	assertTableColumns(t, db, "bearer_tokens", map[string]string{
		"id":         "uuid",
		"user_id":    "uuid",
		"token_hash": "text",
		"created_at": "timestamp with time zone",
		"rotated_at": "timestamp with time zone",
		"expires_at": "timestamp with time zone",
	})
	assertNotNull(t, db, "bearer_tokens", []string{"id", "user_id", "token_hash", "created_at", "rotated_at"})
	assertPrimaryKey(t, db, "bearer_tokens", "id")
	assertUniqueConstraint(t, db, "bearer_tokens", []string{"user_id"})
	assertUniqueConstraint(t, db, "bearer_tokens", []string{"token_hash"})
	assertForeignKey(t, db, "bearer_tokens", "user_id", "users", "id", "CASCADE")
}

// TestNewsletterSubscribersTable はnewsletter_subscribersテーブルを検証する。
func TestNewsletterSubscribersTable(t *testing.T) {
	db, dbURL := pgtest.Open(t)
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	assertTableColumns(t, db, "newsletter_subscribers", map[string]string{
		"id":         "uuid",
		"email":      "text",
		"created_at": "timestamp with time zone",
	})
	assertPrimaryKey(t, db, "newsletter_subscribers", "id")
	assertUniqueConstraint(t, db, "newsletter_subscribers", []string{"email"})
}

// TestCascadeDelete はユーザー削除時にトークンがCASCADE削除されることを検証する。
func TestCascadeDelete(t *testing.T) {
	db, dbURL := pgtest.Open(t)
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	const userID = "11111111-1111-1111-1111-111111111111"
	if _, err := db.Exec(
		`INSERT INTO users (id, provider, subject_id, email, display_name) VALUES ($1, 'google', 'g-1', 'a@x.com', 'Ann')`,
		userID,
	); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO bearer_tokens (id, user_id, token_hash) VALUES ($1, $2, 'hash-1')`,
		"22222222-2222-2222-2222-222222222222", userID,
	); err != nil {
		t.Fatalf("トークン作成に失敗: %v", err)
	}

	if _, err := db.Exec(`DELETE FROM users WHERE id = $1`, userID); err != nil {
		t.Fatalf("ユーザー削除に失敗: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM bearer_tokens WHERE user_id = $1`, userID).Scan(&count); err != nil {
		t.Fatalf("トークン件数取得に失敗: %v", err)
	}
	if count != 0 {
		t.Errorf("bearer_tokens が残っています: %d件", count)
	}
}

// --- ヘルパー ---

// assertTableColumns はテーブルのカラムとデータ型を検証する。
func assertTableColumns(t *testing.T, db *sql.DB, table string, expected map[string]string) {
	t.Helper()

	rows, err := db.Query(
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1",
		table,
	)
	if err != nil {
		t.Fatalf("%s テーブルのカラム情報取得に失敗: %v", table, err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var name, dtype string
		if err := rows.Scan(&name, &dtype); err != nil {
			t.Fatalf("カラム情報のスキャンに失敗: %v", err)
		}
		actual[name] = dtype
	}

	for col, expectedType := range expected {
		actualType, ok := actual[col]
		if !ok {
			t.Errorf("%s.%s カラムが存在しません", table, col)
			continue
		}
		if actualType != expectedType {
			t.Errorf("%s.%s のデータ型が不正: got %q, want %q", table, col, actualType, expectedType)
		}
	}
}

// assertNotNull はカラムのNOT NULL制約を検証する。
func assertNotNull(t *testing.T, db *sql.DB, table string, columns []string) {
	t.Helper()

	for _, col := range columns {
		var isNullable string
		err := db.QueryRow(
			"SELECT is_nullable FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2",
			table, col,
		).Scan(&isNullable)
		if err != nil {
			t.Errorf("%s.%s のNOT NULL制約確認に失敗: %v", table, col, err)
			continue
		}
		if isNullable != "NO" {
			t.Errorf("%s.%s にNOT NULL制約が設定されていません", table, col)
		}
	}
}

// assertPrimaryKey はプライマリキーを検証する。
func assertPrimaryKey(t *testing.T, db *sql.DB, table, column string) {
	t.Helper()

	var count int
	err := db.QueryRow(`
		SELECT count(*) FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = 'public'
			AND tc.table_name = $1
			AND kcu.column_name = $2
	`, table, column).Scan(&count)
	if err != nil {
		t.Fatalf("%s.%s のPK確認に失敗: %v", table, column, err)
	}
	if count == 0 {
		t.Errorf("%s.%s にプライマリキーが設定されていません", table, column)
	}
}

// assertUniqueConstraint はユニーク制約を検証する（カラムの組み合わせ）。
func assertUniqueConstraint(t *testing.T, db *sql.DB, table string, columns []string) {
	t.Helper()

	// pg_catalogを使用してユニーク制約またはユニークインデックスの存在を確認
	query := `
		SELECT count(*) FROM (
			SELECT i.relname
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_class i ON i.oid = ix.indexrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			WHERE t.relname = $1
				AND n.nspname = 'public'
				AND ix.indisunique = true
				AND ix.indisprimary = false
				AND (
					SELECT array_agg(a.attname::text ORDER BY array_position(ix.indkey, a.attnum))
					FROM pg_attribute a
					WHERE a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
				) = $2::text[]
		) sub
	`
	var count int
	err := db.QueryRow(query, table, fmt.Sprintf("{%s}", joinStrings(columns))).Scan(&count)
	if err != nil {
		t.Fatalf("%s のユニーク制約確認に失敗: %v", table, err)
	}
	if count == 0 {
		t.Errorf("%s テーブルに %v のユニーク制約が設定されていません", table, columns)
	}
}

// assertForeignKey は外部キー制約を検証する。
func assertForeignKey(t *testing.T, db *sql.DB, table, column, refTable, refColumn, deleteRule string) {
	t.Helper()

	var count int
	err := db.QueryRow(`
		SELECT count(*) FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
			ON rc.constraint_name = kcu.constraint_name
			AND rc.constraint_schema = kcu.constraint_schema
		JOIN information_schema.constraint_column_usage ccu
			ON rc.unique_constraint_name = ccu.constraint_name
			AND rc.unique_constraint_schema = ccu.constraint_schema
		WHERE kcu.table_schema = 'public'
			AND kcu.table_name = $1
			AND kcu.column_name = $2
			AND ccu.table_name = $3
			AND ccu.column_name = $4
			AND rc.delete_rule = $5
	`, table, column, refTable, refColumn, deleteRule).Scan(&count)
	if err != nil {
		t.Fatalf("%s.%s -> %s.%s のFK確認に失敗: %v", table, column, refTable, refColumn, err)
	}
	if count == 0 {
		t.Errorf("%s.%s -> %s.%s の外部キー制約（ON DELETE %s）が設定されていません", table, column, refTable, refColumn, deleteRule)
	}
}

// assertPartialUniqueIndex は部分ユニークインデックスの存在を検証する。
func assertPartialUniqueIndex(t *testing.T, db *sql.DB, table string, columns []string, whereCol string) {
	t.Helper()

	var count int
	query := `
		SELECT count(*) FROM pg_indexes
		WHERE schemaname = 'public'
			AND tablename = $1
			AND indexdef LIKE '%UNIQUE%'
			AND indexdef LIKE '%WHERE%' || $2 || '%'
	`
	err := db.QueryRow(query, table, whereCol).Scan(&count)
	if err != nil {
		t.Fatalf("%s の部分ユニークインデックス確認に失敗: %v", table, err)
	}
	if count == 0 {
		t.Errorf("%s テーブルに %v の部分ユニークインデックス（WHERE %s IS NOT NULL）が設定されていません", table, columns, whereCol)
	}
}

// joinStrings はスライスをカンマ区切りの文字列に変換する。
func joinStrings(ss []string) string {
	result := ""
	for i, s := range ss {
		if i > 0 {
			result += ","
		}
		result += s
	}
	return result
}
