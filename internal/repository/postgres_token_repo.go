package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresTokenRepo はPostgreSQLを使用したBearerトークンリポジトリ。
type PostgresTokenRepo struct {
	db DBTX
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db DBTX) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// IssueOrRotate はユーザーのトークンを作成または置き換える。
//
// 1. ON CONFLICT DO NOTHINGで新規挿入を試みる。同時挿入中の行があればコミットを待つ。
// 2. 既存行があれば FOR UPDATE でロックして旧ダイジェストを読み、上書きする。
//
// 旧ダイジェストは呼び出し側のキャッシュ破棄に使う。
func (r *PostgresTokenRepo) IssueOrRotate(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) (string, error) {
	var insertedID string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO bearer_tokens (id, user_id, token_hash, created_at, rotated_at, expires_at)
		 VALUES ($1, $2, $3, now(), now(), $4)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING id`,
		uuid.NewString(), userID, tokenHash, nullTime(expiresAt),
	).Scan(&insertedID)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("failed to insert token: %w", ErrDuplicate)
		}
		return "", fmt.Errorf("failed to insert token: %w", err)
	}

	var previousHash string
	err = r.db.QueryRowContext(ctx,
		`SELECT token_hash FROM bearer_tokens WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&previousHash)
	if err != nil {
		return "", fmt.Errorf("failed to lock token row: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE bearer_tokens
		 SET token_hash = $2, rotated_at = now(), expires_at = $3
		 WHERE user_id = $1`,
		userID, tokenHash, nullTime(expiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("failed to rotate token: %w", ErrDuplicate)
		}
		return "", fmt.Errorf("failed to rotate token: %w", err)
	}

	return previousHash, nil
}

// FindUserIDByTokenHash はダイジェストの等価比較（一意インデックス）でトークンを検索する。
// 見つからない・期限切れの場合は空文字を返す。
func (r *PostgresTokenRepo) FindUserIDByTokenHash(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM bearer_tokens
		 WHERE token_hash = $1 AND (expires_at IS NULL OR expires_at > now())`,
		tokenHash,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find token: %w", err)
	}
	return userID, nil
}

// DeleteByTokenHash は指定ダイジェストのトークンを削除する。
func (r *PostgresTokenRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bearer_tokens WHERE token_hash = $1`,
		tokenHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired は期限切れのトークンを削除する。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bearer_tokens WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
