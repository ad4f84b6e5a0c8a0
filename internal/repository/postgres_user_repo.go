package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/hourglass/internal/model"
)

const userColumns = `id, provider, subject_id, email, display_name, avatar_url, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// dbには *sql.DB または *sql.Tx を渡す。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// UpsertBySubject は (provider, subject_id) をキーにユーザーを作成または更新する。
// 既存行のidとcreated_atは変更しない。AvatarURLがnilの場合は既存値を維持し、
// 既存値もなければFallbackAvatarURLを使う。
func (r *PostgresUserRepo) UpsertBySubject(ctx context.Context, identity model.ProviderIdentity) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, provider, subject_id, email, display_name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6::text, NULLIF($7::text, '')), now(), now())
		 ON CONFLICT (provider, subject_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     display_name = EXCLUDED.display_name,
		     avatar_url = COALESCE($6::text, users.avatar_url, NULLIF($7::text, '')),
		     updated_at = now()
		 RETURNING `+userColumns,
		uuid.NewString(), identity.Provider, identity.SubjectID, identity.Email, identity.DisplayName,
		nullString(identity.AvatarURL), identity.FallbackAvatarURL,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to upsert user: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// AttachExchangeCode はユーザーに交換コードのダイジェストと有効期限を設定する。
func (r *PostgresUserRepo) AttachExchangeCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET exchange_code_hash = $2, exchange_code_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		userID, codeHash, expiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to attach exchange code: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to attach exchange code: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ConsumeExchangeCode はコードの検索と消費を1文の条件付きUPDATEで行う。
// 同じコードで同時にリクエストされた場合、行ロックを取得した1件だけが一致し、
// 後続はクリア済みの行を再評価して0件となる。
func (r *PostgresUserRepo) ConsumeExchangeCode(ctx context.Context, codeHash string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET exchange_code_hash = NULL, exchange_code_expires_at = NULL, updated_at = now()
		 WHERE exchange_code_hash = $1 AND exchange_code_expires_at > now()
		 RETURNING `+userColumns,
		codeHash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume exchange code: %w", err)
	}
	return user, nil
}

// ClearExpiredExchangeCodes は期限切れの交換コードをクリアする。
func (r *PostgresUserRepo) ClearExpiredExchangeCodes(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET exchange_code_hash = NULL, exchange_code_expires_at = NULL
		 WHERE exchange_code_hash IS NOT NULL AND exchange_code_expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired exchange codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// scanUser は userColumns の順序で1行を読み取る。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var avatar sql.NullString
	if err := row.Scan(
		&user.ID, &user.Provider, &user.SubjectID, &user.Email, &user.DisplayName,
		&avatar, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if avatar.Valid {
		v := avatar.String
		user.AvatarURL = &v
	}
	return user, nil
}

// nullString は*stringをSQLパラメータに変換する。nilはNULLになる。
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
