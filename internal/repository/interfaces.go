// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/hourglass/internal/model"
)

// ErrNotFound は更新対象の行が存在しない場合に返す。
var ErrNotFound = errors.New("record not found")

// ErrDuplicate は一意制約違反（SQLSTATE 23505）を表す。
var ErrDuplicate = errors.New("duplicate record")

// DBTX は *sql.DB と *sql.Tx の共通部分。
// リポジトリはどちらの上でも同じSQLを発行できる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertBySubject は (provider, subject_id) の一意制約をキーに
	// INSERT ... ON CONFLICT DO UPDATE を1文で実行する。
	// 同一subjectの同時ログインでも行は1件しか作られない。
	UpsertBySubject(ctx context.Context, identity model.ProviderIdentity) (*model.User, error)

	// AttachExchangeCode はユーザーに交換コードのダイジェストを設定する。
	// 未使用の既存コードは上書きされ無効になる。ユーザーが存在しない場合はErrNotFoundを返す。
	AttachExchangeCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error

	// ConsumeExchangeCode は有効期限内のコードに一致するユーザーのコードを
	// 条件付きUPDATEでクリアし、そのユーザーを返す。
	// 一致しない場合（未発行・使用済み・期限切れ）はnilを返す。
	ConsumeExchangeCode(ctx context.Context, codeHash string) (*model.User, error)

	// ClearExpiredExchangeCodes は期限切れの交換コードをクリアし、件数を返す。
	ClearExpiredExchangeCodes(ctx context.Context) (int64, error)
}

// TokenRepository はBearerトークンの永続化インターフェース。
// user_idの一意制約によりユーザーごとに高々1件を保証する。
type TokenRepository interface {
	// IssueOrRotate はユーザーのトークンを作成するか、既存トークンを置き換える。
	// 置き換えた場合は旧トークンのダイジェストを返す。
	IssueOrRotate(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) (previousHash string, err error)

	// FindUserIDByTokenHash はダイジェストの等価比較でトークンを検索する。
	// 見つからない・期限切れの場合は空文字を返す。
	FindUserIDByTokenHash(ctx context.Context, tokenHash string) (string, error)

	// DeleteByTokenHash はトークンを削除する。削除した場合はtrueを返す。
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)

	// DeleteExpired は期限切れトークンを削除し、件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// Transactor は複数リポジトリへの書き込みを1トランザクションで実行する。
// fnがエラーを返した場合はロールバックされる。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, users UserRepository, tokens TokenRepository) error) error
}

// SubscriberRepository はニュースレター購読者の永続化インターフェース。
type SubscriberRepository interface {
	// Create は購読者を登録する。登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, subscriber *model.Subscriber) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
