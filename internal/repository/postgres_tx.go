package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresTransactor は *sql.Tx 上にリポジトリを構築してfnを実行する。
type PostgresTransactor struct {
	db TxBeginner
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db TxBeginner) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx はトランザクションを開始し、fnが成功した場合のみコミットする。
// 分離レベルはREAD COMMITTED（PostgreSQLのデフォルト）。
// 交換コードの消費は条件付きUPDATEの行ロックで直列化されるため、これで十分。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, users UserRepository, tokens TokenRepository) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, NewPostgresUserRepo(tx), NewPostgresTokenRepo(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation pq.ErrorCode = "23505"

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// compile-time interface check
var _ Transactor = (*PostgresTransactor)(nil)
var _ TxBeginner = (*sql.DB)(nil)
