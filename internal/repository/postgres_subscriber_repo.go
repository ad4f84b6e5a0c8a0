package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/hourglass/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用したニュースレター購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db DBTX
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db DBTX) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

// Create は購読者を登録する。
// emailの一意制約に違反した場合はErrDuplicateを返す。
// IDが未設定の場合は採番し、created_atはDB側で設定した値を書き戻す。
func (r *PostgresSubscriberRepo) Create(ctx context.Context, subscriber *model.Subscriber) error {
	if subscriber.ID == "" {
		subscriber.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO newsletter_subscribers (id, email, created_at)
		 VALUES ($1, $2, now())
		 RETURNING created_at`,
		subscriber.ID, subscriber.Email,
	).Scan(&subscriber.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subscriber %s: %w", subscriber.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
