package auth

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// DefaultExchangeCodeTTL は交換コードの既定の有効期間。
const DefaultExchangeCodeTTL = 5 * time.Minute

// CodeIssuer はログイン完了時に使い捨ての交換コードを発行する。
type CodeIssuer struct {
	users repository.UserRepository
	ttl   time.Duration
	now   func() time.Time
}

// NewCodeIssuer はCodeIssuerを生成する。ttlが0以下の場合は既定値を使う。
func NewCodeIssuer(users repository.UserRepository, ttl time.Duration) *CodeIssuer {
	if ttl <= 0 {
		ttl = DefaultExchangeCodeTTL
	}
	return &CodeIssuer{users: users, ttl: ttl, now: time.Now}
}

// IssueCode はコードを生成してユーザーに紐付ける。
// 未使用の旧コードは上書きされ、以後引き換えできない。
func (i *CodeIssuer) IssueCode(ctx context.Context, user *model.User) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", model.NewInternalError(err)
	}

	expiresAt := i.now().Add(i.ttl)
	if err := i.users.AttachExchangeCode(ctx, user.ID, HashSecret(code), expiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", model.NewUserNotFoundError()
		}
		return "", model.NewInternalError(err)
	}
	return code, nil
}
