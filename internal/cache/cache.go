// Package cache はトークンダイジェストからユーザーIDへの解決結果をキャッシュする。
//
// バックエンド:
//   - memory: プロセス内（go-cache）
//   - redis: 複数インスタンスで共有（go-redis）
//
// キャッシュ障害は常にミスとして扱い、呼び出し側はDBへフォールバックする。
// 失効したダイジェストは空値の否定エントリとしてTTLの間保持する。
package cache

import (
	"context"
	"fmt"
	"time"
)

// ドライバー名
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// keyPrefix はRedis上のキー接頭辞。
const keyPrefix = "hourglass:token:"

// TokenCache はトークンダイジェスト→ユーザーIDのキャッシュ。
type TokenCache interface {
	Get(ctx context.Context, tokenHash string) (string, bool)
	Add(ctx context.Context, tokenHash, userID string) bool
	Invalidate(ctx context.Context, tokenHash string)
}

// Config はキャッシュの設定。
type Config struct {
	Driver   string
	TTL      time.Duration
	RedisURL string
}

// New は設定に応じたキャッシュを返す。driverがnoneの場合はnilを返す。
// キャッシュを有効にする場合、TTLは正の値でなければならない（0は無期限になるため）。
func New(ctx context.Context, cfg Config) (TokenCache, error) {
	switch cfg.Driver {
	case DriverNone, "":
		return nil, nil
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("TOKEN_CACHE_TTL must be positive, got %s", cfg.TTL)
	}

	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(cfg.TTL), nil
	case DriverRedis:
		r, err := NewRedis(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown cache driver: %q", cfg.Driver)
	}
}
