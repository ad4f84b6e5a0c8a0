package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// TokenCache はトークンダイジェストからユーザーIDへの解決結果をキャッシュする。
// 実装は internal/cache にある。
//
// 失効したダイジェストは削除せず、空のユーザーIDを持つ否定エントリで上書きする。
// 否定エントリがある間はAddが失敗するため、失効前に読んだDBの結果で復活しない。
type TokenCache interface {
	// Get はエントリを返す。okかつuserIDが空の場合は失効済みを表す。
	Get(ctx context.Context, tokenHash string) (userID string, ok bool)
	// Add はエントリが存在しない場合だけ書き込み、書き込んだかどうかを返す。
	Add(ctx context.Context, tokenHash, userID string) bool
	// Invalidate は否定エントリを書き込む。
	Invalidate(ctx context.Context, tokenHash string)
}

// TokenStoreConfig はTokenStoreの設定。
type TokenStoreConfig struct {
	// TTL はトークンの有効期間。0の場合はローテーションか失効まで有効。
	TTL time.Duration
	// Cache はnilの場合キャッシュしない。
	Cache   TokenCache
	Metrics metrics.MetricsCollector
}

// TokenStore はユーザーごとに最大1つのBearerトークンを管理する。
// 2台目の端末でログインすると1台目のトークンは無効になる（最後の発行が勝つ）。
type TokenStore struct {
	tx      repository.Transactor
	tokens  repository.TokenRepository
	cache   TokenCache
	ttl     time.Duration
	metrics metrics.MetricsCollector
	now     func() time.Time
	group   singleflight.Group
}

// NewTokenStore はTokenStoreを生成する。
// txはIssueOrRotateの書き込みに、tokensは検索と失効に使う。
func NewTokenStore(tx repository.Transactor, tokens repository.TokenRepository, cfg TokenStoreConfig) *TokenStore {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &TokenStore{
		tx:      tx,
		tokens:  tokens,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
		metrics: m,
		now:     time.Now,
	}
}

// IssueOrRotate はユーザーのトークンを発行する。既存トークンは即座に無効になる。
// 行ロックをコミットまで保持するためトランザクション内で書き込む。
func (s *TokenStore) IssueOrRotate(ctx context.Context, userID string) (string, error) {
	var issued *model.IssuedToken
	err := s.tx.WithinTx(ctx, func(ctx context.Context, _ repository.UserRepository, tokens repository.TokenRepository) error {
		var err error
		issued, err = s.issueWith(ctx, tokens, userID)
		return err
	})
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			err = model.NewInternalError(err)
		}
		return "", err
	}
	s.afterIssue(ctx, issued)
	return issued.Token, nil
}

// issueWith は指定リポジトリ（トランザクション内のものを含む）でトークンを書き込む。
// キャッシュの破棄はコミット後に afterIssue で行う。
func (s *TokenStore) issueWith(ctx context.Context, tokens repository.TokenRepository, userID string) (*model.IssuedToken, error) {
	token, err := generateToken()
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := s.now().Add(s.ttl)
		expiresAt = &t
	}

	previousHash, err := tokens.IssueOrRotate(ctx, userID, HashSecret(token), expiresAt)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	return &model.IssuedToken{Token: token, UserID: userID, PreviousHash: previousHash}, nil
}

func (s *TokenStore) afterIssue(ctx context.Context, issued *model.IssuedToken) {
	if issued.PreviousHash == "" {
		slog.Info("bearer token issued", slog.String("user_id", issued.UserID))
		return
	}
	s.evict(ctx, issued.PreviousHash)
	s.metrics.RecordTokenRotation()
	slog.Info("bearer token rotated", slog.String("user_id", issued.UserID))
}

// LookupByToken はトークンの所有ユーザーIDを返す。見つからない場合は空文字を返す。
// 検索はダイジェストのインデックス等価比較で行う。
func (s *TokenStore) LookupByToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	hash := HashSecret(token)

	if s.cache != nil {
		if userID, ok := s.cache.Get(ctx, hash); ok {
			// 否定エントリの場合は空文字（未認証）になる
			return userID, nil
		}
	}

	// 共有される検索は最初の呼び出し元のキャンセルに巻き込まない
	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.tokens.FindUserIDByTokenHash(context.WithoutCancel(ctx), hash)
	})
	if err != nil {
		return "", model.NewInternalError(err)
	}
	userID := v.(string)

	if userID != "" && s.cache != nil && !s.cache.Add(ctx, hash, userID) {
		// 検索中にローテーション・失効が起きていれば否定エントリが優先される
		if cached, ok := s.cache.Get(ctx, hash); ok {
			return cached, nil
		}
	}
	return userID, nil
}

// Revoke はトークンを削除する。存在しなかった場合はfalseを返す。
func (s *TokenStore) Revoke(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	hash := HashSecret(token)

	deleted, err := s.tokens.DeleteByTokenHash(ctx, hash)
	if err != nil {
		return false, model.NewInternalError(err)
	}
	s.evict(ctx, hash)
	return deleted, nil
}

func (s *TokenStore) evict(ctx context.Context, hash string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, hash)
	}
}
