// Package auth はプロバイダーIDとローカルユーザーの対応付け、交換コードの発行、
// Bearerトークンの発行・ローテーション・解決を提供する。
package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/model"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 検証済みのプロバイダーIDを返す。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

// AvatarResolver はプロフィール画像URLを決定する。失敗してもエラーにはしない。
type AvatarResolver interface {
	// Verify は候補URLが使える画像ならそれを返し、使えない場合はnilを返す。
	Verify(ctx context.Context, candidate *string) *string
	// Fallback は表示名から生成する代替画像URLを返す。
	Fallback(displayName string) string
}

// Service はプロバイダーログインのコールバックを処理するコーディネーター。
// プロバイダー検証 → アバター決定 → ユーザーupsert → 交換コード発行 の順に実行する。
type Service struct {
	oauth     OAuthProvider
	avatars   AvatarResolver
	directory *Directory
	issuer    *CodeIssuer
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。avatarsはnilでもよい。
func NewService(
	oauth OAuthProvider,
	avatars AvatarResolver,
	directory *Directory,
	issuer *CodeIssuer,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		oauth:     oauth,
		avatars:   avatars,
		directory: directory,
		issuer:    issuer,
		metrics:   m,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、クライアントに渡す交換コードを返す。
func (s *Service) HandleCallback(ctx context.Context, oauthCode string) (string, error) {
	if oauthCode == "" {
		s.metrics.RecordLogin(metrics.ResultInvalid)
		return "", model.NewBadRequestError("authorization code is required")
	}

	identity, err := s.oauth.ExchangeCode(ctx, oauthCode)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		slog.Warn("provider login failed", slog.String("error", err.Error()))
		return "", &model.APIError{
			Code:    model.ErrCodeUnauthenticated,
			Message: "Provider login failed",
			Err:     err,
		}
	}

	code, err := s.Login(ctx, *identity)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return "", err
	}

	s.metrics.RecordLogin(metrics.ResultSuccess)
	return code, nil
}

// Login は検証済みのプロバイダーIDからユーザーを確定し、交換コードを発行する。
// 画像を検証できなかった場合は保存済みの画像を残し、なければ生成画像を使う。
func (s *Service) Login(ctx context.Context, identity model.ProviderIdentity) (string, error) {
	if s.avatars != nil {
		identity.AvatarURL = s.avatars.Verify(ctx, identity.AvatarURL)
		identity.FallbackAvatarURL = s.avatars.Fallback(identity.DisplayName)
	}

	user, err := s.directory.UpsertBySubject(ctx, identity)
	if err != nil {
		return "", err
	}

	code, err := s.issuer.IssueCode(ctx, user)
	if err != nil {
		return "", err
	}

	slog.Info("exchange code issued", slog.String("user_id", user.ID))
	return code, nil
}
