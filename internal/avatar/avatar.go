// Package avatar はログイン時のプロフィール画像URLを決定する。
// 取得に失敗してもログインは失敗させない。保存済みの画像がなければ生成画像のURLを使う。
package avatar

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/hourglass/internal/security"
)

// DefaultCheckTimeout は画像URLの到達確認のタイムアウト。
const DefaultCheckTimeout = 3 * time.Second

// generatorURL は名前のイニシャルから画像を生成するサービス。
const generatorURL = "https://ui-avatars.com/api/"

// Config はResolverの設定。
type Config struct {
	// Guard はnilの場合SSRF検証を行わない（テスト用）。
	Guard   security.URLGuard
	Timeout time.Duration
	// Client はGuardのsafe clientの代わりに使うHTTPクライアント（テスト用）。
	Client *http.Client
}

// Resolver はプロバイダーの画像URLを検証し、代替となる生成URLを組み立てる。
type Resolver struct {
	guard   security.URLGuard
	timeout time.Duration
	client  *http.Client
}

// NewResolver はResolverを生成する。
func NewResolver(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckTimeout
	}
	return &Resolver{guard: cfg.Guard, timeout: cfg.Timeout, client: cfg.Client}
}

// Verify はcandidateが到達可能な画像であればそれを返す。使えない場合はnilを返す。
func (r *Resolver) Verify(ctx context.Context, candidate *string) *string {
	if candidate == nil || *candidate == "" {
		return nil
	}
	if !r.reachable(ctx, *candidate) {
		return nil
	}
	verified := *candidate
	return &verified
}

// Fallback は表示名から生成画像のURLを返す。
func (r *Resolver) Fallback(displayName string) string {
	return GeneratedURL(displayName)
}

// reachable はHEADリクエストで画像URLの到達性とContent-Typeを確認する。
func (r *Resolver) reachable(ctx context.Context, rawURL string) bool {
	if r.guard != nil {
		if err := r.guard.ValidateURL(rawURL); err != nil {
			slog.Warn("avatar: SSRFブロック", slog.String("url", rawURL), slog.String("error", err.Error()))
			return false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		slog.Warn("avatar: リクエスト作成失敗", slog.String("url", rawURL), slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("User-Agent", "Hourglass/1.0")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		slog.Warn("avatar: HTTPリクエスト失敗", slog.String("url", rawURL), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("avatar: HTTPステータス異常", slog.String("url", rawURL), slog.Int("status", resp.StatusCode))
		return false
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		slog.Warn("avatar: 画像以外のContent-Type", slog.String("url", rawURL), slog.String("content_type", resp.Header.Get("Content-Type")))
		return false
	}
	return true
}

func (r *Resolver) httpClient() *http.Client {
	if r.client != nil {
		return r.client
	}
	if r.guard != nil {
		return r.guard.NewSafeClient(r.timeout)
	}
	return &http.Client{Timeout: r.timeout}
}

// GeneratedURL は表示名から生成画像のURLを組み立てる。
func GeneratedURL(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "User"
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("background", "random")
	q.Set("size", "200")
	return generatorURL + "?" + q.Encode()
}
