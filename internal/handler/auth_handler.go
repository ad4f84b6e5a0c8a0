// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/hourglass/internal/auth"
	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/hitoshi/hourglass/internal/model"
)

// コールバック失敗時にAUTH_FAILURE_URLへ付与するerror値
const (
	failureInvalidState   = "invalid_state"
	failureAccessDenied   = "access_denied"
	failureMissingCode    = "missing_code"
	failureAuthentication = "authentication_failed"
)

// AuthServiceInterface はログイン調停（IdPハンドシェイク→交換コード発行）のインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (string, error)
}

// CodeRedeemer は交換コードをBearerトークンに引き換える。
type CodeRedeemer interface {
	Redeem(ctx context.Context, code string) (string, error)
}

// TokenRevoker はBearerトークンを失効させる。
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) (bool, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientRedirectURL string // ?code= を受け取るクライアントのURL
	AuthFailureURL    string // 失敗時のリダイレクト先
	CookieSecure      bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	redeemer CodeRedeemer
	revoker  TokenRevoker
	state    *middleware.OAuthState
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, redeemer CodeRedeemer, revoker TokenRevoker, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		redeemer: redeemer,
		revoker:  revoker,
		state:    middleware.NewOAuthState(middleware.OAuthStateConfig{CookieSecure: config.CookieSecure}),
		config:   config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.Issue(w)
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、交換コードを付けてクライアントへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.state.Verify(w, r) {
		slog.Warn("oauth state mismatch")
		h.redirectFailure(w, r, failureInvalidState)
		return
	}

	query := r.URL.Query()
	if query.Get("error") != "" {
		slog.Info("oauth consent not granted", slog.String("reason", query.Get("error")))
		h.redirectFailure(w, r, failureAccessDenied)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.redirectFailure(w, r, failureMissingCode)
		return
	}

	exchangeCode, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectFailure(w, r, failureAuthentication)
		return
	}

	http.Redirect(w, r, withQuery(h.config.ClientRedirectURL, "code", exchangeCode), http.StatusFound)
}

func (h *AuthHandler) redirectFailure(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, withQuery(h.config.AuthFailureURL, "error", reason), http.StatusFound)
}

// tokenRequest はPOST /auth/tokenのリクエストボディ。
type tokenRequest struct {
	Code string `json:"code"`
}

// tokenResponse はPOST /auth/tokenのレスポンスデータ。
type tokenResponse struct {
	Token string `json:"token"`
}

// Token は交換コードをBearerトークンに引き換える。
// POST /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	token, err := h.redeemer.Redeem(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tokenResponse{Token: token}, "Token issued")
}

// Logout は呼び出し元のBearerトークンを失効させる。
// POST /auth/logout（Bearer認証ミドルウェアの内側に配置する）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		writeAPIErrorResponse(w, model.NewUnauthenticatedError("Missing bearer token"))
		return
	}

	if _, err := h.revoker.Revoke(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// withQuery はrawURLのクエリにkey=valueを追加したURLを返す。
// rawURLが解析できない場合はクエリ文字列を単純に連結する。
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL + "?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
