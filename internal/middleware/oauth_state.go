package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

const (
	// OAuthStateCookieName はOAuthのstate値を保持するCookie名。
	OAuthStateCookieName = "oauth_state"
	oauthStateMaxAge     = 600 // 10分
	oauthStatePath       = "/auth"
)

// OAuthStateConfig はstate Cookieの設定。
type OAuthStateConfig struct {
	CookieSecure bool
}

// OAuthState はOAuthフローのCSRF対策としてstate値をダブルサブミットCookieで検証する。
type OAuthState struct {
	config OAuthStateConfig
}

// NewOAuthState はOAuthStateを生成する。
func NewOAuthState(config OAuthStateConfig) *OAuthState {
	return &OAuthState{config: config}
}

// Issue はランダムなstate値を生成し、Cookieに保存して返す。
func (s *OAuthState) Issue(w http.ResponseWriter) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    state,
		Path:     oauthStatePath,
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// Verify はクエリのstateとCookieのstateが一致するかを検証する。
// 結果にかかわらずCookieは削除し、同じstateを再利用させない。
func (s *OAuthState) Verify(w http.ResponseWriter, r *http.Request) bool {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    "",
		Path:     oauthStatePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(OAuthStateCookieName)
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
