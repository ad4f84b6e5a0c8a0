// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/hourglass/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey   = contextKey("user")
	userIDContextKey = contextKey("user_id")
)

// BearerResolver はAuthorizationヘッダーからユーザーを解決する。
// auth.BearerResolverが実装する。
type BearerResolver interface {
	Resolve(ctx context.Context, authorization string) (*model.User, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 解決したユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 解決に失敗した場合はエラーコードに応じたエンベロープ（401/404/500）を返す。
func NewBearerAuthMiddleware(resolver BearerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				WriteAPIError(w, err)
				return
			}

			annotateUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はBearer認証を通過したリクエストのユーザーを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUser はコンテキストにユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, userIDContextKey, user.ID)
}

// ContextWithUserID はコンテキストにユーザーIDだけを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
