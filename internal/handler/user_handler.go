package handler

import (
	"net/http"

	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/hitoshi/hourglass/internal/model"
)

// userResponse はGET /api/v1/users/meのレスポンスデータ。
type userResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatarUrl"`
}

// UserHandler はユーザー情報のHTTPハンドラー。
// ユーザーはBearer認証ミドルウェアが解決済みのものを使う。
type UserHandler struct{}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Me は現在のユーザー情報を返す。
// GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, model.NewUnauthenticatedError("Authentication required"))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		Name:      user.DisplayName,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}, "User retrieved")
}
