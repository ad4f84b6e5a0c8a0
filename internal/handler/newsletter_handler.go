package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/hitoshi/hourglass/internal/model"
)

// NewsletterServiceInterface はニュースレターハンドラーが必要とするサービスインターフェース。
type NewsletterServiceInterface interface {
	Subscribe(ctx context.Context, email string) (*model.Subscriber, error)
}

// NewsletterHandler はニュースレター購読のHTTPハンドラー。
type NewsletterHandler struct {
	service NewsletterServiceInterface
}

// NewNewsletterHandler はNewsletterHandlerを生成する。
func NewNewsletterHandler(service NewsletterServiceInterface) *NewsletterHandler {
	return &NewsletterHandler{service: service}
}

type subscribeRequest struct {
	Email string `json:"email"`
}

type subscribeResponse struct {
	Email string `json:"email"`
}

// Subscribe はメールアドレスをニュースレターに登録する。
// POST /api/v1/newsletter
func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	subscriber, err := h.service.Subscribe(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, subscribeResponse{Email: subscriber.Email}, "Subscribed")
}
