package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hourglass/internal/model"
)

// SuccessBody は成功レスポンスの統一エンベロープ。
type SuccessBody struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorBody は失敗レスポンスの統一エンベロープ。
// Errorにはエラーコード（UNAUTHENTICATED など）を入れる。
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// WriteJSON は成功エンベロープでレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(SuccessBody{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
		Success:    true,
	}); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse は失敗エンベロープでレスポンスを書き込む。
// apiErr.Errはクライアントに返さない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorBody{
		StatusCode: statusCode,
		Error:      apiErr.Code,
		Message:    apiErr.Message,
		Success:    false,
	}); err != nil {
		slog.Error("failed to encode error response", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は内部エラーのレスポンスを書き込む。
// 詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}

// WriteAPIError はerrをエラーコードに応じたステータスで書き込む。
// APIErrorを含まないエラーは内部エラーとして扱う。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}

	status := StatusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
	}
	WriteErrorResponse(w, status, apiErr)
}

// StatusForCode はAPIErrorのコードをHTTPステータスコードに変換する。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeBadRequest, model.ErrCodeInvalidCode, model.ErrCodeInvalidEmail:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeConflict, model.ErrCodeAlreadySubscribed:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
