package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/hitoshi/hourglass/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// handleServiceError はサービス層から返されたエラーをエラーエンベロープに変換する。
// APIError以外のエラーは内部サーバーエラーとして扱う。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteAPIError(w, err)
}

// writeAPIErrorResponse はAPIErrorのコードに対応するステータスでエラーを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, middleware.StatusForCode(apiErr.Code), apiErr)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 空ボディ・不正なJSONはBadRequestとして返す。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("Request body is required")
		}
		return model.NewBadRequestError("Invalid JSON request body")
	}
	return nil
}

func notFoundError() *model.APIError {
	return &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "Route not found",
		Category: "system",
	}
}
