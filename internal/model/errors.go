// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Code がエラー種別（BadRequest, Unauthenticated など）を表し、
// Err には原因となった内部エラーを保持する。Errはクライアントには返さない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, newsletter, system
	Action   string // ユーザー向け対処方法
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeInvalidCode       = "INVALID_CODE"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInvalidEmail      = "INVALID_EMAIL"
	ErrCodeAlreadySubscribed = "ALREADY_SUBSCRIBED"
)

// NewBadRequestError は必須項目の欠落エラーを生成する。
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  message,
		Category: "validation",
		Action:   "Check the request parameters and try again.",
	}
}

// NewUnauthenticatedError はBearerトークンの欠落・不正・未登録エラーを生成する。
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  message,
		Category: "auth",
		Action:   "Sign in again to obtain a new token.",
	}
}

// NewInvalidCodeError は交換コードが存在しない・使用済み・期限切れの場合のエラーを生成する。
// どの理由で失敗したかはクライアントに区別させない。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "Invalid or expired code",
		Category: "auth",
		Action:   "Start the sign-in flow again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewConflictError は一意制約違反が想定外に表面化した場合のエラーを生成する。
func NewConflictError(message string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  message,
		Category: "system",
		Action:   "Retry the request.",
		Err:      err,
	}
}

// NewInternalError は永続化層などの予期しない失敗を包む。
// 詳細はErrに保持し、メッセージは一般的な文言に留める。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Please wait and try again later.",
		Err:      err,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  message,
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInvalidEmailError はメールアドレス検証失敗エラーを生成する。
func NewInvalidEmailError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  reason,
		Category: "newsletter",
		Action:   "Enter a deliverable email address.",
	}
}

// NewAlreadySubscribedError はニュースレター重複登録エラーを生成する。
func NewAlreadySubscribedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadySubscribed,
		Message:  "Email already subscribed",
		Category: "newsletter",
		Action:   "No action needed.",
	}
}

// ErrorCode はerrに含まれるAPIErrorのコードを返す。
// APIErrorを含まない場合は空文字を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsErrorCode はerrが指定コードのAPIErrorかどうかを判定する。
func IsErrorCode(err error, code string) bool {
	return ErrorCode(err) == code
}
