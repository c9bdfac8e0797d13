// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// Statusが0の場合は500として扱う。
type APIError struct {
	Status     int           // HTTPステータスコード
	Code       string        // エラーコード
	Message    string        // クライアント向けメッセージ
	Field      string        // 検証エラーの対象フィールド（任意）
	RetryAfter time.Duration // 429の場合の再試行までの目安（任意）
	Err        error         // 原因（ログと開発モードの詳細表示のみに使う）
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

// StatusCode はHTTPステータスコードを返す。未設定の場合は500。
func (e *APIError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeIdentityIncomplete   = "IDENTITY_INCOMPLETE"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	ErrCodeCSRFFailed           = "CSRF_FAILED"
	ErrCodeInvalidOAuthCallback = "INVALID_OAUTH_CALLBACK"
)

// NewValidationError は必須フィールド欠落やユーザー名重複のエラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// NewDuplicateUsernameError はユーザー名の重複エラーを生成する。
func NewDuplicateUsernameError(username string) *APIError {
	return NewValidationError("username", fmt.Sprintf("Username %q is already taken", username))
}

// NewIdentityIncompleteError は外部IdPのクレームからユーザーを作成できない場合のエラーを生成する。
func NewIdentityIncompleteError(missing string) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    ErrCodeIdentityIncomplete,
		Message: fmt.Sprintf("Your account is missing %s, please complete your profile with the identity provider.", missing),
		Field:   missing,
	}
}

// NewNotFoundError はルート未検出エラーを生成する。
// pathにはリクエストされた元のURLを渡す。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("Can't find %s on this server!", path),
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfter time.Duration) *APIError {
	return &APIError{
		Status:     http.StatusTooManyRequests,
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests from this IP, please try again in an hour!",
		RetryAfter: retryAfter,
	}
}

// NewPayloadTooLargeError はリクエストボディのサイズ超過エラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    ErrCodePayloadTooLarge,
		Message: fmt.Sprintf("Request body exceeds the %d byte limit.", limit),
	}
}

// NewMalformedBodyError はボディの構文エラーを生成する。
func NewMalformedBodyError(err error) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeValidation,
		Message: "Request body could not be parsed.",
		Err:     err,
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    ErrCodeCSRFFailed,
		Message: "CSRF token validation failed.",
	}
}

// NewInvalidOAuthCallbackError はOAuthコールバックのパラメータ不正エラーを生成する。
func NewInvalidOAuthCallbackError(reason string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidOAuthCallback,
		Message: fmt.Sprintf("Login failed: %s", reason),
	}
}

// NewInternalError は想定外のエラーを包む。
func NewInternalError(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeInternal,
		Message: "Something went very wrong!",
		Err:     err,
	}
}

// NewServiceUnavailableError はストアなど依存先に到達できない場合のエラーを生成する。
func NewServiceUnavailableError(err error) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    ErrCodeServiceUnavailable,
		Message: "Service temporarily unavailable.",
		Err:     err,
	}
}

// AsAPIError はエラーチェーンからAPIErrorを取り出す。
// 見つからない場合はInternalErrorで包んで返す。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err)
}

// IsCode はエラーチェーンに指定コードのAPIErrorが含まれるかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
