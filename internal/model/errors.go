// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, usage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// サービス層で使用する番兵エラー。errors.Isで判定する。
var (
	// ErrInvalidCodeFormat は提出されたコードの形式が不正であることを示す。
	ErrInvalidCodeFormat = errors.New("invalid code format")
	// ErrInvalidOrExpiredCode はコードが未発行・使用済み・期限切れのいずれかであることを示す。
	// 呼び出し側には区別して伝えない。
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrLimitExceeded は利用量が上限を超えることを示す。
	ErrLimitExceeded = errors.New("usage limit exceeded")
	// ErrStoreUnavailable はアカウントストアが一時的に利用できないことを示す。
	ErrStoreUnavailable = errors.New("account store unavailable")
	// ErrAccountNotFound はアカウントが存在しないことを示す。
	ErrAccountNotFound = errors.New("account not found")
)

// 定義済みエラーコード
const (
	ErrCodeInvalidCodeFormat    = "INVALID_CODE_FORMAT"
	ErrCodeInvalidOrExpiredCode = "INVALID_OR_EXPIRED_CODE"
	ErrCodeUsageLimitExceeded   = "USAGE_LIMIT_EXCEEDED"
	ErrCodeStoreUnavailable     = "STORE_UNAVAILABLE"
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// NewInvalidCodeFormatError はコード形式不正エラーを生成する。
func NewInvalidCodeFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCodeFormat,
		Message:  "The code must be 6 letters or digits.",
		Category: "validation",
		Action:   "Check the code sent by the Telegram bot and enter it again.",
	}
}

// NewInvalidOrExpiredCodeError はコード無効エラーを生成する。
// 未発行・使用済み・期限切れを区別しない。
func NewInvalidOrExpiredCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredCode,
		Message:  "Invalid or expired code.",
		Category: "auth",
		Action:   "Request a new code with /auth in the Telegram bot.",
	}
}

// NewUsageLimitExceededError は利用上限超過エラーを生成する。limitが0以下の場合は上限値を表示しない。
func NewUsageLimitExceededError(limit int) *APIError {
	msg := "Daily request limit reached."
	if limit > 0 {
		msg = fmt.Sprintf("Daily request limit reached (%d).", limit)
	}
	return &APIError{
		Code:     ErrCodeUsageLimitExceeded,
		Message:  msg,
		Category: "usage",
		Action:   "Wait until the daily counter resets or upgrade your plan.",
	}
}

// NewStoreUnavailableError はストア利用不可エラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "The service is temporarily unavailable.",
		Category: "system",
		Action:   "Please try again in a few moments.",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "Account not found.",
		Category: "auth",
		Action:   "Sign in again with /auth in the Telegram bot.",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  reason,
		Category: "auth",
		Action:   "Sign in again with /auth in the Telegram bot.",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}
