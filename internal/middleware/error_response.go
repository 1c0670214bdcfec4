package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/neurocode/neurocode/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again in a few moments.",
	})
}

// WriteServiceError はサービス層のエラーを番兵エラーに応じたHTTPステータスと統一フォーマットに変換して書き込む。
// 番兵エラーに該当しないエラーは500として扱い、詳細をログに記録する。
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidCodeFormat):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCodeFormatError())
	case errors.Is(err, model.ErrInvalidOrExpiredCode):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidOrExpiredCodeError())
	case errors.Is(err, model.ErrLimitExceeded):
		WriteErrorResponse(w, http.StatusTooManyRequests, model.NewUsageLimitExceededError(0))
	case errors.Is(err, model.ErrStoreUnavailable):
		slog.Error("account store unavailable", slog.String("error", err.Error()))
		WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
	case errors.Is(err, model.ErrAccountNotFound):
		WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError())
	default:
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			WriteErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		slog.Error("unexpected service error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
	}
}
