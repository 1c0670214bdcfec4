package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/neurocode/neurocode/internal/middleware"
)

// CredentialRotator はAPIキーを再発行するインターフェース。account.Serviceが満たす。
type CredentialRotator interface {
	RotateCredential(ctx context.Context, accountID string) (string, error)
}

// apiKeyResponse はAPIキー再発行のAPIレスポンス。
type apiKeyResponse struct {
	APIKey string `json:"api_key"`
}

// AccountHandler はアカウント管理とAPIキー利用のHTTPハンドラー。
type AccountHandler struct {
	rotator CredentialRotator
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(rotator CredentialRotator) *AccountHandler {
	return &AccountHandler{rotator: rotator}
}

// RotateAPIKey はAPIキーを再発行する。旧キーは直ちに無効になる。
// POST /api/account/api-key
func (h *AccountHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	key, err := h.rotator.RotateCredential(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "api key rotated via web", slog.String("account_id", accountID))
	writeJSON(w, http.StatusOK, apiKeyResponse{APIKey: key})
}

// Usage はAPIキーの当日利用量を返す。呼び出し自体も1リクエストとして計上される。
// GET /api/v1/usage
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	a, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, toUsageResponse(a))
}
