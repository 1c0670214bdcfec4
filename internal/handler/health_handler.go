package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はアカウント数の取得に許す最大時間。
const healthCheckTimeout = 2 * time.Second

// AccountCounter は登録アカウント数を返すインターフェース。
type AccountCounter interface {
	Count(ctx context.Context) (int, error)
}

// PendingCounter は保留中の認証コード数を返すインターフェース。
type PendingCounter interface {
	Len() int
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status       string `json:"status"`
	Accounts     int    `json:"accounts"`
	PendingCodes int    `json:"pending_codes"`
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	accounts AccountCounter
	pending  PendingCounter
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(accounts AccountCounter, pending PendingCounter) *HealthHandler {
	return &HealthHandler{accounts: accounts, pending: pending}
}

// ServeHTTP はストアの疎通を含むヘルスチェック結果を返す。
// ストアに到達できない場合は503とstatus=degradedを返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:       "ok",
		PendingCodes: h.pending.Len(),
	}

	n, err := h.accounts.Count(ctx)
	if err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Accounts = n

	writeJSON(w, http.StatusOK, resp)
}
