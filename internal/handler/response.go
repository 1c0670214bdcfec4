package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/neurocode/neurocode/internal/middleware"
	"github.com/neurocode/neurocode/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限バイト数。
const maxRequestBodySize = 4 << 10

// usageResponse は利用量のAPIレスポンス。
type usageResponse struct {
	Plan          string `json:"plan"`
	RequestsToday int    `json:"requests_today"`
	DailyLimit    int    `json:"daily_limit"`
	Remaining     int    `json:"remaining"`
	RequestsTotal int64  `json:"requests_total"`
}

// accountResponse はアカウント情報のAPIレスポンス。
type accountResponse struct {
	ID          string        `json:"id"`
	ExternalID  string        `json:"external_id"`
	Handle      string        `json:"handle,omitempty"`
	DisplayName string        `json:"display_name"`
	APIKey      string        `json:"api_key"`
	Usage       usageResponse `json:"usage"`
	CreatedAt   time.Time     `json:"created_at"`
}

func toUsageResponse(a *model.Account) usageResponse {
	return usageResponse{
		Plan:          string(a.Plan),
		RequestsToday: a.UsageToday,
		DailyLimit:    a.UsageLimit,
		Remaining:     a.UsageRemaining(),
		RequestsTotal: a.UsageTotal,
	}
}

// toAccountResponse はドメインのAccountをhandlerのレスポンス型に変換する。
func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		ExternalID:  a.ExternalID,
		Handle:      a.Handle,
		DisplayName: a.DisplayName,
		APIKey:      a.Credential,
		Usage:       toUsageResponse(a),
		CreatedAt:   a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteServiceError(w, err)
}

// writeUnauthorized は認証情報がコンテキストにない場合の401を書き込む。
// 認証ミドルウェアの外に誤ってルートを置いた場合にのみ到達する。
func writeUnauthorized(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required."))
}
