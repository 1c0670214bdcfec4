package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/neurocode/neurocode/internal/bot"
	"github.com/neurocode/neurocode/internal/middleware"
	"github.com/neurocode/neurocode/internal/model"
)

// webhookSecretHeader はsetWebhookで登録したsecret_tokenをTelegramが送るヘッダー。
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBodySize はWebhookで受け付けるUpdateの上限バイト数。
const maxUpdateBodySize = 1 << 20

// webhookHandleTimeout は1件のUpdate処理に許す最大時間。
const webhookHandleTimeout = 30 * time.Second

// UpdateHandler はTelegramのUpdateを処理するインターフェース。bot.Dispatcherが満たす。
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u bot.Update) error
}

// WebhookHandler はTelegram Webhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	handler UpdateHandler
	secret  []byte
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(handler UpdateHandler, secret string) *WebhookHandler {
	return &WebhookHandler{
		handler: handler,
		secret:  []byte(secret),
	}
}

// ServeHTTP はUpdateを1件受け取り、ディスパッチャーに渡す。
// POST /telegram/webhook
//
// 処理に失敗してもTelegramの再送を避けるため200を返し、エラーはログにのみ記録する。
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := []byte(r.Header.Get(webhookSecretHeader))
	if len(h.secret) == 0 || subtle.ConstantTimeCompare(got, h.secret) != 1 {
		slog.Warn("telegram webhook secret mismatch", slog.String("remote_addr", r.RemoteAddr))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid webhook secret."))
		return
	}

	var u bot.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBodySize)).Decode(&u); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Malformed update."))
		return
	}

	// Telegramが接続を切ってもコード発行と返信は完了させる
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookHandleTimeout)
	defer cancel()

	if err := h.handler.HandleUpdate(ctx, u); err != nil {
		slog.Error("failed to handle telegram update",
			slog.Int64("update_id", u.UpdateID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusOK)
}
