// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/neurocode/neurocode/internal/middleware"
	"github.com/neurocode/neurocode/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Verify は提出されたコードを検証し、アカウントとアクセストークンを返す。
	Verify(ctx context.Context, code string) (*verifyResponse, error)
}

// AccountReader は認証済みアカウントを取得するインターフェース。
type AccountReader interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// verifyRequest はコード検証リクエストのボディ。
type verifyRequest struct {
	Code string `json:"code"`
}

// verifyResponse はコード検証成功時のAPIレスポンス。
type verifyResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Created     bool            `json:"created"`
	Account     accountResponse `json:"account"`
}

// AuthHandler はコード認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	accounts AccountReader
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, accounts AccountReader) *AuthHandler {
	return &AuthHandler{
		service:  service,
		accounts: accounts,
	}
}

// Verify はTelegramボットが発行したコードを検証する。
// POST /api/auth/verify
//
// 失敗理由は形式不正(400)と「無効または期限切れ」(401)の2種類のみを返す。
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		reason := "Request body must be a JSON object with a code field."
		if errors.Is(err, io.EOF) {
			reason = "Request body is empty."
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return
	}

	resp, err := h.service.Verify(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ctx := middleware.ContextWithAccountID(r.Context(), resp.Account.ID)
	slog.DebugContext(ctx, "access token issued", slog.String("account_id", resp.Account.ID))

	writeJSON(w, http.StatusOK, resp)
}

// Me は現在のアカウント情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	a, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(a))
}
