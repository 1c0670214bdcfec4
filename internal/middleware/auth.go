// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/neurocode/neurocode/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// accountIDContextKey はリクエストコンテキストにアカウントIDを格納するためのキー。
	accountIDContextKey = contextKey("account_id")
	// accountContextKey はAPIキー認証で取得したアカウントを格納するためのキー。
	accountContextKey = contextKey("account")
)

// TokenAuthenticator はアクセストークンを検証しアカウントIDを返すインターフェース。
type TokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みアカウントIDをリクエストコンテキストに注入する。
// トークンがない、または無効な場合は401を返す。
func NewBearerAuthMiddleware(authenticator TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Missing access token."))
				return
			}

			accountID, err := authenticator.Authenticate(token)
			if err != nil {
				slog.Info("access token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid or expired access token."))
				return
			}

			ctx := ContextWithAccountID(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", errors.New("account ID not found in context")
	}
	return accountID, nil
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
// リクエストログ用の記録先があればそこにも設定する。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.accountID = accountID
	}
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// AccountFromContext はAPIキー認証で取得したアカウントを返す。
func AccountFromContext(ctx context.Context) (*model.Account, error) {
	a, ok := ctx.Value(accountContextKey).(*model.Account)
	if !ok || a == nil {
		return nil, fmt.Errorf("account not found in context")
	}
	return a, nil
}

// ContextWithAccount はコンテキストにアカウントとそのIDを注入する。
func ContextWithAccount(ctx context.Context, a *model.Account) context.Context {
	ctx = ContextWithAccountID(ctx, a.ID)
	return context.WithValue(ctx, accountContextKey, a)
}
