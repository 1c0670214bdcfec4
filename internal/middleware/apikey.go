package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/neurocode/neurocode/internal/model"
)

// apiKeyHeaderName はAPIキーを受け取るヘッダー名。
const apiKeyHeaderName = "X-API-Key"

// UsageMeter はAPIキーでアカウントを特定し、利用量を記録するインターフェース。
// account.Serviceが満たす。
type UsageMeter interface {
	FindByCredential(ctx context.Context, credential string) (*model.Account, error)
	RecordUsage(ctx context.Context, accountID string, delta int) (*model.Account, error)
}

// UsageRejectRecorder は上限超過による拒否を記録するインターフェース。
type UsageRejectRecorder interface {
	RecordUsageRejected(plan string)
}

// NewAPIKeyMiddleware はAPIキーを検証し、1リクエストごとにcost単位の利用量を記録するミドルウェアを返す。
// 上限を超える場合は利用量を変更せずに429を返す。
// 記録後のアカウントはAccountFromContextで取得できる。
func NewAPIKeyMiddleware(meter UsageMeter, cost int, recorder UsageRejectRecorder) func(next http.Handler) http.Handler {
	if cost <= 0 {
		cost = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKey(r)
			if key == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Missing API key."))
				return
			}

			a, err := meter.FindByCredential(r.Context(), key)
			if err != nil {
				slog.Error("failed to look up API key", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
				return
			}
			if a == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid API key."))
				return
			}

			updated, err := meter.RecordUsage(r.Context(), a.ID, cost)
			switch {
			case errors.Is(err, model.ErrLimitExceeded):
				if recorder != nil {
					recorder.RecordUsageRejected(string(a.Plan))
				}
				slog.Warn("usage limit exceeded",
					slog.String("account_id", a.ID),
					slog.Int("usage_today", a.UsageToday),
					slog.Int("usage_limit", a.UsageLimit),
				)
				setUsageHeaders(w, a)
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewUsageLimitExceededError(a.UsageLimit))
				return
			case errors.Is(err, model.ErrAccountNotFound):
				// キー検索と記録の間にアカウントが消えた
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid API key."))
				return
			case err != nil:
				slog.Error("failed to record usage",
					slog.String("account_id", a.ID),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
				return
			}

			setUsageHeaders(w, updated)
			ctx := ContextWithAccount(r.Context(), updated)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKey はX-API-Keyヘッダー、なければBearerトークンからAPIキーを取り出す。
func apiKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeaderName)); k != "" {
		return k
	}
	if token, ok := bearerToken(r); ok {
		return token
	}
	return ""
}

func setUsageHeaders(w http.ResponseWriter, a *model.Account) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(a.UsageLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(a.UsageRemaining()))
}
