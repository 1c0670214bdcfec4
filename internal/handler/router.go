package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neurocode/neurocode/internal/middleware"
)

// usageCostPerRequest はAPIキー経由の1リクエストで計上する利用量。
const usageCostPerRequest = 1

// AccountServiceInterface はルーターが必要とするアカウントサービスのインターフェース。
// account.Serviceが満たす。
type AccountServiceInterface interface {
	AccountReader
	CredentialRotator
	AccountCounter
	middleware.UsageMeter
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// HTTPMetrics はリクエストメトリクスを記録するミドルウェア。nilの場合は記録しない。
	HTTPMetrics func(http.Handler) http.Handler
	// MetricsHandler は/metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler

	// 認証
	AuthService   AuthServiceInterface
	Authenticator middleware.TokenAuthenticator

	// アカウント
	AccountService      AccountServiceInterface
	UsageRejectRecorder middleware.UsageRejectRecorder
	PendingCodes        PendingCounter

	// Telegram Webhook。UpdateHandlerがnilの場合はルートを登録しない。
	UpdateHandler UpdateHandler
	WebhookSecret string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → HTTPMetrics → CORS
//
// 認証が必要なルートにはBearer(JWT)またはAPIキーのミドルウェアを個別に追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics)
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AccountService)
	accountHandler := NewAccountHandler(deps.AccountService)

	// --- 認証不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.AccountService, deps.PendingCodes))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.UpdateHandler != nil {
		r.Method(http.MethodPost, "/telegram/webhook", NewWebhookHandler(deps.UpdateHandler, deps.WebhookSecret))
	}

	// コード検証はIP単位の専用レート制限のみ
	r.With(deps.RateLimiter.VerifyMiddleware()).Post("/api/auth/verify", authHandler.Verify)

	// --- アクセストークンが必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/auth/me", authHandler.Me)
		r.Post("/api/account/api-key", accountHandler.RotateAPIKey)
	})

	// --- APIキーで利用量を計上するルート ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.AccountService, usageCostPerRequest, deps.UsageRejectRecorder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/usage", accountHandler.Usage)
	})

	return r
}
