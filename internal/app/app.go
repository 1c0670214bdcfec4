package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/neurocode/neurocode/internal/account"
	"github.com/neurocode/neurocode/internal/auth"
	"github.com/neurocode/neurocode/internal/bot"
	"github.com/neurocode/neurocode/internal/codes"
	"github.com/neurocode/neurocode/internal/config"
	"github.com/neurocode/neurocode/internal/database"
	"github.com/neurocode/neurocode/internal/handler"
	"github.com/neurocode/neurocode/internal/logger"
	"github.com/neurocode/neurocode/internal/metrics"
	"github.com/neurocode/neurocode/internal/middleware"
	"github.com/neurocode/neurocode/internal/security"
	"github.com/neurocode/neurocode/internal/telemetry"
	"github.com/neurocode/neurocode/internal/worker/usagereset"
)

// Version はビルド時に -ldflags "-X" で埋め込まれるバージョン。
var Version = "dev"

const (
	serviceName = "neurocode"
	// shutdownTimeout はグレースフルシャットダウンの最大待ち時間。
	shutdownTimeout = 30 * time.Second
	// telegramHTTPTimeout はBot API呼び出しのタイムアウト。ロングポーリングの待ち時間より長くする。
	telegramHTTPTimeout = bot.DefaultPollTimeout + 10*time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数の設定を読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// initDatabaseOnly はworkerとmigrate向けの初期化。ボットやJWTの設定を要求しない。
func initDatabaseOnly(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheckとverifyは軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		return runHealthcheck(envOr("SERVER_PORT", "8080"))
	case CommandVerify:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runVerify(ctx, w, os.Stdin, args[1:])
	case CommandWorker, CommandMigrate:
		cfg, err := initDatabaseOnly(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("version", Version),
			slog.String("database_driver", cfg.DatabaseDriver),
		)
		if cmd == CommandMigrate {
			return runMigrate(cfg)
		}
		return runWorker(cfg)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("version", Version),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("webhook", cfg.WebhookEnabled()),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーとTelegramボットを起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバー・コードレジストリの掃除・
// ボットの更新受信を並行して動かす。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	// 1. トレース
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, Version, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. アカウントストア
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. メトリクス
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg)

	// 4. ドメインサービス
	clock := clockwork.NewRealClock()
	registry := codes.NewRegistry(
		codes.WithClock(clock),
		codes.WithTTL(cfg.AuthCodeTTL),
		codes.WithLogger(log),
	)
	metrics.RegisterCodeRegistry(promReg, registry)

	accounts := account.NewService(repo, account.ServiceConfig{
		FreeDailyLimit: cfg.FreePlanDailyLimit,
		Clock:          clock,
	})
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, clock)
	authService := auth.NewService(registry, accounts, tokens, collector)

	// 5. Telegramボット
	botClient := bot.NewClient(&http.Client{Timeout: telegramHTTPTimeout}, log, bot.ClientConfig{
		APIURL:   cfg.TelegramAPIURL,
		Token:    cfg.TelegramBotToken,
		SendRate: cfg.TelegramSendRate,
	})
	dispatcher := bot.NewDispatcher(
		registry, accounts, security.NewProfileSanitizer(), botClient, collector, log,
		bot.DispatcherConfig{
			SiteURL:        cfg.BaseURL,
			CodeTTL:        cfg.AuthCodeTTL,
			FreeDailyLimit: cfg.FreePlanDailyLimit,
		},
	)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitVerify),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:              log,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		HTTPMetrics:         collector.HTTPMiddleware(),
		MetricsHandler:      metrics.Handler(promReg),
		AuthService:         handler.NewAuthServiceAdapter(authService),
		Authenticator:       authService,
		AccountService:      accounts,
		UsageRejectRecorder: collector,
		PendingCodes:        registry,
	}
	if cfg.WebhookEnabled() {
		deps.UpdateHandler = dispatcher
		deps.WebhookSecret = cfg.TelegramWebhookSecret
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down API server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})

	if cfg.WebhookEnabled() {
		g.Go(func() error {
			if err := botClient.SetWebhook(gctx, cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret); err != nil {
				return fmt.Errorf("failed to register telegram webhook: %w", err)
			}
			log.Info("telegram webhook registered")
			return nil
		})
	} else {
		poller := bot.NewLongPoller(botClient, dispatcher, clock, log)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	// メモリストアは別プロセスのworkerから見えないため、ここでリセットする
	if cfg.DatabaseDriver == database.DriverMemory {
		job := usagereset.NewJob(accounts, collector, clock, log, cfg.UsageResetInterval)
		g.Go(func() error {
			job.Start(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 日次利用量リセットジョブを動かし、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.DatabaseDriver == database.DriverMemory {
		return errors.New("worker requires a persistent database; the memory driver resets usage inside serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	accounts := account.NewService(repo, account.ServiceConfig{FreeDailyLimit: cfg.FreePlanDailyLimit})
	job := usagereset.NewJob(accounts, collector, nil, log, cfg.UsageResetInterval)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(promReg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("worker metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	g.Go(func() error {
		log.Info("worker starting", slog.Duration("usage_reset_interval", cfg.UsageResetInterval))
		job.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
