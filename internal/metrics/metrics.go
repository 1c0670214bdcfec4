// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurocode/neurocode/internal/codes"
)

const namespace = "neurocode"

// Collector はPrometheusメトリクスを収集する実装。
// auth.VerifyRecorder、bot.CommandRecorder、middleware.UsageRejectRecorder、
// usagereset.ResetRecorderを満たす。
type Collector struct {
	codesIssued   prometheus.Counter
	verifySuccess *prometheus.CounterVec
	verifyFail    *prometheus.CounterVec
	usageRejected *prometheus.CounterVec
	usageResets   prometheus.Counter
	botCommands   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_codes_issued_total",
			Help:      "ボットが発行した認証コードの合計数",
		}),
		verifySuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verify_success_total",
			Help:      "コード検証成功の合計数（created: 新規アカウントかどうか）",
		}, []string{"created"}),
		verifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verify_failure_total",
			Help:      "コード検証失敗の理由別の合計数",
		}, []string{"reason"}),
		usageRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_rejected_total",
			Help:      "日次上限により拒否されたリクエストのプラン別の合計数",
		}, []string{"plan"}),
		usageResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_resets_total",
			Help:      "日次利用量リセットの実行回数",
		}),
		botCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "ボットコマンドの処理結果別の合計数",
		}, []string{"command", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTPリクエストのルート・ステータスコード別の合計数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTPリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.codesIssued,
		c.verifySuccess,
		c.verifyFail,
		c.usageRejected,
		c.usageResets,
		c.botCommands,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordCodeIssued は認証コードの発行を記録する。
func (c *Collector) RecordCodeIssued() {
	c.codesIssued.Inc()
}

// RecordVerifySuccess はコード検証成功を記録する。
func (c *Collector) RecordVerifySuccess(created bool) {
	c.verifySuccess.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// RecordVerifyFailure はコード検証失敗を理由別に記録する。
func (c *Collector) RecordVerifyFailure(reason string) {
	c.verifyFail.WithLabelValues(reason).Inc()
}

// RecordUsageRejected は上限超過による拒否を記録する。
func (c *Collector) RecordUsageRejected(plan string) {
	c.usageRejected.WithLabelValues(plan).Inc()
}

// RecordUsageReset は日次利用量リセットの実行を記録する。
func (c *Collector) RecordUsageReset(accounts int64) {
	c.usageResets.Inc()
}

// RecordBotCommand はボットコマンドの処理結果を記録する。
// 未知のコマンドはラベルの爆発を防ぐためotherにまとめる。
func (c *Collector) RecordBotCommand(command, outcome string) {
	switch command {
	case "/start", "/auth", "/login", "/profile", "/rotate", "/help", "auth", "refresh_key", "help":
	default:
		command = "other"
	}
	c.botCommands.WithLabelValues(command, outcome).Inc()
}

// RecordHTTPRequest はHTTPリクエストを記録する。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// CodeRegistry はレジストリの状態を公開するインターフェース。codes.Registryが満たす。
type CodeRegistry interface {
	Len() int
	Stats() codes.Stats
}

// RegisterCodeRegistry は保留中コード数と累積カウンタをスクレイプ時に読み出すメトリクスを登録する。
func RegisterCodeRegistry(reg prometheus.Registerer, registry CodeRegistry) {
	counter := func(name, help string, read func(codes.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "code_registry",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(registry.Stats())) })
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "code_registry",
			Name:      "pending_codes",
			Help:      "有効期限内の未使用コード数",
		}, func() float64 { return float64(registry.Len()) }),
		counter("issued_total", "レジストリに登録されたコードの合計数", func(s codes.Stats) uint64 { return s.Issued }),
		counter("consumed_total", "検証で消費されたコードの合計数", func(s codes.Stats) uint64 { return s.Consumed }),
		counter("expired_total", "期限切れで失効したコードの合計数", func(s codes.Stats) uint64 { return s.Expired }),
		counter("misses_total", "存在しないコードの検索回数", func(s codes.Stats) uint64 { return s.Misses }),
	)
}

// statusWriter はステータスコードを記録するResponseWriter。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// HTTPMiddleware はリクエスト数と処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターンを使い、未マッチのパスはunmatchedとする。
func (c *Collector) HTTPMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスなどAPIルーターを持たないプロセスで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
