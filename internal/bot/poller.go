package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultPollTimeout はgetUpdatesのロングポーリング待ち時間。
	DefaultPollTimeout = 30 * time.Second
	// pollRetryDelay はgetUpdates失敗後の再試行までの待ち時間。
	pollRetryDelay = 3 * time.Second
)

// UpdateSource は更新を取得するインターフェース。
type UpdateSource interface {
	DeleteWebhook(ctx context.Context) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// UpdateHandler は1件の更新を処理するインターフェース。
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update) error
}

// LongPoller はgetUpdatesで更新を取得し、ハンドラーへ順に渡す。
// Webhookを設定しない環境（ローカル開発など）で使用する。
type LongPoller struct {
	source  UpdateSource
	handler UpdateHandler
	clock   clockwork.Clock
	timeout time.Duration
	logger  *slog.Logger
}

// NewLongPoller はLongPollerを生成する。
func NewLongPoller(source UpdateSource, handler UpdateHandler, clock clockwork.Clock, logger *slog.Logger) *LongPoller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LongPoller{
		source:  source,
		handler: handler,
		clock:   clock,
		timeout: DefaultPollTimeout,
		logger:  logger,
	}
}

// Run はctxがキャンセルされるまで更新を取得し続ける。
// 開始時にWebhookを解除する。トークンが拒否された場合はエラーを返して終了する。
func (p *LongPoller) Run(ctx context.Context) error {
	if err := p.source.DeleteWebhook(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		p.logger.Warn("failed to delete webhook", slog.String("error", err.Error()))
	}

	p.logger.Info("telegram long polling started")
	defer p.logger.Info("telegram long polling stopped")

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			p.logger.Warn("failed to get updates", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-p.clock.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			// 1件の失敗で後続の更新を止めない
			if err := p.handler.HandleUpdate(ctx, u); err != nil {
				p.logger.Warn("update handling failed",
					slog.Int64("update_id", u.UpdateID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
