// Package usagereset は全アカウントの当日利用量を日次でリセットするジョブを提供する。
// 実行時刻はUTCでintervalの倍数の時刻（24時間ならUTCの0時）に揃える。
// 起動直後には実行しない。再起動のたびに利用量が消えるのを防ぐため。
package usagereset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval はリセット間隔のデフォルト値。
const DefaultInterval = 24 * time.Hour

// Resetter は当日利用量をリセットするインターフェース。account.Serviceが満たす。
type Resetter interface {
	ResetDailyUsage(ctx context.Context) (int64, error)
}

// ResetRecorder はリセットの実行を記録するインターフェース。
type ResetRecorder interface {
	RecordUsageReset(accounts int64)
}

// Job は日次利用量リセットジョブ。
type Job struct {
	resetter Resetter
	recorder ResetRecorder
	clock    clockwork.Clock
	logger   *slog.Logger
	interval time.Duration
}

// NewJob は新しいJobを生成する。intervalが0以下の場合はDefaultInterval、clockがnilの場合は実時間を使用する。
func NewJob(resetter Resetter, recorder ResetRecorder, clock clockwork.Clock, logger *slog.Logger, interval time.Duration) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Job{
		resetter: resetter,
		recorder: recorder,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// RunOnce は利用量を1回リセットする。
// 冪等: 対象がない場合でもエラーにならない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.clock.Now()

	n, err := j.resetter.ResetDailyUsage(ctx)
	if err != nil {
		j.logger.Error("利用量リセットジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("利用量リセットの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordUsageReset(n)
	}
	j.logger.Info("利用量リセットジョブが完了しました",
		slog.Int64("reset_count", n),
		slog.Float64("duration_ms", float64(j.clock.Since(start).Milliseconds())),
	)
	return nil
}

// NextRun はnowより後で最初にintervalの倍数となるUTC時刻を返す。
func (j *Job) NextRun(now time.Time) time.Time {
	return now.UTC().Truncate(j.interval).Add(j.interval)
}

// Start はコンテキストがキャンセルされるまで、境界時刻ごとにRunOnceを実行する。
func (j *Job) Start(ctx context.Context) {
	j.logger.Info("利用量リセットジョブを開始しました",
		slog.Duration("interval", j.interval),
		slog.Time("next_run", j.NextRun(j.clock.Now())),
	)

	for {
		now := j.clock.Now()
		timer := j.clock.NewTimer(j.NextRun(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("利用量リセットジョブを停止しました")
			return
		case <-timer.Chan():
			// 失敗は次の境界時刻に再試行する
			_ = j.RunOnce(ctx)
		}
	}
}
