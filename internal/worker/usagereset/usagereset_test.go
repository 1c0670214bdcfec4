package usagereset

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// mockResetter はResetDailyUsageの呼び出しを記録する。
type mockResetter struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (m *mockResetter) ResetDailyUsage(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return m.n, m.err
}

type mockRecorder struct {
	resets []int64
}

func (m *mockRecorder) RecordUsageReset(n int64) { m.resets = append(m.resets, n) }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockResetter{}, nil, nil, newTestLogger(&buf), 0)

	if job == nil {
		t.Fatal("NewJob は nil を返してはならない")
	}
	if job.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", job.interval, DefaultInterval)
	}
}

func TestJob_RunOnce_RecordsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	resetter := &mockResetter{n: 7}
	recorder := &mockRecorder{}
	job := NewJob(resetter, recorder, clockwork.NewFakeClock(), newTestLogger(&buf), 0)

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if len(recorder.resets) != 1 || recorder.resets[0] != 7 {
		t.Errorf("resets = %v, want [7]", recorder.resets)
	}
	if !strings.Contains(buf.String(), `"reset_count":7`) {
		t.Errorf("ログにreset_countが含まれていない: %s", buf.String())
	}
}

func TestJob_RunOnce_Error(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("connection refused")
	recorder := &mockRecorder{}
	job := NewJob(&mockResetter{err: boom}, recorder, clockwork.NewFakeClock(), newTestLogger(&buf), 0)

	err := job.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
	if len(recorder.resets) != 0 {
		t.Error("失敗時にリセットが記録された")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestJob_NextRun_AlignsToUTCMidnight(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockResetter{}, nil, nil, newTestLogger(&buf), 24*time.Hour)

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 1, 13, 45, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 23, 0, 0, 0, time.FixedZone("JST", 9*3600)), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := job.NextRun(tt.now); !got.Equal(tt.want) {
			t.Errorf("NextRun(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

// TestJob_Start_RunsAtBoundaryOnly は起動直後には実行せず、境界時刻に達したときだけ実行することを検証する。
func TestJob_Start_RunsAtBoundaryOnly(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	resetter := &mockResetter{}
	job := NewJob(resetter, nil, clock, newTestLogger(&buf), 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	if resetter.calls.Load() != 0 {
		t.Fatal("起動直後にリセットが実行された")
	}

	clock.Advance(59 * time.Minute)
	if resetter.calls.Load() != 0 {
		t.Fatal("境界時刻より前にリセットが実行された")
	}

	clock.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for resetter.calls.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d, want 1", resetter.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
}
