package bot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeSource はGetUpdatesの応答を順に返す。
type fakeSource struct {
	mu        sync.Mutex
	batches   [][]Update
	errs      []error
	offsets   []int64
	deleted   bool
	deleteErr error
}

func (f *fakeSource) DeleteWebhook(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
	return f.deleteErr
}

func (f *fakeSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) seenOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

// recordingHandler は処理した更新IDを記録する。
type recordingHandler struct {
	mu   sync.Mutex
	ids  []int64
	fail map[int64]bool
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, u Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, u.UpdateID)
	if h.fail[u.UpdateID] {
		return errors.New("handler failed")
	}
	return nil
}

func (h *recordingHandler) handled() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.ids...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("条件が満たされなかった")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestLongPoller_AdvancesOffset は処理した最大の更新ID+1を次のoffsetに使い、
// ハンドラーの失敗で後続の更新が止まらないことを検証する。
func TestLongPoller_AdvancesOffset(t *testing.T) {
	source := &fakeSource{batches: [][]Update{
		{{UpdateID: 10}, {UpdateID: 11}},
		{{UpdateID: 12}},
	}}
	handler := &recordingHandler{fail: map[int64]bool{10: true}}
	var buf bytes.Buffer
	p := NewLongPoller(source, handler, clockwork.NewFakeClock(), newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitUntil(t, func() bool { return len(source.seenOffsets()) >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if !source.deleted {
		t.Error("DeleteWebhook が呼ばれていない")
	}
	offsets := source.seenOffsets()
	want := []int64{0, 12, 13}
	for i, w := range want {
		if offsets[i] != w {
			t.Errorf("offsets[%d] = %d, want %d", i, offsets[i], w)
		}
	}
	if got := handler.handled(); len(got) != 3 {
		t.Errorf("処理された更新 = %v, want [10 11 12]", got)
	}
}

// TestLongPoller_RetriesAfterError は取得失敗後に待機してから再試行することを検証する。
func TestLongPoller_RetriesAfterError(t *testing.T) {
	source := &fakeSource{
		errs:    []error{errors.New("temporary")},
		batches: [][]Update{{{UpdateID: 1}}},
	}
	handler := &recordingHandler{}
	clock := clockwork.NewFakeClock()
	var buf bytes.Buffer
	p := NewLongPoller(source, handler, clock, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	if len(handler.handled()) != 0 {
		t.Fatal("待機中に更新が処理された")
	}
	clock.Advance(pollRetryDelay)

	waitUntil(t, func() bool { return len(handler.handled()) == 1 })
	cancel()
	<-done
}

func TestLongPoller_StopsOnUnauthorized(t *testing.T) {
	source := &fakeSource{errs: []error{ErrUnauthorized}}
	var buf bytes.Buffer
	p := NewLongPoller(source, &recordingHandler{}, clockwork.NewFakeClock(), newTestLogger(&buf))

	if err := p.Run(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestLongPoller_DeleteWebhookUnauthorized(t *testing.T) {
	source := &fakeSource{deleteErr: ErrUnauthorized}
	var buf bytes.Buffer
	p := NewLongPoller(source, &recordingHandler{}, clockwork.NewFakeClock(), newTestLogger(&buf))

	if err := p.Run(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if len(source.seenOffsets()) != 0 {
		t.Error("トークン拒否後にGetUpdatesが呼ばれた")
	}
}

// TestLongPoller_LogsLifecycleOnce は開始と停止のログがそれぞれ1回だけ出力されることを検証する。
func TestLongPoller_LogsLifecycleOnce(t *testing.T) {
	var logs bytes.Buffer
	p := NewLongPoller(&fakeSource{}, &recordingHandler{}, clockwork.NewFakeClock(), newTestLogger(&logs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}

	if n := strings.Count(logs.String(), "telegram long polling started"); n != 1 {
		t.Errorf("start log count = %d, want 1\nlogs: %s", n, logs.String())
	}
	if n := strings.Count(logs.String(), "telegram long polling stopped"); n != 1 {
		t.Errorf("stop log count = %d, want 1\nlogs: %s", n, logs.String())
	}
}
