// Package codes は使い捨て認証コードのレジストリを提供する。
//
// コードはボットが発行し、Webサイトからの検証で1回だけ消費される。
// 発行から有効期限（デフォルト10分）を過ぎたコードは、単一のスイーパー
// goroutineが期限ヒープに従って取り除く。
package codes

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/neurocode/neurocode/internal/model"
)

// DefaultTTL は認証コードのデフォルト有効期間。
const DefaultTTL = 10 * time.Minute

// maxIssueAttempts は衝突時にコードを再生成する最大回数。
const maxIssueAttempts = 16

var (
	// ErrNotFound はコードが存在しない（未発行・使用済み・期限切れ）ことを示す。
	ErrNotFound = errors.New("code not found")
	// ErrExpired は有効期限を過ぎたコードが提出されたことを示す。errors.Is(err, ErrNotFound)も真になる。
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)
	// ErrCodeSpaceExhausted は再試行しても未使用のコードを生成できなかったことを示す。
	ErrCodeSpaceExhausted = errors.New("could not generate a unique code")
)

// Stats はレジストリの累積カウンタ。
type Stats struct {
	Issued   uint64
	Consumed uint64
	Expired  uint64
	Misses   uint64
}

type entry struct {
	pending model.PendingAuth
	gen     uint64
}

// Registry はメモリ上で保留中の認証コードを管理する。
// すべての操作は単一のミューテックスで直列化される。
type Registry struct {
	clock    clockwork.Clock
	ttl      time.Duration
	generate Generator
	logger   *slog.Logger

	mu        sync.Mutex
	entries   map[string]entry
	deadlines deadlineHeap
	nextGen   uint64
	stats     Stats

	// wake はスイーパーに最早期限の変化を通知する。
	wake chan struct{}
}

// Option はRegistryの設定を変更する。
type Option func(*Registry)

// WithClock は時刻源を差し替える。テストではclockwork.NewFakeClockを渡す。
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithTTL はコードの有効期間を設定する。
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithGenerator はコード生成関数を差し替える。
func WithGenerator(g Generator) Option {
	return func(r *Registry) { r.generate = g }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:    clockwork.NewRealClock(),
		ttl:      DefaultTTL,
		generate: RandomCode,
		logger:   slog.Default(),
		entries:  make(map[string]entry),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL はコードの有効期間を返す。
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Issue は外部IDとプロフィールに紐づく新しいコードを発行する。
// 生成したコードが有効なコードと衝突した場合は再生成する。
func (r *Registry) Issue(externalID string, profile model.Profile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return "", err
		}
		if e, ok := r.entries[code]; ok && now.Before(e.pending.ExpiresAt) {
			continue
		}

		r.nextGen++
		p := model.PendingAuth{
			Code:       code,
			ExternalID: externalID,
			Profile:    profile,
			IssuedAt:   now,
			ExpiresAt:  now.Add(r.ttl),
		}
		r.entries[code] = entry{pending: p, gen: r.nextGen}
		heap.Push(&r.deadlines, deadline{code: code, gen: r.nextGen, at: p.ExpiresAt})
		r.stats.Issued++

		if r.deadlines[0].gen == r.nextGen {
			r.notify()
		}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// ResolveAndConsume はコードを検索し、存在すれば同時に削除して返す。
// 検索と削除はアトミックに行われるため、同じコードを2回以上消費することはできない。
// 形式が不正な場合はmodel.ErrInvalidCodeFormat、存在しない場合はErrNotFound、
// スイーパーより先に期限切れのコードが提出された場合はErrExpiredを返す。
func (r *Registry) ResolveAndConsume(code string) (*model.PendingAuth, error) {
	normalized, err := Normalize(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[normalized]
	if !ok {
		r.stats.Misses++
		return nil, ErrNotFound
	}
	delete(r.entries, normalized)

	if !r.clock.Now().Before(e.pending.ExpiresAt) {
		r.stats.Expired++
		return nil, ErrExpired
	}

	r.stats.Consumed++
	p := e.pending
	return &p, nil
}

// Len は有効期限内のコード数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked(r.clock.Now())
	return len(r.entries)
}

// Stats は累積カウンタのスナップショットを返す。
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run は期限切れコードを取り除くスイーパーを実行する。
// ctxがキャンセルされるまでブロックする。タイマーは終了時に停止される。
func (r *Registry) Run(ctx context.Context) {
	r.logger.Info("code registry sweeper started", slog.Duration("ttl", r.ttl))
	defer r.logger.Info("code registry sweeper stopped")

	for {
		r.mu.Lock()
		now := r.clock.Now()
		if n := r.evictExpiredLocked(now); n > 0 {
			r.logger.Debug("expired codes evicted", slog.Int("count", n))
		}
		var wait time.Duration
		hasNext := len(r.deadlines) > 0
		if hasNext {
			wait = r.deadlines[0].at.Sub(now)
		}
		r.mu.Unlock()

		if !hasNext {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}

		timer := r.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.wake:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

// evictExpiredLocked は期限に達したヒープ要素を取り出し、
// 同じ発行世代のエントリが残っていれば削除する。削除件数を返す。
// 消費済みや再発行済みのコードに対する取り出しは何もしない。
func (r *Registry) evictExpiredLocked(now time.Time) int {
	evicted := 0
	for len(r.deadlines) > 0 && !r.deadlines[0].at.After(now) {
		d := heap.Pop(&r.deadlines).(deadline)
		e, ok := r.entries[d.code]
		if !ok || e.gen != d.gen {
			continue
		}
		delete(r.entries, d.code)
		r.stats.Expired++
		evicted++
	}
	return evicted
}

func (r *Registry) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
