package repository

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/neurocode/neurocode/internal/model"
)

// MemoryAccountRepo はプロセス内メモリに保持するアカウントリポジトリ。
// 開発環境とテスト用。再起動でデータは失われる。
type MemoryAccountRepo struct {
	mu           sync.Mutex
	byID         map[string]*model.Account
	byExternalID map[string]string
	byCredential map[string]string
	clock        clockwork.Clock
}

// MemoryOption はMemoryAccountRepoの設定を変更する。
type MemoryOption func(*MemoryAccountRepo)

// WithMemoryClock はupdated_atの記録に使う時刻源を設定する。
func WithMemoryClock(c clockwork.Clock) MemoryOption {
	return func(r *MemoryAccountRepo) { r.clock = c }
}

// NewMemoryAccountRepo はMemoryAccountRepoを生成する。時刻源のデフォルトは実時間。
func NewMemoryAccountRepo(opts ...MemoryOption) *MemoryAccountRepo {
	r := &MemoryAccountRepo{
		byID:         make(map[string]*model.Account),
		byExternalID: make(map[string]string),
		byCredential: make(map[string]string),
		clock:        clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func clone(a *model.Account) *model.Account {
	c := *a
	return &c
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		return clone(a), nil
	}
	return nil, nil
}

// FindByExternalID は外部IDでアカウントを検索する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByExternalID(_ context.Context, externalID string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExternalID[externalID]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, nil
}

// FindByCredential はAPIキーでアカウントを検索する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByCredential(_ context.Context, credential string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCredential[credential]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, nil
}

// Upsert はアカウントを作成する。既に存在する場合は表示情報のみ更新する。
func (r *MemoryAccountRepo) Upsert(_ context.Context, c *model.Account) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byExternalID[c.ExternalID]; ok {
		a := r.byID[id]
		a.Handle = c.Handle
		a.DisplayName = c.DisplayName
		a.UpdatedAt = c.UpdatedAt
		return clone(a), nil
	}

	a := clone(c)
	r.byID[a.ID] = a
	r.byExternalID[a.ExternalID] = a.ID
	r.byCredential[a.Credential] = a.ID
	return clone(a), nil
}

// UpdateCredential はAPIキーを更新する。
func (r *MemoryAccountRepo) UpdateCredential(_ context.Context, id, credential string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return model.ErrAccountNotFound
	}
	delete(r.byCredential, a.Credential)
	a.Credential = credential
	a.UpdatedAt = r.clock.Now().UTC()
	r.byCredential[credential] = id
	return nil
}

// IncrementUsage は上限を超えない場合のみ利用量を加算する。
func (r *MemoryAccountRepo) IncrementUsage(_ context.Context, id string, delta int) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	if a.UsageToday+delta > a.UsageLimit {
		return clone(a), model.ErrLimitExceeded
	}
	a.UsageToday += delta
	a.UsageTotal += int64(delta)
	a.UpdatedAt = r.clock.Now().UTC()
	return clone(a), nil
}

// ResetDailyUsage は全アカウントのusage_todayを0に戻す。
func (r *MemoryAccountRepo) ResetDailyUsage(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, a := range r.byID {
		if a.UsageToday != 0 {
			a.UsageToday = 0
			n++
		}
	}
	return n, nil
}

// Count はアカウント数を返す。
func (r *MemoryAccountRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

// compile-time interface check
var _ AccountRepository = (*MemoryAccountRepo)(nil)
