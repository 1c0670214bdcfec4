// Package account はアカウント管理のドメインロジックを提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/neurocode/neurocode/internal/model"
	"github.com/neurocode/neurocode/internal/repository"
)

const (
	// maxRotateAttempts はAPIキー再生成で旧キーと異なる値を得るまでの最大試行回数。
	maxRotateAttempts = 8
	// upsertTimeout は合流した呼び出しが共有するUpsertの最大時間。
	upsertTimeout = 10 * time.Second
)

// ServiceConfig はアカウントサービスの設定。
type ServiceConfig struct {
	// FreeDailyLimit はfreeプランの1日あたりリクエスト上限。0以下の場合はデフォルト値。
	FreeDailyLimit int
	// Clock は時刻源。nilの場合は実時間を使用する。
	Clock clockwork.Clock
	// CredentialGenerator はAPIキー生成関数。nilの場合はGenerateCredential。
	CredentialGenerator func() (string, error)
}

// Service はアカウント管理のサービス層。
// 外部IDごとのUpsert、APIキーの再発行、利用量の記録を提供する。
type Service struct {
	repo          repository.AccountRepository
	freeLimit     int
	clock         clockwork.Clock
	newCredential func() (string, error)

	// upserts は同一外部IDへのプロセス内の同時Upsertを1回にまとめる。
	upserts singleflight.Group
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AccountRepository, cfg ServiceConfig) *Service {
	s := &Service{
		repo:          repo,
		freeLimit:     cfg.FreeDailyLimit,
		clock:         cfg.Clock,
		newCredential: cfg.CredentialGenerator,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.newCredential == nil {
		s.newCredential = GenerateCredential
	}
	return s
}

// storeError はリポジトリのエラーをmodel.ErrStoreUnavailableでラップする。
// ドメインの番兵エラーはそのまま返す。
func storeError(op string, err error) error {
	if errors.Is(err, model.ErrAccountNotFound) || errors.Is(err, model.ErrLimitExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// FindByExternalID は外部IDでアカウントを取得する。存在しない場合はnilを返す。
func (s *Service) FindByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	a, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeError("failed to find account", err)
	}
	return a, nil
}

// FindByID はアカウントを取得する。存在しない場合はmodel.ErrAccountNotFoundを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("failed to find account", err)
	}
	if a == nil {
		return nil, model.ErrAccountNotFound
	}
	return a, nil
}

// FindByCredential はAPIキーでアカウントを取得する。存在しない場合はnilを返す。
func (s *Service) FindByCredential(ctx context.Context, credential string) (*model.Account, error) {
	a, err := s.repo.FindByCredential(ctx, credential)
	if err != nil {
		return nil, storeError("failed to find account by credential", err)
	}
	return a, nil
}

// Upsert は外部IDに対応するアカウントを作成または取得する。
// 新規作成時は新しいAPIキー、freeプラン、利用量0で作成し、createdにtrueを返す。
// 既存の場合は表示名とハンドルのみを更新して返す。APIキー・プラン・利用量は変更しない。
//
// 同一外部IDの同時呼び出しは1回のUpsertを共有する。共有されるUpsertは最初の呼び出し元の
// キャンセルから切り離し、upsertTimeoutで打ち切る。
func (s *Service) Upsert(ctx context.Context, externalID string, profile model.Profile) (*model.Account, bool, error) {
	var leader bool
	v, err, _ := s.upserts.Do(externalID, func() (any, error) {
		leader = true
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), upsertTimeout)
		defer cancel()
		return s.upsert(uctx, externalID, profile)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(upsertResult)
	// 合流した呼び出しは作成者ではない
	a := *res.account
	return &a, leader && res.created, nil
}

type upsertResult struct {
	account *model.Account
	created bool
}

func (s *Service) upsert(ctx context.Context, externalID string, profile model.Profile) (upsertResult, error) {
	credential, err := s.newCredential()
	if err != nil {
		return upsertResult{}, err
	}

	now := s.clock.Now().UTC()
	candidate := &model.Account{
		ID:          model.AccountIDFor(externalID),
		ExternalID:  externalID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Credential:  credential,
		Plan:        model.PlanFree,
		UsageLimit:  model.PlanFree.DailyLimit(s.freeLimit),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, err := s.repo.Upsert(ctx, candidate)
	if err != nil {
		return upsertResult{}, storeError("failed to upsert account", err)
	}

	created := stored.Credential == candidate.Credential
	if created {
		slog.Info("account created",
			slog.String("account_id", stored.ID),
			slog.String("external_id", externalID),
		)
	}
	return upsertResult{account: stored, created: created}, nil
}

// RotateCredential はAPIキーを再発行し、新しいキーを返す。
// 新しいキーは必ず旧キーと異なる。
func (s *Service) RotateCredential(ctx context.Context, accountID string) (string, error) {
	a, err := s.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}

	var credential string
	for attempt := 0; ; attempt++ {
		if attempt == maxRotateAttempts {
			return "", fmt.Errorf("failed to generate a distinct credential after %d attempts", maxRotateAttempts)
		}
		credential, err = s.newCredential()
		if err != nil {
			return "", err
		}
		if credential != a.Credential {
			break
		}
	}

	if err := s.repo.UpdateCredential(ctx, accountID, credential); err != nil {
		return "", storeError("failed to update credential", err)
	}

	slog.Info("credential rotated", slog.String("account_id", accountID))
	return credential, nil
}

// RecordUsage は利用量をdelta加算する。
// 加算後に上限を超える場合はmodel.ErrLimitExceededを返し、利用量は変更しない。
func (s *Service) RecordUsage(ctx context.Context, accountID string, delta int) (*model.Account, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("usage delta must be positive: %d", delta)
	}
	a, err := s.repo.IncrementUsage(ctx, accountID, delta)
	if err != nil {
		if errors.Is(err, model.ErrLimitExceeded) {
			return a, err
		}
		return nil, storeError("failed to record usage", err)
	}
	return a, nil
}

// ResetDailyUsage は全アカウントの当日利用量を0に戻し、更新件数を返す。
func (s *Service) ResetDailyUsage(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetDailyUsage(ctx)
	if err != nil {
		return 0, storeError("failed to reset daily usage", err)
	}
	return n, nil
}

// Count はアカウント数を返す。
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, storeError("failed to count accounts", err)
	}
	return n, nil
}
