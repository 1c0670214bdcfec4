// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/neurocode/neurocode/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
// PostgreSQL、SQLite、メモリの3実装を持つ。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByExternalID は外部ID（TelegramユーザーID）でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Account, error)

	// FindByCredential はAPIキーでアカウントを検索する。見つからない場合はnilを返す。
	FindByCredential(ctx context.Context, credential string) (*model.Account, error)

	// Upsert はcandidateを作成する。external_idが既に存在する場合は
	// handle、display_name、updated_atのみを更新し、既存の行を返す。
	// 単一のステートメントで実行されるため、同一external_idに対して線形化可能。
	Upsert(ctx context.Context, candidate *model.Account) (*model.Account, error)

	// UpdateCredential はAPIキーを更新する。
	// アカウントが存在しない場合はmodel.ErrAccountNotFoundを返す。
	UpdateCredential(ctx context.Context, id, credential string) error

	// IncrementUsage はusage_today + delta <= usage_limit の場合のみ
	// usage_todayとusage_totalを加算し、更新後のアカウントを返す。
	// 上限を超える場合はmodel.ErrLimitExceeded、
	// アカウントが存在しない場合はmodel.ErrAccountNotFoundを返す。
	IncrementUsage(ctx context.Context, id string, delta int) (*model.Account, error)

	// ResetDailyUsage は全アカウントのusage_todayを0に戻し、更新件数を返す。
	ResetDailyUsage(ctx context.Context) (int64, error)

	// Count はアカウント数を返す。
	Count(ctx context.Context) (int, error)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// accountColumns はSELECT/RETURNINGで使用する列の並び。
const accountColumns = `id, external_id, handle, display_name, credential, plan,
	usage_today, usage_limit, usage_total, created_at, updated_at`
