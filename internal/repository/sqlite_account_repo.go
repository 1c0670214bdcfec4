package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neurocode/neurocode/internal/model"
)

// SQLiteAccountRepo はSQLite（modernc.org/sqlite）を使用したアカウントリポジトリ。
// 単一プロセスでの運用や開発環境を想定している。
// 日時はUNIX秒の整数として保存する。
type SQLiteAccountRepo struct {
	db *sql.DB
}

// NewSQLiteAccountRepo はSQLiteAccountRepoを生成する。
func NewSQLiteAccountRepo(db *sql.DB) *SQLiteAccountRepo {
	return &SQLiteAccountRepo{db: db}
}

func scanSQLiteAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var plan string
	var createdAt, updatedAt int64
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Handle, &a.DisplayName, &a.Credential, &plan,
		&a.UsageToday, &a.UsageLimit, &a.UsageTotal, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Plan = model.Plan(plan)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return a, nil
}

func (r *SQLiteAccountRepo) findOne(ctx context.Context, column, value string) (*model.Account, error) {
	a, err := scanSQLiteAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`,
		value,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by %s: %w", column, err)
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *SQLiteAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return r.findOne(ctx, "id", id)
}

// FindByExternalID は外部IDでアカウントを検索する。見つからない場合はnilを返す。
func (r *SQLiteAccountRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	return r.findOne(ctx, "external_id", externalID)
}

// FindByCredential はAPIキーでアカウントを検索する。見つからない場合はnilを返す。
func (r *SQLiteAccountRepo) FindByCredential(ctx context.Context, credential string) (*model.Account, error) {
	return r.findOne(ctx, "credential", credential)
}

// Upsert はINSERT ... ON CONFLICT (external_id) DO UPDATEでアカウントを作成または更新する。
func (r *SQLiteAccountRepo) Upsert(ctx context.Context, c *model.Account) (*model.Account, error) {
	a, err := scanSQLiteAccount(r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
			handle = excluded.handle,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
		 RETURNING `+accountColumns,
		c.ID, c.ExternalID, c.Handle, c.DisplayName, c.Credential, string(c.Plan),
		c.UsageToday, c.UsageLimit, c.UsageTotal, c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return a, nil
}

// UpdateCredential はAPIキーを更新する。
func (r *SQLiteAccountRepo) UpdateCredential(ctx context.Context, id, credential string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET credential = ?, updated_at = ? WHERE id = ?`,
		credential, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

// IncrementUsage は上限を超えない場合のみ利用量を加算する。
func (r *SQLiteAccountRepo) IncrementUsage(ctx context.Context, id string, delta int) (*model.Account, error) {
	a, err := scanSQLiteAccount(r.db.QueryRowContext(ctx,
		`UPDATE accounts SET
			usage_today = usage_today + ?1,
			usage_total = usage_total + ?1,
			updated_at = ?2
		 WHERE id = ?3 AND usage_today + ?1 <= usage_limit
		 RETURNING `+accountColumns,
		delta, time.Now().Unix(), id,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.ErrAccountNotFound
	}
	return existing, model.ErrLimitExceeded
}

// ResetDailyUsage は全アカウントのusage_todayを0に戻す。
func (r *SQLiteAccountRepo) ResetDailyUsage(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET usage_today = 0, updated_at = ? WHERE usage_today <> 0`,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Count はアカウント数を返す。
func (r *SQLiteAccountRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AccountRepository = (*SQLiteAccountRepo)(nil)
