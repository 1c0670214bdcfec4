package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neurocode/neurocode/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

func scanPostgresAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var plan string
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Handle, &a.DisplayName, &a.Credential, &plan,
		&a.UsageToday, &a.UsageLimit, &a.UsageTotal, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Plan = model.Plan(plan)
	return a, nil
}

func (r *PostgresAccountRepo) findOne(ctx context.Context, column, value string) (*model.Account, error) {
	a, err := scanPostgresAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`,
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
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return r.findOne(ctx, "id", id)
}

// FindByExternalID は外部IDでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	return r.findOne(ctx, "external_id", externalID)
}

// FindByCredential はAPIキーでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByCredential(ctx context.Context, credential string) (*model.Account, error) {
	return r.findOne(ctx, "credential", credential)
}

// Upsert はINSERT ... ON CONFLICT (external_id) DO UPDATEでアカウントを作成または更新する。
// 既存行の場合、credential・plan・利用量・created_atは変更しない。
func (r *PostgresAccountRepo) Upsert(ctx context.Context, c *model.Account) (*model.Account, error) {
	a, err := scanPostgresAccount(r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (external_id) DO UPDATE SET
			handle = EXCLUDED.handle,
			display_name = EXCLUDED.display_name,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+accountColumns,
		c.ID, c.ExternalID, c.Handle, c.DisplayName, c.Credential, string(c.Plan),
		c.UsageToday, c.UsageLimit, c.UsageTotal, c.CreatedAt, c.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return a, nil
}

// UpdateCredential はAPIキーを更新する。
func (r *PostgresAccountRepo) UpdateCredential(ctx context.Context, id, credential string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET credential = $2, updated_at = $3 WHERE id = $1`,
		id, credential, time.Now().UTC(),
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
// 判定と加算は単一のUPDATE文で行う。
func (r *PostgresAccountRepo) IncrementUsage(ctx context.Context, id string, delta int) (*model.Account, error) {
	a, err := scanPostgresAccount(r.db.QueryRowContext(ctx,
		`UPDATE accounts SET
			usage_today = usage_today + $2,
			usage_total = usage_total + $2,
			updated_at = $3
		 WHERE id = $1 AND usage_today + $2 <= usage_limit
		 RETURNING `+accountColumns,
		id, delta, time.Now().UTC(),
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
func (r *PostgresAccountRepo) ResetDailyUsage(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET usage_today = 0, updated_at = $1 WHERE usage_today <> 0`,
		time.Now().UTC(),
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
func (r *PostgresAccountRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
