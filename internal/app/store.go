package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neurocode/neurocode/internal/config"
	"github.com/neurocode/neurocode/internal/database"
	"github.com/neurocode/neurocode/internal/repository"
)

// storePingTimeout は起動時のデータベース疎通確認に許す最大時間。
const storePingTimeout = 10 * time.Second

// openStore はDATABASE_DRIVERに応じたアカウントリポジトリを開く。
// 返すclose関数は接続を閉じる。memoryドライバでは何もしない。
// sqliteは単一プロセスで使う前提のため、開く前にマイグレーションを適用する。
func openStore(ctx context.Context, cfg *config.Config) (repository.AccountRepository, func() error, error) {
	switch cfg.DatabaseDriver {
	case database.DriverMemory:
		slog.Warn("using in-memory account store; accounts are lost on restart")
		return repository.NewMemoryAccountRepo(), func() error { return nil }, nil

	case database.DriverSQLite:
		if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))

	if cfg.DatabaseDriver == database.DriverSQLite {
		return repository.NewSQLiteAccountRepo(db), db.Close, nil
	}
	return repository.NewPostgresAccountRepo(db), db.Close, nil
}
