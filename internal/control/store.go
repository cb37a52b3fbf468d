package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainguard/internal/core/config"
	"github.com/vietddude/chainguard/internal/errorlog"
	redisclient "github.com/vietddude/chainguard/internal/infra/redis"
	"github.com/vietddude/chainguard/internal/infra/storage/memory"
	"github.com/vietddude/chainguard/internal/infra/storage/sqldb"
	"github.com/vietddude/chainguard/internal/resilience/retry"
)

// OpenErrorLogger builds the error logger on the configured store. Store
// connections are retried under the network retry policy. The returned
// close func releases the store's connections.
func OpenErrorLogger(ctx context.Context, cfg *config.AppConfig) (*errorlog.Logger, func() error, error) {
	store, closeFn, err := openErrorStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := errorlog.New(store,
		errorlog.WithMaxRecords(cfg.ErrorLog.MaxRecords),
		errorlog.WithMetadata(errorlog.Metadata{
			UserAgent: cfg.ErrorLog.UserAgent,
			URL:       cfg.ErrorLog.AppURL,
		}),
	)
	return logger, closeFn, nil
}

func openErrorStore(ctx context.Context, cfg *config.AppConfig) (errorlog.Store, func() error, error) {
	switch cfg.ErrorLog.Driver {
	case "redis":
		client, err := retry.Do(ctx, cfg.Retry.Policies().Network, func(ctx context.Context) (*redisclient.Client, error) {
			return redisclient.NewClient(ctx, cfg.Redis)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("Using Redis error store", "namespace", cfg.ErrorLog.Namespace)
		return redisclient.NewErrorLogRepo(client, cfg.ErrorLog.Namespace), client.Close, nil

	case "pgx", "postgres", "sqlite":
		db, err := retry.Do(ctx, cfg.Retry.Policies().Network, func(ctx context.Context) (*sqldb.DB, error) {
			return sqldb.NewDB(ctx, sqldb.Config{Driver: cfg.ErrorLog.Driver, URL: cfg.ErrorLog.URL})
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("Using SQL error store", "driver", cfg.ErrorLog.Driver)
		return sqldb.NewErrorLogRepo(db), db.Close, nil

	default:
		slog.Info("Using Memory error store")
		return memory.NewErrorStore(), func() error { return nil }, nil
	}
}
