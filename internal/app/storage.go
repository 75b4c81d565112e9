package app

import (
	"context"
	"log/slog"

	"github.com/kristoforerickson/mkr1000/internal/config"
	"github.com/kristoforerickson/mkr1000/internal/db"
	"github.com/kristoforerickson/mkr1000/internal/db/migrate"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/repository"
)

type storage struct {
	repo  repository.MeasurementRepository
	close func()
}

// openStorage never fails: an unreachable store is replaced by one that
// reports ErrStorageUnavailable, so sampling and the realtime feed keep going.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) storage {
	st, err := connectStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage unavailable (continuing without persistence)", "driver", cfg.Driver, "error", err)
		return storage{repo: repository.NewUnavailable(err), close: func() {}}
	}
	logger.Info("database connection successful", "driver", cfg.Driver)
	return st
}

func connectStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	if cfg.Driver == "pgx" {
		pool, err := db.OpenPostgres(ctx, cfg)
		if err != nil {
			return storage{}, err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return storage{}, err
		}
		return storage{repo: repository.NewPostgresRepository(pool), close: pool.Close}, nil
	}

	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return storage{}, err
	}
	if err := migrate.Run(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return storage{}, err
	}
	return storage{
		repo: repository.NewRepository(conn),
		close: func() {
			if err := conn.Close(); err != nil {
				logger.Error("db close", "error", err)
			}
		},
	}, nil
}
