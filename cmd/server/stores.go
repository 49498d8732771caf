package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"supporterhub/internal/classifier"
	"supporterhub/internal/identity"
	"supporterhub/internal/ingestion"
	"supporterhub/internal/merge"
	"supporterhub/internal/platform/config"
	"supporterhub/internal/storage/memory"
	"supporterhub/internal/storage/postgres"
	"supporterhub/internal/tagsync"
	audit "supporterhub/pkg/platform/audit"
)

// store is everything the services need from one backend.
type store interface {
	identity.Store
	ingestion.Store
	merge.Store
	classifier.Store
	tagsync.Store
	audit.Store
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// openStore picks Postgres when a database URL is configured and the
// in-memory store otherwise. ping is nil for the memory store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (s store, ping func(context.Context) error, closeFn func(), err error) {
	if cfg.URL == "" {
		logger.WarnContext(ctx, "no database configured, using in-memory store")
		return memory.New(), nil, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	pg := postgres.New(db)
	if cfg.ApplySchema {
		if err := pg.ApplySchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		logger.InfoContext(ctx, "database schema applied")
	}
	return pg, pg.Ping, func() { _ = db.Close() }, nil
}
