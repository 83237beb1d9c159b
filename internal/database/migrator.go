package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/multi-agent/session-bridge/pkg/errors"
	"github.com/multi-agent/session-bridge/pkg/logger"
)

// migration 一条内嵌迁移。version 唯一且按序执行。
type migration struct {
	version string
	sql     string
}

// 迁移清单: 只追加, 不修改已发布条目。
var migrations = []migration{
	{
		version: "0001_transcript_events",
		sql: `
			CREATE TABLE IF NOT EXISTS transcript_events (
				id         BIGSERIAL PRIMARY KEY,
				thread_id  TEXT NOT NULL DEFAULT '',
				turn_id    TEXT NOT NULL DEFAULT '',
				item_id    TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				status     TEXT NOT NULL DEFAULT '',
				payload    JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_transcript_events_thread
				ON transcript_events (thread_id, id DESC);
		`,
	},
	{
		version: "0002_tool_calls",
		sql: `
			CREATE TABLE IF NOT EXISTS tool_calls (
				call_id      TEXT PRIMARY KEY,
				thread_id    TEXT NOT NULL DEFAULT '',
				turn_id      TEXT NOT NULL DEFAULT '',
				name         TEXT NOT NULL DEFAULT '',
				input        JSONB,
				output       JSONB,
				is_error     BOOLEAN NOT NULL DEFAULT FALSE,
				started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_tool_calls_thread
				ON tool_calls (thread_id, started_at DESC);
		`,
	},
}

// Migrate 按序执行未应用的内嵌迁移, 以 schema_version 表追踪进度。
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return apperrors.Wrap(err, "Migrate", "create schema_version table")
	}

	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyOneMigration(ctx, pool, m); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.version)
	}
	return nil
}

func loadAppliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		applied[version] = true
	}
	return applied, nil
}

func applyOneMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", m.version)
	}
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", m.version)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "record migration %s", m.version)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrapf(err, "Migrate", "commit migration %s", m.version)
	}
	return nil
}
