package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the hookrelay store.
// It can be registered with an external grove orchestrator for locking,
// version tracking and rollback support.
var Migrations = migrate.NewGroup("hookrelay")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hookrelay_events",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_events (
    id          TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    payload     JSON NOT NULL,
    status      TEXT NOT NULL DEFAULT 'PENDING',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_events_type ON hookrelay_events (event_type);
CREATE INDEX IF NOT EXISTS idx_hookrelay_events_created ON hookrelay_events (created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_subscriptions",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_subscriptions (
    id          TEXT PRIMARY KEY,
    client_name TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    target_url  TEXT NOT NULL,
    secret      TEXT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_subscriptions_active ON hookrelay_subscriptions (event_type) WHERE is_active;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_jobs",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_jobs (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL,
    subscription_id TEXT NOT NULL,
    is_retry        BOOLEAN NOT NULL DEFAULT FALSE,
    attempt         INT NOT NULL DEFAULT 1,
    next_run_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    state           TEXT NOT NULL DEFAULT 'pending',
    claimed_at      TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_jobs_due ON hookrelay_jobs (next_run_at) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_hookrelay_jobs_claimed ON hookrelay_jobs (claimed_at) WHERE state = 'claimed';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_jobs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_records",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_records (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL,
    subscription_id TEXT NOT NULL,
    status          TEXT NOT NULL,
    response_code   INT,
    response_body   TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    attempts        INT NOT NULL DEFAULT 1,
    terminal        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_records_event ON hookrelay_records (event_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_records_subscription ON hookrelay_records (subscription_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_records_created ON hookrelay_records (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_hookrelay_records_dead ON hookrelay_records (created_at DESC) WHERE status = 'FAILED' AND terminal;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_records`)
				return err
			},
		},
	)
}
