package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS user_credits (
		user_id TEXT PRIMARY KEY,
		total_credits BIGINT NOT NULL DEFAULT 0 CHECK (total_credits >= 0),
		free_credits BIGINT NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
		subscription_credits BIGINT NOT NULL DEFAULT 0 CHECK (subscription_credits >= 0),
		subscription_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT user_credits_total_check CHECK (total_credits = free_credits + subscription_credits)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_credits_expiring
		ON user_credits (subscription_expires_at) WHERE subscription_credits > 0`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user_credits (user_id),
		amount BIGINT NOT NULL,
		transaction_type TEXT NOT NULL
			CHECK (transaction_type IN ('consume', 'grant_initial', 'grant_subscription', 'expire')),
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user_credits (user_id),
		payment_ref TEXT NOT NULL UNIQUE,
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		status TEXT NOT NULL,
		credits_granted BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user
		ON subscriptions (user_id, created_at)`,
}

// SQLite keeps TIMESTAMP column types so the driver parses them back into time.Time
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS user_credits (
		user_id TEXT PRIMARY KEY,
		total_credits INTEGER NOT NULL DEFAULT 0 CHECK (total_credits >= 0),
		free_credits INTEGER NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
		subscription_credits INTEGER NOT NULL DEFAULT 0 CHECK (subscription_credits >= 0),
		subscription_expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (total_credits = free_credits + subscription_credits)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_credits_expiring
		ON user_credits (subscription_expires_at) WHERE subscription_credits > 0`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user_credits (user_id),
		amount INTEGER NOT NULL,
		transaction_type TEXT NOT NULL
			CHECK (transaction_type IN ('consume', 'grant_initial', 'grant_subscription', 'expire')),
		description TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user_credits (user_id),
		payment_ref TEXT NOT NULL UNIQUE,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		status TEXT NOT NULL,
		credits_granted INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user
		ON subscriptions (user_id, created_at)`,
}

func (d Dialect) schema() []string {
	if d == SQLite {
		return sqliteSchema
	}
	return postgresSchema
}

// Migrate creates the ledger tables and indexes if they do not exist
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for i, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
