package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the tables the Postgres store expects. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	balance         NUMERIC(20, 4) NOT NULL,
	reserved_amount NUMERIC(20, 4) NOT NULL DEFAULT 0,
	tier            TEXT NOT NULL,
	risk_score      INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 10),
	version         INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	from_account_id    TEXT NOT NULL REFERENCES accounts (id),
	to_account_id      TEXT NOT NULL REFERENCES accounts (id),
	amount             NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
	urgency            TEXT NOT NULL,
	status             TEXT NOT NULL,
	base_priority      DOUBLE PRECISION NOT NULL,
	effective_priority DOUBLE PRECISION,
	unlock_at          TIMESTAMPTZ,
	failure_reason     TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	reserved_at        TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status, base_priority DESC, created_at);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	transaction_id TEXT NOT NULL REFERENCES transactions (id),
	account_id     TEXT NOT NULL REFERENCES accounts (id),
	entry_type     TEXT NOT NULL,
	amount         NUMERIC(20, 4) NOT NULL,
	balance_after  NUMERIC(20, 4) NOT NULL,
	reserved_after NUMERIC(20, 4) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries (transaction_id);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
