package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema mirrors the SQLite layout. seq is an identity column so that listing
// can break occurred_at ties by insertion order.
const schema = `
CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
    trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    account_ref TEXT,
    is_owner BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (trip_id, id)
);

CREATE TABLE IF NOT EXISTS expenses (
    seq BIGINT GENERATED ALWAYS AS IDENTITY,
    id TEXT PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    amount BIGINT NOT NULL CHECK (amount > 0),
    currency CHAR(3) NOT NULL,
    payer_id TEXT NOT NULL,
    occurred_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS expense_shares (
    expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
    position INT NOT NULL,
    participant_id TEXT NOT NULL,
    amount BIGINT NOT NULL CHECK (amount >= 0),
    settled_externally BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (expense_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_expenses_trip_ts ON expenses(trip_id, occurred_at DESC, seq);
CREATE INDEX IF NOT EXISTS idx_expenses_payer ON expenses(trip_id, payer_id);
`

func runMigrations(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
