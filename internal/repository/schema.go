package repository

import (
	"context"
	"fmt"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS wallets (
	owner_id UUID PRIMARY KEY,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS wallet_balances (
	owner_id UUID NOT NULL REFERENCES wallets(owner_id),
	currency VARCHAR(10) NOT NULL,
	balance NUMERIC(30, %[1]d) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	PRIMARY KEY (owner_id, currency)
);
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES wallets(owner_id),
	type VARCHAR(10) NOT NULL CHECK (type IN ('deposit', 'withdraw', 'transfer')),
	direction VARCHAR(6) NOT NULL CHECK (direction IN ('credit', 'debit')),
	amount NUMERIC(30, %[1]d) NOT NULL CHECK (amount > 0),
	currency VARCHAR(10) NOT NULL,
	counterparty_user_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);
`, models.AmountScale)

// Migrate creates the ledger tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
