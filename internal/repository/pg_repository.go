package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	selectWalletSQL    = "SELECT owner_id, version, created_at, updated_at FROM wallets WHERE owner_id = $1"
	selectBalancesSQL  = "SELECT currency, balance FROM wallet_balances WHERE owner_id = $1 ORDER BY currency"
	insertWalletSQL    = "INSERT INTO wallets (owner_id, version, created_at, updated_at) VALUES ($1, 1, $2, $3) ON CONFLICT (owner_id) DO NOTHING"
	updateWalletSQL    = "UPDATE wallets SET version = version + 1, updated_at = $3 WHERE owner_id = $1 AND version = $2"
	upsertBalanceSQL   = "INSERT INTO wallet_balances (owner_id, currency, balance) VALUES ($1, $2, $3) ON CONFLICT (owner_id, currency) DO UPDATE SET balance = EXCLUDED.balance"
	insertTxSQL        = "INSERT INTO transactions (id, user_id, type, direction, amount, currency, counterparty_user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"
	listTransactionSQL = `SELECT id, user_id, type, direction, amount, currency, counterparty_user_id, created_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
)

type WalletPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWalletPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *WalletPGRepository {
	return &WalletPGRepository{
		pool:   pool,
		logger: logger,
	}
}

var (
	_ Store         = (*WalletPGRepository)(nil)
	_ UserDirectory = (*WalletPGRepository)(nil)
)

// Begin opens a read-committed transaction. Wallets read through the scope
// are row-locked with FOR UPDATE, so callers decide the lock order.
func (r *WalletPGRepository) Begin(ctx context.Context) (Scope, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		r.logger.Error("Failed to begin transaction", slog.Any("err", err))
		return nil, translatePgError(err)
	}
	return &pgScope{tx: tx, logger: r.logger}, nil
}

// GetWallet reads the wallet row and its balances from one snapshot.
func (r *WalletPGRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w *models.Wallet
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		w, err = loadWallet(ctx, tx, userID, false)
		return err
	})
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		r.logger.Error("Failed to get wallet",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
	}
	return w, err
}

func (r *WalletPGRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, listTransactionSQL, userID, lim)
	if err != nil {
		r.logger.Error("Failed to list transactions",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	txs, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Transaction])
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return txs, nil
}

func (r *WalletPGRepository) LookupUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.UserSummary, error) {
	out := make(map[uuid.UUID]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := r.pool.Query(ctx, "SELECT id, username, email FROM users WHERE id = ANY($1::uuid[])", keys)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.UserSummary])
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// CreateWallet provisions an empty wallet. Deposits create wallets on their
// own; this is for seeding and tests.
func (r *WalletPGRepository) CreateWallet(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO wallets (owner_id, version, created_at, updated_at) VALUES ($1, 1, now(), now())", userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrWalletAlreadyExist
		}
		r.logger.Error("Failed to create wallet",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}

// CreateUser is used by seeding and tests; user registration itself lives
// outside this service.
func (r *WalletPGRepository) CreateUser(ctx context.Context, user models.UserSummary) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO users (id, username, email) VALUES ($1, $2, $3)", user.ID, user.Username, user.Email)
	return err
}

type pgScope struct {
	tx     pgx.Tx
	logger *slog.Logger
}

func (s *pgScope) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := loadWallet(ctx, s.tx, userID, true)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		s.logger.Error("Failed to select wallet for update",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
	}
	return w, err
}

func (s *pgScope) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if wallet.Version == 0 {
		tag, err = s.tx.Exec(ctx, insertWalletSQL, wallet.OwnerID, wallet.CreatedAt, wallet.UpdatedAt)
	} else {
		tag, err = s.tx.Exec(ctx, updateWalletSQL, wallet.OwnerID, wallet.Version, wallet.UpdatedAt)
	}
	if err != nil {
		s.logger.Error("Failed to save wallet",
			slog.String("user_id", wallet.OwnerID.String()),
			slog.Any("err", err),
		)
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s changed concurrently", ErrConflict, wallet.OwnerID)
	}

	batch := &pgx.Batch{}
	for _, c := range wallet.Currencies {
		batch.Queue(upsertBalanceSQL, wallet.OwnerID, c.Type, c.Balance)
	}
	br := s.tx.SendBatch(ctx, batch)
	for range wallet.Currencies {
		if _, err := br.Exec(); err != nil {
			br.Close()
			s.logger.Error("Failed to update wallet balance",
				slog.String("user_id", wallet.OwnerID.String()),
				slog.Any("err", err),
			)
			return translatePgError(err)
		}
	}
	if err := br.Close(); err != nil {
		return translatePgError(err)
	}

	wallet.Version++
	return nil
}

func (s *pgScope) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.tx.Exec(ctx, insertTxSQL,
		tx.ID, tx.UserID, tx.Type, tx.Direction, tx.Amount, tx.Currency, tx.CounterpartyUserID, tx.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert transaction",
			slog.String("user_id", tx.UserID.String()),
			slog.String("type", string(tx.Type)),
			slog.Any("amount", tx.Amount),
			slog.Any("err", err),
		)
		return translatePgError(err)
	}
	return nil
}

func (s *pgScope) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		s.logger.Error("Failed to commit transaction", slog.Any("err", err))
		return translatePgError(err)
	}
	return nil
}

func (s *pgScope) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Error("Failed to rollback transaction", slog.Any("err", err))
		return err
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadWallet(ctx context.Context, q querier, userID uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	query := selectWalletSQL
	if forUpdate {
		query += " FOR UPDATE"
	}
	var w models.Wallet
	err := q.QueryRow(ctx, query, userID).Scan(&w.OwnerID, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, translatePgError(err)
	}

	rows, err := q.Query(ctx, selectBalancesSQL, userID)
	if err != nil {
		return nil, translatePgError(err)
	}
	w.Currencies, err = pgx.CollectRows(rows, pgx.RowToStructByName[models.CurrencyBalance])
	if err != nil {
		return nil, translatePgError(err)
	}
	return &w, nil
}

// translatePgError folds serialization failures and deadlocks into
// ErrConflict while keeping the driver error in the chain.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}
