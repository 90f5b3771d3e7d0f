package repository

import (
	"context"
	"errors"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/google/uuid"
)

var (
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletAlreadyExist = errors.New("wallet already exists")
	// ErrConflict marks a write-write conflict or serialization failure. The
	// whole scope has been discarded and may be retried with the same inputs.
	ErrConflict = errors.New("concurrent update conflict")
)

//go:generate mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Scope is a unit of work over wallets and the transaction log. Nothing
// written through a scope is visible to others until Commit succeeds.
type Scope interface {
	// GetWallet reads a wallet inside the scope. Pessimistic stores lock it
	// until the scope ends, optimistic ones remember its version.
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// SaveWallet inserts a wallet with Version 0 or updates one whose Version
	// still matches the stored one, then bumps wallet.Version.
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
	Commit(ctx context.Context) error
	// Rollback discards the scope. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

type Store interface {
	Begin(ctx context.Context) (Scope, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// ListTransactions returns the user's records newest first. limit <= 0
	// returns all of them.
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
}

type UserDirectory interface {
	LookupUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.UserSummary, error)
}
