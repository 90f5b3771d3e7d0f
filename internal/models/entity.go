package models

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNegativeBalance = errors.New("balance must not become negative")

// AmountScale is the number of decimal places the ledger stores for balances
// and amounts.
const AmountScale = 8

type CurrencyBalance struct {
	Type    string          `db:"currency" json:"type"`
	Balance decimal.Decimal `db:"balance" json:"balance"`
}

// Wallet holds one owner's balances, at most one entry per currency.
// Version 0 means the wallet has not been persisted yet.
type Wallet struct {
	OwnerID    uuid.UUID         `db:"owner_id" json:"ownerId"`
	Currencies []CurrencyBalance `json:"currencies"`
	Version    int64             `db:"version" json:"-"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updatedAt"`
}

func NewWallet(ownerID uuid.UUID, now time.Time) *Wallet {
	return &Wallet{
		OwnerID:    ownerID,
		Currencies: []CurrencyBalance{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Balance returns the balance held in currency and whether an entry exists.
func (w *Wallet) Balance(currency string) (decimal.Decimal, bool) {
	for _, c := range w.Currencies {
		if c.Type == currency {
			return c.Balance, true
		}
	}
	return decimal.Zero, false
}

// UpdateBalance adds delta to the currency entry, creating it at zero when
// absent. The wallet is left untouched if the result would be negative.
func (w *Wallet) UpdateBalance(currency string, delta decimal.Decimal) error {
	for i := range w.Currencies {
		if w.Currencies[i].Type != currency {
			continue
		}
		next := w.Currencies[i].Balance.Add(delta)
		if next.IsNegative() {
			return ErrNegativeBalance
		}
		w.Currencies[i].Balance = next
		return nil
	}
	if delta.IsNegative() {
		return ErrNegativeBalance
	}
	w.Currencies = append(w.Currencies, CurrencyBalance{Type: currency, Balance: delta})
	sort.Slice(w.Currencies, func(i, j int) bool { return w.Currencies[i].Type < w.Currencies[j].Type })
	return nil
}

// Clone returns a deep copy so stores never share slices with callers.
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Currencies = make([]CurrencyBalance, len(w.Currencies))
	copy(cp.Currencies, w.Currencies)
	return &cp
}

type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
	TransactionTransfer TransactionType = "transfer"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is an immutable ledger record owned by UserID. Transfers are
// recorded twice, once per participant, each pointing at the other side.
type Transaction struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	UserID             uuid.UUID       `db:"user_id" json:"userId"`
	Type               TransactionType `db:"type" json:"type"`
	Direction          Direction       `db:"direction" json:"direction"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	Currency           string          `db:"currency" json:"currency"`
	CounterpartyUserID *uuid.UUID      `db:"counterparty_user_id" json:"counterpartyUserId,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
}

type UserSummary struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Username string    `db:"username" json:"username,omitempty"`
	Email    string    `db:"email" json:"email,omitempty"`
}

type HistoryEntry struct {
	Transaction
	Counterparty *UserSummary `json:"counterparty,omitempty"`
}

type TransferResult struct {
	Message string  `json:"message"`
	From    *Wallet `json:"from"`
	To      *Wallet `json:"to"`
}
