package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionCommitted is emitted once per committed ledger record.
type TransactionCommitted struct {
	TransactionID      uuid.UUID       `json:"transaction_id"`
	UserID             uuid.UUID       `json:"user_id"`
	Type               string          `json:"type"`
	Direction          string          `json:"direction"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	CounterpartyUserID *uuid.UUID      `json:"counterparty_user_id,omitempty"`
	OccurredAt         time.Time       `json:"occurred_at"`
}
