package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FundsRequest struct {
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
}

type TransferRequest struct {
	ToUserID uuid.UUID       `json:"toUserId" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
}
