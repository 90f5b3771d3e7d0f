package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/repository"
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrAmountPrecision  = fmt.Errorf("%w with at most %d decimal places", ErrInvalidAmount, models.AmountScale)
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrInvalidOperation = errors.New("cannot transfer to the same wallet")

	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrSenderWalletNotFound    = fmt.Errorf("sender %w", repository.ErrWalletNotFound)
	ErrRecipientWalletNotFound = fmt.Errorf("recipient %w", repository.ErrWalletNotFound)

	// ErrConflict is returned once the retry budget for conflicting scopes
	// is spent. Nothing was written.
	ErrConflict     = errors.New("operation aborted after repeated concurrent update conflicts")
	ErrScopeTimeout = errors.New("ledger operation timed out")
)

type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindBusiness
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "system"
	}
}

// KindOf classifies an error returned by the services.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrInvalidOperation):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, repository.ErrWalletNotFound):
		return KindBusiness
	case errors.Is(err, ErrScopeTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, ErrConflict),
		errors.Is(err, repository.ErrConflict):
		return KindConflict
	default:
		return KindSystem
	}
}
