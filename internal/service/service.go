package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/models/events"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_service_deps.go -package=mocks WalletCache,EventPublisher

var currencyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{2,9}$`)

// WalletCache holds committed wallets for the balance read path. Get returns
// nil, nil on a miss.
type WalletCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Set(ctx context.Context, wallet *models.Wallet) error
	Invalidate(ctx context.Context, userIDs ...uuid.UUID) error
}

type EventPublisher interface {
	Publish(ctx context.Context, evts ...events.TransactionCommitted) error
}

type Option func(*WalletService)

// WithMaxRetries sets how many times a scope is attempted before a conflict
// is reported.
func WithMaxRetries(n int) Option {
	return func(s *WalletService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithScopeTimeout(d time.Duration) Option {
	return func(s *WalletService) {
		if d > 0 {
			s.scopeTimeout = d
		}
	}
}

func WithCache(c WalletCache) Option {
	return func(s *WalletService) { s.cache = c }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *WalletService) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *WalletService) { s.now = now }
}

// WithPublishTimeout bounds how long a committed operation waits for its
// events to be accepted by the publisher.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *WalletService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithBackOff replaces the delay policy between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *WalletService) { s.newBackOff = newBackOff }
}

type WalletService struct {
	store          repository.Store
	logger         *slog.Logger
	maxRetries     int
	scopeTimeout   time.Duration
	publishTimeout time.Duration
	cache          WalletCache
	publisher      EventPublisher
	now            func() time.Time
	newBackOff     func() backoff.BackOff
}

func NewWalletService(store repository.Store, logger *slog.Logger, opts ...Option) *WalletService {
	s := &WalletService{
		store:          store,
		logger:         logger,
		maxRetries:     3,
		scopeTimeout:   5 * time.Second,
		publishTimeout: 2 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit credits amount to the user's wallet, creating the wallet on the
// first deposit. created reports whether that happened.
func (s *WalletService) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Wallet, bool, error) {
	currency, err := validateFunds(currency, amount)
	if err != nil {
		s.logger.Warn("Deposit rejected",
			slog.String("user_id", userID.String()),
			slog.String("currency", currency),
			slog.Any("amount", amount),
			slog.Any("err", err),
		)
		return nil, false, err
	}

	var (
		wallet  *models.Wallet
		created bool
		record  models.Transaction
	)
	err = s.runScope(ctx, "deposit", userID, func(ctx context.Context, scope repository.Scope) error {
		w, err := scope.GetWallet(ctx, userID)
		now := s.now()
		created = false
		switch {
		case errors.Is(err, repository.ErrWalletNotFound):
			w = models.NewWallet(userID, now)
			created = true
		case err != nil:
			return err
		}

		if err := w.UpdateBalance(currency, amount); err != nil {
			return err
		}
		w.UpdatedAt = now
		if err := scope.SaveWallet(ctx, w); err != nil {
			return err
		}

		record = models.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      models.TransactionDeposit,
			Direction: models.DirectionCredit,
			Amount:    amount,
			Currency:  currency,
			CreatedAt: now,
		}
		if err := scope.AppendTransaction(ctx, &record); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		s.logFailure("Deposit failed", userID, currency, amount, err)
		return nil, false, err
	}

	s.afterCommit(ctx, record)
	return wallet, created, nil
}

func (s *WalletService) Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Wallet, error) {
	currency, err := validateFunds(currency, amount)
	if err != nil {
		s.logger.Warn("Withdraw rejected",
			slog.String("user_id", userID.String()),
			slog.String("currency", currency),
			slog.Any("amount", amount),
			slog.Any("err", err),
		)
		return nil, err
	}

	var (
		wallet *models.Wallet
		record models.Transaction
	)
	err = s.runScope(ctx, "withdraw", userID, func(ctx context.Context, scope repository.Scope) error {
		w, err := scope.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if err := debit(w, currency, amount); err != nil {
			return err
		}

		now := s.now()
		w.UpdatedAt = now
		if err := scope.SaveWallet(ctx, w); err != nil {
			return err
		}

		record = models.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      models.TransactionWithdraw,
			Direction: models.DirectionDebit,
			Amount:    amount,
			Currency:  currency,
			CreatedAt: now,
		}
		if err := scope.AppendTransaction(ctx, &record); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		s.logFailure("Withdraw failed", userID, currency, amount, err)
		return nil, err
	}

	s.afterCommit(ctx, record)
	return wallet, nil
}

// Transfer moves amount from one wallet to another in a single scope. Both
// wallets are read, and so locked, in ascending id order whatever the
// direction of the transfer.
func (s *WalletService) Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, currency string, amount decimal.Decimal) (*models.TransferResult, error) {
	currency, err := validateFunds(currency, amount)
	if err == nil && fromUserID == toUserID {
		err = ErrInvalidOperation
	}
	if err != nil {
		s.logger.Warn("Transfer rejected",
			slog.String("user_id", fromUserID.String()),
			slog.String("to_user_id", toUserID.String()),
			slog.String("currency", currency),
			slog.Any("amount", amount),
			slog.Any("err", err),
		)
		return nil, err
	}

	var (
		from, to *models.Wallet
		records  [2]models.Transaction
	)
	err = s.runScope(ctx, "transfer", fromUserID, func(ctx context.Context, scope repository.Scope) error {
		first, second := lockOrder(fromUserID, toUserID)
		wallets := make(map[uuid.UUID]*models.Wallet, 2)
		for _, id := range [2]uuid.UUID{first, second} {
			w, err := scope.GetWallet(ctx, id)
			if errors.Is(err, repository.ErrWalletNotFound) {
				if id == fromUserID {
					return ErrSenderWalletNotFound
				}
				return ErrRecipientWalletNotFound
			}
			if err != nil {
				return err
			}
			wallets[id] = w
		}

		sender, receiver := wallets[fromUserID], wallets[toUserID]
		if err := debit(sender, currency, amount); err != nil {
			return err
		}
		if err := receiver.UpdateBalance(currency, amount); err != nil {
			return err
		}

		now := s.now()
		sender.UpdatedAt = now
		receiver.UpdatedAt = now
		for _, id := range [2]uuid.UUID{first, second} {
			if err := scope.SaveWallet(ctx, wallets[id]); err != nil {
				return err
			}
		}

		records = [2]models.Transaction{
			{
				ID:                 uuid.New(),
				UserID:             fromUserID,
				Type:               models.TransactionTransfer,
				Direction:          models.DirectionDebit,
				Amount:             amount,
				Currency:           currency,
				CounterpartyUserID: &toUserID,
				CreatedAt:          now,
			},
			{
				ID:                 uuid.New(),
				UserID:             toUserID,
				Type:               models.TransactionTransfer,
				Direction:          models.DirectionCredit,
				Amount:             amount,
				Currency:           currency,
				CounterpartyUserID: &fromUserID,
				CreatedAt:          now,
			},
		}
		for i := range records {
			if err := scope.AppendTransaction(ctx, &records[i]); err != nil {
				return err
			}
		}
		from, to = sender, receiver
		return nil
	})
	if err != nil {
		s.logFailure("Transfer failed", fromUserID, currency, amount, err)
		return nil, err
	}

	s.afterCommit(ctx, records[:]...)
	return &models.TransferResult{Message: "Transfer successful", From: from, To: to}, nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if s.cache != nil {
		w, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("Wallet cache read failed",
				slog.String("user_id", userID.String()),
				slog.Any("err", err),
			)
		}
		if w != nil {
			return w, nil
		}
	}

	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			s.logger.Warn("GetWallet: wallet not found",
				slog.String("user_id", userID.String()),
			)
			return nil, err
		}
		s.logger.Error("GetWallet failed",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, w); err != nil {
			s.logger.Warn("Wallet cache write failed",
				slog.String("user_id", userID.String()),
				slog.Any("err", err),
			)
		}
	}
	return w, nil
}

type scopeFunc func(ctx context.Context, scope repository.Scope) error

// runScope runs fn in a fresh scope until it commits, fails with a
// non-retryable error, or the attempt budget is spent. Caller cancellation
// is honoured only before an attempt starts; a running attempt is bounded by
// the scope timeout alone.
func (s *WalletService) runScope(ctx context.Context, op string, userID uuid.UUID, fn scopeFunc) error {
	detached := context.WithoutCancel(ctx)
	attempt := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := s.inScope(detached, fn)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Retrying "+op,
			slog.String("user_id", userID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("err", err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && isRetryableError(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (s *WalletService) inScope(ctx context.Context, fn scopeFunc) error {
	scopeCtx, cancel := context.WithTimeout(ctx, s.scopeTimeout)
	defer cancel()

	scope, err := s.store.Begin(scopeCtx)
	if err != nil {
		return scopeError(scopeCtx, fmt.Errorf("begin scope: %w", err))
	}
	defer func() {
		if err := scope.Rollback(context.WithoutCancel(scopeCtx)); err != nil {
			s.logger.Warn("Rollback failed", slog.Any("err", err))
		}
	}()

	if err := fn(scopeCtx, scope); err != nil {
		return scopeError(scopeCtx, err)
	}
	if err := scope.Commit(scopeCtx); err != nil {
		return scopeError(scopeCtx, fmt.Errorf("commit scope: %w", err))
	}
	return nil
}

// afterCommit drops cached copies of the touched wallets and publishes the
// committed records. Failures are logged; the ledger is already final.
func (s *WalletService) afterCommit(ctx context.Context, records ...models.Transaction) {
	ctx = context.WithoutCancel(ctx)

	if s.cache != nil {
		ids := make([]uuid.UUID, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.UserID)
		}
		if err := s.cache.Invalidate(ctx, ids...); err != nil {
			s.logger.Warn("Wallet cache invalidation failed", slog.Any("err", err))
		}
	}

	if s.publisher != nil {
		evts := make([]events.TransactionCommitted, 0, len(records))
		for _, r := range records {
			evts = append(evts, events.TransactionCommitted{
				TransactionID:      r.ID,
				UserID:             r.UserID,
				Type:               string(r.Type),
				Direction:          string(r.Direction),
				Amount:             r.Amount,
				Currency:           r.Currency,
				CounterpartyUserID: r.CounterpartyUserID,
				OccurredAt:         r.CreatedAt,
			})
		}
		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(pubCtx, evts...); err != nil {
			s.logger.Error("Failed to publish ledger events",
				slog.Int("count", len(evts)),
				slog.Any("err", err),
			)
		}
	}
}

func (s *WalletService) logFailure(msg string, userID uuid.UUID, currency string, amount decimal.Decimal, err error) {
	attrs := []any{
		slog.String("user_id", userID.String()),
		slog.String("currency", currency),
		slog.Any("amount", amount),
		slog.Any("err", err),
	}
	switch KindOf(err) {
	case KindValidation, KindBusiness:
		s.logger.Warn(msg, attrs...)
	default:
		s.logger.Error(msg, attrs...)
	}
}

func validateFunds(currency string, amount decimal.Decimal) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !amount.IsPositive() {
		return currency, ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(models.AmountScale)) {
		return currency, ErrAmountPrecision
	}
	if !currencyPattern.MatchString(currency) {
		return currency, ErrInvalidCurrency
	}
	return currency, nil
}

func debit(w *models.Wallet, currency string, amount decimal.Decimal) error {
	balance, ok := w.Balance(currency)
	if !ok || balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return w.UpdateBalance(currency, amount.Neg())
}

// lockOrder returns the two ids in the global acquisition order.
func lockOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

func scopeError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && KindOf(err) != KindBusiness {
		return fmt.Errorf("%w: %w", ErrScopeTimeout, err)
	}
	return err
}

func isRetryableError(err error) bool {
	if errors.Is(err, ErrScopeTimeout) {
		return false
	}
	if errors.Is(err, repository.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
