package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/Aastha0305/DigiPurse/internal/service"
	"github.com/Aastha0305/DigiPurse/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Deposit_Integration(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)
	svc := service.NewWalletService(repo, testLogger)
	userID := uuid.New()
	amount := decimal.NewFromFloat(123.45)

	w, created, err := svc.Deposit(context.Background(), userID, "USD", amount)
	require.NoError(t, err)
	assert.True(t, created)
	usd, _ := w.Balance("USD")
	assert.True(t, usd.Equal(amount))

	w, created, err = svc.Deposit(context.Background(), userID, "USD", amount)
	require.NoError(t, err)
	assert.False(t, created)
	usd, _ = w.Balance("USD")
	assert.True(t, usd.Equal(amount.Add(amount)))
}

func TestService_Withdraw_Integration(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)
	svc := service.NewWalletService(repo, testLogger)
	userID := uuid.New()
	_, _, err := svc.Deposit(context.Background(), userID, "USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	w, err := svc.Withdraw(context.Background(), userID, "USD", decimal.NewFromInt(50))
	require.NoError(t, err)
	usd, _ := w.Balance("USD")
	assert.True(t, usd.Equal(decimal.NewFromInt(50)))

	_, err = svc.Withdraw(context.Background(), userID, "USD", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, service.ErrInsufficientFunds)

	stored, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	usd, _ = stored.Balance("USD")
	assert.True(t, usd.Equal(decimal.NewFromInt(50)))

	txs, err := repo.ListTransactions(context.Background(), userID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestService_ConcurrentFirstDeposits_Integration(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)
	svc := service.NewWalletService(repo, testLogger, service.WithMaxRetries(10))
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Deposit(context.Background(), userID, "USD", decimal.NewFromInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	usd, _ := w.Balance("USD")
	assert.True(t, usd.Equal(decimal.NewFromInt(20)))
}

func TestService_OpposingTransfers_Integration(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)
	svc := service.NewWalletService(repo, testLogger)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	_, _, err := svc.Deposit(ctx, a, "USD", decimal.NewFromInt(500))
	require.NoError(t, err)
	_, _, err = svc.Deposit(ctx, b, "USD", decimal.NewFromInt(500))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, a, b, "USD", decimal.NewFromInt(3))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, b, a, "USD", decimal.NewFromInt(2))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wa, err := svc.GetWallet(ctx, a)
	require.NoError(t, err)
	wb, err := svc.GetWallet(ctx, b)
	require.NoError(t, err)
	balA, _ := wa.Balance("USD")
	balB, _ := wb.Balance("USD")
	assert.True(t, balA.Equal(decimal.NewFromInt(450)))
	assert.True(t, balB.Equal(decimal.NewFromInt(550)))
}
