package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/mocks"
	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/Aastha0305/DigiPurse/internal/service"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryService_ResolvesCounterparties(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	store := mocks.NewMockStore(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	userID := uuid.New()
	bob := uuid.New()
	ghost := uuid.New()

	txs := []models.Transaction{
		{ID: uuid.New(), UserID: userID, Type: models.TransactionTransfer, CounterpartyUserID: &bob, CreatedAt: fixedNow},
		{ID: uuid.New(), UserID: userID, Type: models.TransactionTransfer, CounterpartyUserID: &ghost, CreatedAt: fixedNow.Add(-time.Minute)},
		{ID: uuid.New(), UserID: userID, Type: models.TransactionTransfer, CounterpartyUserID: &bob, CreatedAt: fixedNow.Add(-2 * time.Minute)},
		{ID: uuid.New(), UserID: userID, Type: models.TransactionDeposit, CreatedAt: fixedNow.Add(-3 * time.Minute)},
	}
	store.EXPECT().ListTransactions(gomock.Any(), userID, 10).Return(txs, nil)
	users.EXPECT().LookupUsers(gomock.Any(), []uuid.UUID{bob, ghost}).
		Return(map[uuid.UUID]models.UserSummary{bob: {ID: bob, Username: "bob"}}, nil)

	entries, err := service.NewHistoryService(store, users, testLogger).GetHistory(context.Background(), userID, 10)

	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "bob", entries[0].Counterparty.Username)
	assert.Equal(t, ghost, entries[1].Counterparty.ID)
	assert.Empty(t, entries[1].Counterparty.Username)
	assert.Equal(t, "bob", entries[2].Counterparty.Username)
	assert.Nil(t, entries[3].Counterparty)
}

func TestHistoryService_DirectoryFailureKeepsIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	store := mocks.NewMockStore(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	userID := uuid.New()
	bob := uuid.New()

	store.EXPECT().ListTransactions(gomock.Any(), userID, 0).Return([]models.Transaction{
		{ID: uuid.New(), UserID: userID, Type: models.TransactionTransfer, CounterpartyUserID: &bob},
	}, nil)
	users.EXPECT().LookupUsers(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	entries, err := service.NewHistoryService(store, users, testLogger).GetHistory(context.Background(), userID, 0)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, bob, entries[0].Counterparty.ID)
}

func TestHistoryService_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().ListTransactions(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))

	_, err := service.NewHistoryService(store, nil, testLogger).GetHistory(context.Background(), uuid.New(), 0)
	assert.Error(t, err)
}

func TestHistoryService_OrderingAfterLedgerActivity(t *testing.T) {
	store := repository.NewMemoryStore()
	alice := seed(store, "USD", 100)
	bob := seed(store, "USD", 0)
	store.PutUser(models.UserSummary{ID: bob, Username: "bob", Email: "bob@example.com"})

	tick := fixedNow
	svc := service.NewWalletService(store, testLogger, service.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	ctx := context.Background()

	_, _, err := svc.Deposit(ctx, alice, "USD", decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, alice, bob, "USD", decimal.NewFromInt(20))
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, alice, "USD", decimal.NewFromInt(1))
	require.NoError(t, err)

	entries, err := service.NewHistoryService(store, store, testLogger).GetHistory(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}
	assert.Equal(t, models.TransactionWithdraw, entries[0].Type)
	assert.Equal(t, models.TransactionTransfer, entries[1].Type)
	assert.Equal(t, "bob", entries[1].Counterparty.Username)
	assert.Equal(t, models.TransactionDeposit, entries[2].Type)
}
