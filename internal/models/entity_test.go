package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWallet_UpdateBalance_CreatesEntry(t *testing.T) {
	w := NewWallet(uuid.New(), time.Now())

	require.NoError(t, w.UpdateBalance("USD", decimal.NewFromInt(100)))
	require.NoError(t, w.UpdateBalance("EUR", decimal.NewFromFloat(12.5)))

	usd, ok := w.Balance("USD")
	assert.True(t, ok)
	assert.True(t, usd.Equal(decimal.NewFromInt(100)))
	assert.Len(t, w.Currencies, 2)
	assert.Equal(t, "EUR", w.Currencies[0].Type)
}

func TestWallet_UpdateBalance_RejectsNegative(t *testing.T) {
	w := NewWallet(uuid.New(), time.Now())
	require.NoError(t, w.UpdateBalance("USD", decimal.NewFromInt(100)))

	err := w.UpdateBalance("USD", decimal.NewFromInt(-150))
	assert.ErrorIs(t, err, ErrNegativeBalance)
	usd, _ := w.Balance("USD")
	assert.True(t, usd.Equal(decimal.NewFromInt(100)))

	err = w.UpdateBalance("GBP", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNegativeBalance)
	_, ok := w.Balance("GBP")
	assert.False(t, ok)
}

func TestWallet_UpdateBalance_ToZero(t *testing.T) {
	w := NewWallet(uuid.New(), time.Now())
	require.NoError(t, w.UpdateBalance("USD", decimal.NewFromFloat(50.25)))
	require.NoError(t, w.UpdateBalance("USD", decimal.NewFromFloat(-50.25)))

	usd, ok := w.Balance("USD")
	assert.True(t, ok)
	assert.True(t, usd.IsZero())
}

func TestWallet_Clone(t *testing.T) {
	w := NewWallet(uuid.New(), time.Now())
	require.NoError(t, w.UpdateBalance("USD", decimal.NewFromInt(10)))

	cp := w.Clone()
	require.NoError(t, cp.UpdateBalance("USD", decimal.NewFromInt(5)))

	orig, _ := w.Balance("USD")
	assert.True(t, orig.Equal(decimal.NewFromInt(10)))
}
