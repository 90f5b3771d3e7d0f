package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/models/events"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	from, to := uuid.New(), uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		events.TransactionCommitted{TransactionID: uuid.New(), UserID: from, Type: "transfer", Direction: "debit",
			Amount: decimal.NewFromInt(5), Currency: "USD", CounterpartyUserID: &to, OccurredAt: at},
		events.TransactionCommitted{TransactionID: uuid.New(), UserID: to, Type: "transfer", Direction: "credit",
			Amount: decimal.NewFromInt(5), Currency: "USD", CounterpartyUserID: &from, OccurredAt: at},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, from.String(), string(w.msgs[0].Key))
	assert.Equal(t, "transfer", string(w.msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, to.String(), decoded["user_id"])
	assert.Equal(t, from.String(), decoded["counterparty_user_id"])
	assert.Equal(t, "credit", decoded["direction"])
	assert.Equal(t, "5", decoded["amount"])
}

func TestPublisher_NothingToSend(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	p := &Publisher{writer: w}

	assert.NoError(t, p.Publish(context.Background()))
}

func TestPublisher_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &Publisher{writer: w}

	err := p.Publish(context.Background(), events.TransactionCommitted{UserID: uuid.New()})
	assert.Error(t, err)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
