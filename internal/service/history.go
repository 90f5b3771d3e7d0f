package service

import (
	"context"
	"log/slog"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/google/uuid"
)

type HistoryService struct {
	store  repository.Store
	users  repository.UserDirectory
	logger *slog.Logger
}

func NewHistoryService(store repository.Store, users repository.UserDirectory, logger *slog.Logger) *HistoryService {
	return &HistoryService{store: store, users: users, logger: logger}
}

// GetHistory returns the user's records newest first. Transfer records carry
// the counterparty's identity when the directory knows it, otherwise just
// the id. limit <= 0 returns everything.
func (h *HistoryService) GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	txs, err := h.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		h.logger.Error("Failed to list transactions",
			slog.String("user_id", userID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, tx := range txs {
		if tx.CounterpartyUserID == nil {
			continue
		}
		if _, ok := seen[*tx.CounterpartyUserID]; !ok {
			seen[*tx.CounterpartyUserID] = struct{}{}
			ids = append(ids, *tx.CounterpartyUserID)
		}
	}

	var users map[uuid.UUID]models.UserSummary
	if len(ids) > 0 && h.users != nil {
		users, err = h.users.LookupUsers(ctx, ids)
		if err != nil {
			h.logger.Warn("Counterparty lookup failed",
				slog.String("user_id", userID.String()),
				slog.Int("count", len(ids)),
				slog.Any("err", err),
			)
		}
	}

	entries := make([]models.HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		entry := models.HistoryEntry{Transaction: tx}
		if tx.CounterpartyUserID != nil {
			summary, ok := users[*tx.CounterpartyUserID]
			if !ok {
				summary = models.UserSummary{ID: *tx.CounterpartyUserID}
			}
			entry.Counterparty = &summary
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
