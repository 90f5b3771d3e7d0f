package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WalletCache keeps committed wallets in Redis as JSON under wallet:<id>.
type WalletCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWalletCache(client *redis.Client, ttl time.Duration) *WalletCache {
	return &WalletCache{client: client, ttl: ttl}
}

// Get returns nil, nil when the wallet is not cached.
func (c *WalletCache) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	val, err := c.client.Get(ctx, walletKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached wallet: %w", err)
	}

	var wallet models.Wallet
	if err := json.Unmarshal(val, &wallet); err != nil {
		return nil, fmt.Errorf("decode cached wallet: %w", err)
	}
	return &wallet, nil
}

func (c *WalletCache) Set(ctx context.Context, wallet *models.Wallet) error {
	data, err := json.Marshal(wallet)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, walletKey(wallet.OwnerID), data, c.ttl).Err()
}

func (c *WalletCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = walletKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func walletKey(userID uuid.UUID) string {
	return fmt.Sprintf("wallet:%s", userID)
}
