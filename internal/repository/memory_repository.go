package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps the ledger in process. Every wallet has its own lock, a
// one-slot channel, taken by Scope.GetWallet and held until the scope ends,
// so scopes over disjoint wallets never wait on each other.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]*models.Wallet
	transactions map[uuid.UUID][]models.Transaction
	users        map[uuid.UUID]models.UserSummary

	locksMu sync.Mutex
	locks   map[uuid.UUID]*walletLock
}

// walletLock is dropped from the lock table once no scope holds or waits
// for it.
type walletLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[uuid.UUID]*models.Wallet),
		transactions: make(map[uuid.UUID][]models.Transaction),
		users:        make(map[uuid.UUID]models.UserSummary),
		locks:        make(map[uuid.UUID]*walletLock),
	}
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ UserDirectory = (*MemoryStore)(nil)
)

func (m *MemoryStore) Begin(ctx context.Context) (Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryScope{
		store:   m,
		held:    make(map[uuid.UUID]*walletLock),
		pending: make(map[uuid.UUID]*models.Wallet),
	}, nil
}

func (m *MemoryStore) GetWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return w.Clone(), nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	m.mu.RLock()
	records := m.transactions[userID]
	out := make([]models.Transaction, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LookupUsers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]models.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *MemoryStore) PutUser(user models.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SeedWallet stores a wallet directly, bypassing scopes. Test helper.
func (m *MemoryStore) SeedWallet(wallet *models.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := wallet.Clone()
	if w.Version == 0 {
		w.Version = 1
	}
	m.wallets[w.OwnerID] = w
}

func (m *MemoryStore) retainLock(id uuid.UUID) *walletLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &walletLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *MemoryStore) releaseLock(id uuid.UUID, l *walletLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *MemoryStore) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

type memoryScope struct {
	store   *MemoryStore
	order   []uuid.UUID
	held    map[uuid.UUID]*walletLock
	pending map[uuid.UUID]*models.Wallet
	records []models.Transaction
	done    bool
}

func (s *memoryScope) acquire(ctx context.Context, id uuid.UUID) error {
	if s.held[id] != nil {
		return nil
	}
	l := s.store.retainLock(id)
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.store.releaseLock(id, l)
		return ctx.Err()
	}
	s.held[id] = l
	s.order = append(s.order, id)
	return nil
}

func (s *memoryScope) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if s.done {
		return nil, fmt.Errorf("scope already closed")
	}
	if err := s.acquire(ctx, userID); err != nil {
		return nil, err
	}
	if w, ok := s.pending[userID]; ok {
		return w.Clone(), nil
	}
	return s.store.GetWallet(ctx, userID)
}

func (s *memoryScope) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	if s.done {
		return fmt.Errorf("scope already closed")
	}
	if err := s.acquire(ctx, wallet.OwnerID); err != nil {
		return err
	}

	current := s.pending[wallet.OwnerID]
	if current == nil {
		s.store.mu.RLock()
		current = s.store.wallets[wallet.OwnerID]
		s.store.mu.RUnlock()
	}
	switch {
	case current == nil && wallet.Version != 0:
		return fmt.Errorf("%w: wallet %s disappeared", ErrConflict, wallet.OwnerID)
	case current != nil && current.Version != wallet.Version:
		return fmt.Errorf("%w: wallet %s changed concurrently", ErrConflict, wallet.OwnerID)
	}

	wallet.Version++
	s.pending[wallet.OwnerID] = wallet.Clone()
	return nil
}

func (s *memoryScope) AppendTransaction(_ context.Context, tx *models.Transaction) error {
	if s.done {
		return fmt.Errorf("scope already closed")
	}
	s.records = append(s.records, *tx)
	return nil
}

func (s *memoryScope) Commit(_ context.Context) error {
	if s.done {
		return fmt.Errorf("scope already closed")
	}
	s.store.mu.Lock()
	for id, w := range s.pending {
		s.store.wallets[id] = w
	}
	for _, r := range s.records {
		s.store.transactions[r.UserID] = append(s.store.transactions[r.UserID], r)
	}
	s.store.mu.Unlock()
	s.release()
	return nil
}

func (s *memoryScope) Rollback(_ context.Context) error {
	if s.done {
		return nil
	}
	s.release()
	return nil
}

func (s *memoryScope) release() {
	s.done = true
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		l := s.held[id]
		<-l.ch
		s.store.releaseLock(id, l)
	}
	s.order = nil
}
