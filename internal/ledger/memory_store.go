package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory balance store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	banks   map[string]*BankBalance
	wallets map[string]*WalletBalance
}

// NewMemoryStore creates a new in-memory balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		banks:   make(map[string]*BankBalance),
		wallets: make(map[string]*WalletBalance),
	}
}

func (m *MemoryStore) CreateBank(ctx context.Context, b *BankBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.banks[b.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateWallet(ctx context.Context, w *WalletBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.banks[id]; ok {
		return b.asBalance(), nil
	}
	if w, ok := m.wallets[id]; ok {
		return w.asBalance(), nil
	}
	return nil, ErrBalanceNotFound
}

func (m *MemoryStore) Confirm(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.banks[id]; ok {
		return confirmRow(&b.ConfirmedByAdmin, &b.ConfirmedAt, b.SupersededBy, at)
	}
	if w, ok := m.wallets[id]; ok {
		return confirmRow(&w.ConfirmedByAdmin, &w.ConfirmedAt, w.SupersededBy, at)
	}
	return ErrBalanceNotFound
}

func confirmRow(confirmed *bool, confirmedAt **time.Time, supersededBy string, at time.Time) error {
	if supersededBy != "" {
		return ErrSuperseded
	}
	if *confirmed {
		return ErrAlreadyConfirmed
	}
	*confirmed = true
	t := at
	*confirmedAt = &t
	return nil
}

func (m *MemoryStore) SupersedeBank(ctx context.Context, oldID string, replacement *BankBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.banks[oldID]
	if !ok {
		return ErrBalanceNotFound
	}
	if old.SupersededBy != "" {
		return ErrSuperseded
	}
	old.SupersededBy = replacement.ID
	cp := *replacement
	m.banks[replacement.ID] = &cp
	return nil
}

func (m *MemoryStore) SupersedeWallet(ctx context.Context, oldID string, replacement *WalletBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.wallets[oldID]
	if !ok {
		return ErrBalanceNotFound
	}
	if old.SupersededBy != "" {
		return ErrSuperseded
	}
	old.SupersededBy = replacement.ID
	cp := *replacement
	m.wallets[replacement.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByEscrow(ctx context.Context, escrowID string) ([]*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Balance
	for _, b := range m.banks {
		if b.EscrowID == escrowID {
			result = append(result, b.asBalance())
		}
	}
	for _, w := range m.wallets {
		if w.EscrowID == escrowID {
			result = append(result, w.asBalance())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ConfirmedTotal(ctx context.Context, escrowID string, role Role, rail Rail, currency string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	switch rail {
	case RailBank:
		for _, b := range m.banks {
			if b.EscrowID == escrowID && b.Role == role && b.Currency == currency &&
				b.ConfirmedByAdmin && b.SupersededBy == "" {
				total = total.Add(b.Amount)
			}
		}
	case RailWallet:
		for _, w := range m.wallets {
			if w.EscrowID == escrowID && w.Role == role && w.Currency == currency &&
				w.ConfirmedByAdmin && w.SupersededBy == "" {
				total = total.Add(w.Amount)
			}
		}
	}
	return total, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
