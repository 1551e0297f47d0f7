// Package ledger is the source of truth for how much of an escrow's
// commitment has been confirmed, per party per rail.
//
// Balance rows are append-only: a row is never deleted or edited after
// admin confirmation, only superseded by a replacement row. The audit
// trail of a corrected attestation is therefore always reconstructable.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBalanceNotFound  = errors.New("balance row not found")
	ErrAlreadyConfirmed = errors.New("balance row already confirmed")
	ErrSuperseded       = errors.New("balance row has been superseded")
)

// Rail is one of the two settlement channels.
type Rail string

const (
	RailBank   Rail = "bank"
	RailWallet Rail = "wallet"
)

// Role identifies which side of the trade a balance row belongs to.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// BankBalance is one fiat-leg balance row.
type BankBalance struct {
	ID               string          `json:"id"`
	EscrowID         string          `json:"escrowId"`
	Role             Role            `json:"role"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	BankID           string          `json:"bankId"`
	EvidenceRef      string          `json:"evidenceRef,omitempty"`
	ConfirmedByAdmin bool            `json:"confirmedByAdmin"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
	SupersededBy     string          `json:"supersededBy,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// WalletBalance is one crypto-leg balance row.
type WalletBalance struct {
	ID               string          `json:"id"`
	EscrowID         string          `json:"escrowId"`
	Role             Role            `json:"role"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	WalletAddress    string          `json:"walletAddress"`
	EvidenceRef      string          `json:"evidenceRef,omitempty"`
	ConfirmedByAdmin bool            `json:"confirmedByAdmin"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
	SupersededBy     string          `json:"supersededBy,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Balance is the rail-agnostic view of a row, used by the confirmation gate
// and the HTTP layer.
type Balance struct {
	ID               string          `json:"id"`
	EscrowID         string          `json:"escrowId"`
	Role             Role            `json:"role"`
	Rail             Rail            `json:"rail"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Target           string          `json:"target"` // bank ID or wallet address
	EvidenceRef      string          `json:"evidenceRef,omitempty"`
	ConfirmedByAdmin bool            `json:"confirmedByAdmin"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
	SupersededBy     string          `json:"supersededBy,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func (b *BankBalance) asBalance() *Balance {
	return &Balance{
		ID: b.ID, EscrowID: b.EscrowID, Role: b.Role, Rail: RailBank,
		Amount: b.Amount, Currency: b.Currency, Target: b.BankID,
		EvidenceRef: b.EvidenceRef, ConfirmedByAdmin: b.ConfirmedByAdmin,
		ConfirmedAt: b.ConfirmedAt, SupersededBy: b.SupersededBy,
		CreatedAt: b.CreatedAt,
	}
}

func (w *WalletBalance) asBalance() *Balance {
	return &Balance{
		ID: w.ID, EscrowID: w.EscrowID, Role: w.Role, Rail: RailWallet,
		Amount: w.Amount, Currency: w.Currency, Target: w.WalletAddress,
		EvidenceRef: w.EvidenceRef, ConfirmedByAdmin: w.ConfirmedByAdmin,
		ConfirmedAt: w.ConfirmedAt, SupersededBy: w.SupersededBy,
		CreatedAt: w.CreatedAt,
	}
}

// Store persists balance rows. Both implementations enforce the
// append-only discipline: confirmed rows mutate only via Supersede.
type Store interface {
	CreateBank(ctx context.Context, b *BankBalance) error
	CreateWallet(ctx context.Context, w *WalletBalance) error

	// Get returns the rail-agnostic view of a row by ID (either table).
	Get(ctx context.Context, id string) (*Balance, error)

	// Confirm flips confirmedByAdmin on an unconfirmed, unsuperseded row.
	Confirm(ctx context.Context, id string, at time.Time) error

	// Supersede marks the old row replaced and inserts the replacement in
	// the same logical transaction. The replacement must target the same
	// escrow, role, and rail.
	SupersedeBank(ctx context.Context, oldID string, replacement *BankBalance) error
	SupersedeWallet(ctx context.Context, oldID string, replacement *WalletBalance) error

	// ListByEscrow returns every row (including superseded ones) for audit.
	ListByEscrow(ctx context.Context, escrowID string) ([]*Balance, error)

	// ConfirmedTotal sums admin-confirmed, unsuperseded rows for the given
	// escrow+role+rail+currency.
	ConfirmedTotal(ctx context.Context, escrowID string, role Role, rail Rail, currency string) (decimal.Decimal, error)
}

// Commitment describes one party's committed leg, for funding checks.
type Commitment struct {
	EscrowID string
	Role     Role
	Rail     Rail
	Currency string
	Amount   decimal.Decimal
}

// Ledger wraps a Store with the read API the confirmation gate consumes.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying store for orchestration wiring.
func (l *Ledger) Store() Store { return l.store }

// ConfirmedTotal returns the admin-confirmed inflow for one leg.
func (l *Ledger) ConfirmedTotal(ctx context.Context, c Commitment) (decimal.Decimal, error) {
	return l.store.ConfirmedTotal(ctx, c.EscrowID, c.Role, c.Rail, c.Currency)
}

// IsFullyFunded reports whether the confirmed inflow covers the commitment.
func (l *Ledger) IsFullyFunded(ctx context.Context, c Commitment) (bool, error) {
	total, err := l.ConfirmedTotal(ctx, c)
	if err != nil {
		return false, err
	}
	return total.GreaterThanOrEqual(c.Amount), nil
}
