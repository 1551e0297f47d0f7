// Package escrow implements the settlement state machine for two-party,
// two-rail trades.
//
// Flow:
//  1. A party initiates a trade → both parties' commitments recorded
//  2. Parties submit funding confirmations (self-reported, informational)
//  3. Admin attests each balance row → ledger-affecting confirmation
//  4. Both legs attested → completely funded → mutual confirm or admin releases
//  5. Side branches: dispute (pre-release), cancel (initiator, pre-counterfunding),
//     expire (counterparty misses the confirmation deadline)
//
// Every transition goes through the transition table in machine.go; nothing
// else writes the state field.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/escrowd/internal/ledger"
)

// State is the lifecycle state of an escrow.
type State string

const (
	StateInitialized      State = "initialized"
	StateOnePartyFunded   State = "one_party_funded"
	StateCompletelyFunded State = "completely_funded"
	StateReleased         State = "released"
	StateDisputed         State = "disputed"
	StateCancelled        State = "cancelled"
	StateExpired          State = "expired"
)

// TradeType determines which rails the two legs settle on.
type TradeType string

const (
	TradeCryptoToCrypto TradeType = "crypto_to_crypto"
	TradeCryptoToFiat   TradeType = "crypto_to_fiat"
)

// Resolutions an admin may record when closing a dispute.
const (
	ResolutionReleaseToSeller = "release_to_seller"
	ResolutionRefundToBuyer   = "refund_to_buyer"
	ResolutionSplit           = "split"
)

// Actor is the authenticated caller of an orchestrator operation.
// Identity and role come from the upstream auth collaborator; the core
// trusts them as given.
type Actor struct {
	ID    string
	Admin bool
}

// Escrow is the aggregate root. It exclusively owns its balance rows.
type Escrow struct {
	ID string `json:"id"`

	BuyerID          string `json:"buyerId"`
	SellerID         string `json:"sellerId"`
	IsBuyerInitiated bool   `json:"isBuyerInitiated"`

	TradeType           TradeType       `json:"tradeType"`
	BuyCurrency         string          `json:"buyCurrency"`
	SellCurrency        string          `json:"sellCurrency"`
	BuyerDepositAmount  decimal.Decimal `json:"buyerDepositAmount"`
	SellerDepositAmount decimal.Decimal `json:"sellerDepositAmount"`
	FeePayer            ledger.Role     `json:"feePayer"`

	// Settlement targets. Exactly one per party, fixed by trade type:
	// wallet for crypto legs, bank for the fiat leg of a crypto/fiat trade.
	BuyerDepositWalletID  string `json:"buyerDepositWalletId,omitempty"`
	SellerDepositWalletID string `json:"sellerDepositWalletId,omitempty"`
	BuyerDepositBankID    string `json:"buyerDepositBankId,omitempty"`
	SellerBankID          string `json:"sellerBankId,omitempty"`

	State State `json:"state"`

	// Set exactly once, when the first leg funds; consumed by the deadline
	// monitor or cleared by the completion transition.
	CounterPartyConfirmationDeadline *time.Time `json:"counterPartyConfirmationDeadline,omitempty"`

	// Monotonic flags: false→true only.
	BuyerConfirmedFunding   bool `json:"buyerConfirmedFunding"`
	SellerConfirmedFunding  bool `json:"sellerConfirmedFunding"`
	BuyerMarkedPaymentSent  bool `json:"buyerMarkedPaymentSent"`
	SellerMarkedPaymentSent bool `json:"sellerMarkedPaymentSent"`

	DisputedBy    string     `json:"disputedBy,omitempty"`
	DisputeReason string     `json:"disputeReason,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`

	// Version is the optimistic concurrency token; Store.Update compares
	// and increments it.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true once the escrow is closed for writes: released,
// cancelled, expired, or disputed with a recorded resolution.
func (e *Escrow) IsTerminal() bool {
	switch e.State {
	case StateReleased, StateCancelled, StateExpired:
		return true
	case StateDisputed:
		return e.Resolution != ""
	}
	return false
}

// PartyOf maps a user ID onto its role in this escrow, or "" for outsiders.
func (e *Escrow) PartyOf(userID string) ledger.Role {
	switch userID {
	case e.BuyerID:
		return ledger.RoleBuyer
	case e.SellerID:
		return ledger.RoleSeller
	}
	return ""
}

// InitiatorID returns the user who opened the trade.
func (e *Escrow) InitiatorID() string {
	if e.IsBuyerInitiated {
		return e.BuyerID
	}
	return e.SellerID
}

// RailOf returns the settlement rail configured for a party's leg.
func (e *Escrow) RailOf(role ledger.Role) ledger.Rail {
	if role == ledger.RoleBuyer {
		if e.BuyerDepositBankID != "" {
			return ledger.RailBank
		}
		return ledger.RailWallet
	}
	if e.SellerBankID != "" {
		return ledger.RailBank
	}
	return ledger.RailWallet
}

// Commitment returns the ledger commitment for a party's leg.
// The buyer leg is denominated in the buy currency, the seller leg in the
// sell currency.
func (e *Escrow) Commitment(role ledger.Role) ledger.Commitment {
	c := ledger.Commitment{
		EscrowID: e.ID,
		Role:     role,
		Rail:     e.RailOf(role),
	}
	if role == ledger.RoleBuyer {
		c.Currency = e.BuyCurrency
		c.Amount = e.BuyerDepositAmount
	} else {
		c.Currency = e.SellCurrency
		c.Amount = e.SellerDepositAmount
	}
	return c
}

// ConfirmedFunding reports a party's mutual-confirm flag.
func (e *Escrow) ConfirmedFunding(role ledger.Role) bool {
	if role == ledger.RoleBuyer {
		return e.BuyerConfirmedFunding
	}
	return e.SellerConfirmedFunding
}

// Store persists escrow aggregates.
//
// Update performs a compare-and-swap on Version: it succeeds only when the
// stored version equals the snapshot's version, then increments it. Lost
// races surface as a StaleWrite rejection.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Escrow, error)

	// ListFundingExpired returns escrows in one_party_funded whose
	// counterparty confirmation deadline is before the given time.
	ListFundingExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}

func otherRole(r ledger.Role) ledger.Role {
	if r == ledger.RoleBuyer {
		return ledger.RoleSeller
	}
	return ledger.RoleBuyer
}

func validTradeType(t TradeType) bool {
	return t == TradeCryptoToCrypto || t == TradeCryptoToFiat
}

// validateRailConfig checks that the settlement targets match the trade type:
// every leg has exactly one target, and the fiat leg exists iff the trade
// has a fiat side.
func (e *Escrow) validateRailConfig() error {
	buyerTargets := countTargets(e.BuyerDepositWalletID, e.BuyerDepositBankID)
	sellerTargets := countTargets(e.SellerDepositWalletID, e.SellerBankID)
	if buyerTargets != 1 {
		return fmt.Errorf("buyer leg needs exactly one settlement target, got %d", buyerTargets)
	}
	if sellerTargets != 1 {
		return fmt.Errorf("seller leg needs exactly one settlement target, got %d", sellerTargets)
	}

	bankLegs := 0
	if e.BuyerDepositBankID != "" {
		bankLegs++
	}
	if e.SellerBankID != "" {
		bankLegs++
	}

	switch e.TradeType {
	case TradeCryptoToCrypto:
		if bankLegs != 0 {
			return fmt.Errorf("crypto/crypto trade cannot settle a leg over a bank")
		}
	case TradeCryptoToFiat:
		if bankLegs != 1 {
			return fmt.Errorf("crypto/fiat trade needs exactly one bank leg, got %d", bankLegs)
		}
	}
	return nil
}

func countTargets(targets ...string) int {
	n := 0
	for _, t := range targets {
		if t != "" {
			n++
		}
	}
	return n
}
