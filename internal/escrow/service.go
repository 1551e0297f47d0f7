package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/escrowd/internal/events"
	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/kyc"
	"github.com/mbd888/escrowd/internal/ledger"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/syncutil"
	"github.com/mbd888/escrowd/internal/validation"
)

// DefaultFundingWindow is how long the counterparty has to fund after the
// first leg confirms.
const DefaultFundingWindow = 24 * time.Hour

// Service orchestrates settlement operations. Every write acquires the
// per-escrow lock, re-reads the aggregate, applies the transition table, and
// persists with a version compare-and-swap; losing a cross-node race
// surfaces as a stale write and is retried once against fresh state.
type Service struct {
	store   Store
	ledger  *ledger.Ledger
	gate    *Gate
	emitter *events.Emitter
	kyc     *kyc.Gate
	locks   *syncutil.KeyedMutex
	logger  *slog.Logger
	window  time.Duration
}

// NewService creates the settlement orchestrator.
func NewService(store Store, led *ledger.Ledger, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  led,
		gate:    NewGate(led),
		locks:   syncutil.NewKeyedMutex(),
		logger:  logger,
		window:  DefaultFundingWindow,
	}
}

// WithEmitter adds a domain event emitter.
func (s *Service) WithEmitter(e *events.Emitter) *Service {
	s.emitter = e
	return s
}

// WithKYC adds a funding-time KYC gate.
func (s *Service) WithKYC(g *kyc.Gate) *Service {
	s.kyc = g
	return s
}

// WithFundingWindow overrides the counterparty confirmation window.
func (s *Service) WithFundingWindow(d time.Duration) *Service {
	if d > 0 {
		s.window = d
	}
	return s
}

// InitiateRequest contains the parameters for opening a trade.
type InitiateRequest struct {
	BuyerID  string `json:"buyerId" binding:"required"`
	SellerID string `json:"sellerId" binding:"required"`

	TradeType           string `json:"tradeType" binding:"required"`
	BuyCurrency         string `json:"buyCurrency" binding:"required"`
	SellCurrency        string `json:"sellCurrency" binding:"required"`
	BuyerDepositAmount  string `json:"buyerDepositAmount" binding:"required"`
	SellerDepositAmount string `json:"sellerDepositAmount" binding:"required"`
	FeePayer            string `json:"feePayer"`

	BuyerDepositWalletID  string `json:"buyerDepositWalletId"`
	SellerDepositWalletID string `json:"sellerDepositWalletId"`
	BuyerDepositBankID    string `json:"buyerDepositBankId"`
	SellerBankID          string `json:"sellerBankId"`
}

// FundRequest is a party's funding confirmation submission.
type FundRequest struct {
	Rail        string `json:"rail" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	EvidenceRef string `json:"evidenceRef"`
}

// Initiate opens a new escrow. The caller must be one of the two parties;
// which one determines the initiator for cancellation rights.
func (s *Service) Initiate(ctx context.Context, actor Actor, req InitiateRequest) (*Escrow, error) {
	if actor.ID != req.BuyerID && actor.ID != req.SellerID {
		return nil, reject(KindUnauthorized, "actor", "initiator must be the buyer or the seller")
	}
	if req.BuyerID == req.SellerID {
		return nil, reject(KindConfigurationMismatch, "sellerId", "buyer and seller cannot be the same user")
	}
	if !validTradeType(TradeType(req.TradeType)) {
		return nil, reject(KindConfigurationMismatch, "tradeType", "unknown trade type %q", req.TradeType)
	}

	if errs := validation.Validate(
		validation.ValidCurrency("buyCurrency", req.BuyCurrency),
		validation.ValidCurrency("sellCurrency", req.SellCurrency),
		validation.ValidAmount("buyerDepositAmount", req.BuyerDepositAmount),
		validation.ValidAmount("sellerDepositAmount", req.SellerDepositAmount),
		validation.ValidWalletAddress("buyerDepositWalletId", req.BuyerDepositWalletID),
		validation.ValidWalletAddress("sellerDepositWalletId", req.SellerDepositWalletID),
	); len(errs) > 0 {
		return nil, errs
	}

	buyAmount, err := money.ParsePositive(req.BuyerDepositAmount)
	if err != nil {
		return nil, reject(KindConfigurationMismatch, "buyerDepositAmount", "%s", err)
	}
	sellAmount, err := money.ParsePositive(req.SellerDepositAmount)
	if err != nil {
		return nil, reject(KindConfigurationMismatch, "sellerDepositAmount", "%s", err)
	}

	feePayer := ledger.Role(req.FeePayer)
	switch feePayer {
	case "":
		feePayer = ledger.RoleBuyer
	case ledger.RoleBuyer, ledger.RoleSeller:
	default:
		return nil, reject(KindConfigurationMismatch, "feePayer", "feePayer must be buyer or seller")
	}

	now := time.Now()
	e := &Escrow{
		ID:                    idgen.Escrow(),
		BuyerID:               req.BuyerID,
		SellerID:              req.SellerID,
		IsBuyerInitiated:      actor.ID == req.BuyerID,
		TradeType:             TradeType(req.TradeType),
		BuyCurrency:           req.BuyCurrency,
		SellCurrency:          req.SellCurrency,
		BuyerDepositAmount:    buyAmount,
		SellerDepositAmount:   sellAmount,
		FeePayer:              feePayer,
		BuyerDepositWalletID:  req.BuyerDepositWalletID,
		SellerDepositWalletID: req.SellerDepositWalletID,
		BuyerDepositBankID:    req.BuyerDepositBankID,
		SellerBankID:          req.SellerBankID,
		State:                 StateInitialized,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := e.validateRailConfig(); err != nil {
		return nil, reject(KindConfigurationMismatch, "tradeType", "%s", err)
	}

	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.EscrowInitiated, e.ID, map[string]any{
		"buyerId": e.BuyerID, "sellerId": e.SellerID, "tradeType": string(e.TradeType),
	})
	s.logger.Info("escrow initiated",
		"escrow", e.ID, "buyer", e.BuyerID, "seller", e.SellerID, "tradeType", e.TradeType)
	return e, nil
}

// Get returns an escrow visible to the actor: its parties or an admin.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Escrow, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && e.PartyOf(actor.ID) == "" {
		// Outsiders learn nothing, not even existence.
		return nil, reject(KindNotFound, "escrowId", "escrow %s not found", id)
	}
	return e, nil
}

// List returns the actor's escrows, newest first. Limit defaults to 50 and
// is capped at 100.
func (s *Service) List(ctx context.Context, actor Actor, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListByUser(ctx, actor.ID, limit)
}

// Balances returns the full audit trail of balance rows for an escrow.
func (s *Service) Balances(ctx context.Context, actor Actor, escrowID string) ([]*ledger.Balance, error) {
	if _, err := s.Get(ctx, actor, escrowID); err != nil {
		return nil, err
	}
	return s.ledger.Store().ListByEscrow(ctx, escrowID)
}

// SubmitFunding records a party's claim of having paid their leg. The claim
// is informational until an admin attests it, but it does flip the party's
// payment-sent flag so the counterparty sees progress.
func (s *Service) SubmitFunding(ctx context.Context, actor Actor, escrowID string, req FundRequest) (*ledger.Balance, error) {
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, reject(KindOverFunding, "amount", "%s", err)
	}

	unlock, err := s.locks.Lock(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	role := e.PartyOf(actor.ID)
	if role == "" {
		return nil, reject(KindUnauthorized, "actor", "actor is not a party to this escrow")
	}
	if s.kyc != nil && !s.kyc.Allow(ctx, actor.ID) {
		return nil, reject(KindUnauthorized, "actor", "funding requires KYC verification")
	}

	row, err := s.gate.Submit(ctx, e, role, FundingSubmission{
		Rail:        ledger.Rail(req.Rail),
		Amount:      amount,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		observeRejection(err)
		return nil, err
	}

	if err := s.setPaymentSent(ctx, e, role); err != nil {
		// The balance row is already durable; the flag is cosmetic enough
		// not to fail the submission over it.
		s.logger.Warn("payment-sent flag update failed", "escrow", e.ID, "error", err)
	}

	s.logger.Info("funding submitted",
		"escrow", e.ID, "party", role, "rail", row.Rail, "amount", money.Format(row.Amount))
	return row, nil
}

// MarkPaymentSent flips the caller's payment-sent flag without submitting a
// balance row, for parties who paid out-of-band and will attach evidence later.
func (s *Service) MarkPaymentSent(ctx context.Context, actor Actor, escrowID string) (*Escrow, error) {
	unlock, err := s.locks.Lock(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	role := e.PartyOf(actor.ID)
	if role == "" {
		return nil, reject(KindUnauthorized, "actor", "actor is not a party to this escrow")
	}
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}
	if (role == ledger.RoleBuyer && e.BuyerMarkedPaymentSent) ||
		(role == ledger.RoleSeller && e.SellerMarkedPaymentSent) {
		return nil, rejectNoOp(KindIllegalTransition, "state", "%s already marked payment sent", role)
	}

	if err := s.setPaymentSent(ctx, e, role); err != nil {
		return nil, err
	}
	return e, nil
}

// ConfirmBalance is the admin attestation of a submitted balance row. When
// the attestation completes a leg, the funding transition fires in the same
// locked section.
func (s *Service) ConfirmBalance(ctx context.Context, actor Actor, balanceID string) (*Escrow, error) {
	if !actor.Admin {
		return nil, reject(KindUnauthorized, "actor", "only an admin can confirm balances")
	}

	row, err := s.ledger.Store().Get(ctx, balanceID)
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceNotFound) {
			return nil, reject(KindNotFound, "balanceId", "balance row %s not found", balanceID)
		}
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, row.EscrowID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, row.EscrowID)
	if err != nil {
		return nil, err
	}
	// Re-read under the lock; a concurrent attestation may have confirmed
	// or superseded the row since the unlocked fetch.
	row, err = s.ledger.Store().Get(ctx, balanceID)
	if err != nil {
		return nil, err
	}

	role, legFunded, err := s.gate.ConfirmByAdmin(ctx, e, row)
	if err != nil {
		observeRejection(err)
		return nil, err
	}
	attestationsTotal.WithLabelValues(string(row.Rail)).Inc()
	s.logger.Info("balance attested",
		"escrow", e.ID, "balance", row.ID, "party", role, "amount", money.Format(row.Amount))

	if !legFunded {
		return e, nil
	}

	otherFunded, err := s.ledger.IsFullyFunded(ctx, e.Commitment(otherRole(role)))
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, e, FundedEvent{Party: role, OtherPartyFunded: otherFunded})
	if err != nil {
		if IsNoOp(err) {
			// The machine already reflects this leg as funded; the
			// attestation itself still stands.
			return e, nil
		}
		return nil, err
	}
	return updated, nil
}

// CorrectBalance supersedes an attested row with a corrected amount (admin
// only). The original row stays in the audit trail.
func (s *Service) CorrectBalance(ctx context.Context, actor Actor, balanceID, amount string) (*ledger.Balance, error) {
	if !actor.Admin {
		return nil, reject(KindUnauthorized, "actor", "only an admin can correct balances")
	}
	parsed, err := money.ParsePositive(amount)
	if err != nil {
		return nil, reject(KindOverFunding, "amount", "%s", err)
	}

	row, err := s.ledger.Store().Get(ctx, balanceID)
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceNotFound) {
			return nil, reject(KindNotFound, "balanceId", "balance row %s not found", balanceID)
		}
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, row.EscrowID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, row.EscrowID)
	if err != nil {
		return nil, err
	}
	row, err = s.ledger.Store().Get(ctx, balanceID)
	if err != nil {
		return nil, err
	}
	return s.gate.Correct(ctx, e, row, parsed)
}

// Release requests payout of a completely funded escrow. A party call
// records that party's confirmation; the release itself fires once both
// parties have confirmed (or immediately for an admin call when they have).
func (s *Service) Release(ctx context.Context, actor Actor, escrowID string) (*Escrow, error) {
	return s.locked(ctx, escrowID, func(e *Escrow) (Event, error) {
		return ReleaseEvent{Actor: actor}, nil
	})
}

// Dispute freezes an escrow pending admin resolution.
func (s *Service) Dispute(ctx context.Context, actor Actor, escrowID, reason string) (*Escrow, error) {
	if reason == "" {
		return nil, reject(KindConfigurationMismatch, "reason", "dispute reason is required")
	}
	return s.locked(ctx, escrowID, func(e *Escrow) (Event, error) {
		return DisputeEvent{Actor: actor, Reason: reason}, nil
	})
}

// Cancel withdraws an escrow before the counterparty has confirmed funds.
// Only the initiator may cancel, and only while the counterparty's leg has
// no admin-confirmed inflow.
func (s *Service) Cancel(ctx context.Context, actor Actor, escrowID string) (*Escrow, error) {
	return s.locked(ctx, escrowID, func(e *Escrow) (Event, error) {
		counterparty := otherRole(e.PartyOf(e.InitiatorID()))
		total, err := s.ledger.ConfirmedTotal(ctx, e.Commitment(counterparty))
		if err != nil {
			return nil, err
		}
		return CancelEvent{Actor: actor, CounterpartyHasFunds: total.IsPositive()}, nil
	})
}

// Resolve closes a disputed escrow with an admin-recorded outcome.
func (s *Service) Resolve(ctx context.Context, actor Actor, escrowID, resolution, reason string) (*Escrow, error) {
	return s.locked(ctx, escrowID, func(e *Escrow) (Event, error) {
		return ResolveEvent{Actor: actor, Resolution: resolution, Reason: reason}, nil
	})
}

// Expire times out an escrow whose counterparty confirmation deadline has
// passed. Called by the deadline monitor; redelivery after a crash between
// commit and emit is absorbed as a no-op.
func (s *Service) Expire(ctx context.Context, escrowID string) (*Escrow, error) {
	return s.locked(ctx, escrowID, func(e *Escrow) (Event, error) {
		return ExpireEvent{}, nil
	})
}

// locked runs one transition under the per-escrow lock. build sees the
// freshly loaded aggregate so it can consult the ledger before choosing the
// event's inputs.
func (s *Service) locked(ctx context.Context, escrowID string, build func(e *Escrow) (Event, error)) (*Escrow, error) {
	unlock, err := s.locks.Lock(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	ev, err := build(e)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, e, ev)
}

// transition applies ev to e, persists with the version compare-and-swap,
// and emits the resulting domain events only after the write commits. A
// stale write (another node won the race) is retried once against fresh
// state; the second loss propagates so the caller can decide.
func (s *Service) transition(ctx context.Context, e *Escrow, ev Event) (*Escrow, error) {
	in := machineInput{now: time.Now(), window: s.window}

	emit, err := apply(e, ev, in)
	if err != nil {
		observeRejection(err)
		return nil, err
	}

	if err := s.store.Update(ctx, e); err != nil {
		if !errors.Is(err, ErrStaleWrite) {
			return nil, err
		}
		staleRetriesTotal.Inc()
		fresh, gerr := s.store.Get(ctx, e.ID)
		if gerr != nil {
			return nil, gerr
		}
		emit, err = apply(fresh, ev, in)
		if err != nil {
			observeRejection(err)
			return nil, err
		}
		if err := s.store.Update(ctx, fresh); err != nil {
			return nil, err
		}
		e = fresh
	}

	transitionsTotal.WithLabelValues(string(e.State)).Inc()
	for _, typ := range emit {
		s.emitter.Emit(typ, e.ID, map[string]any{"state": string(e.State)})
	}
	if len(emit) > 0 {
		s.logger.Info("escrow transition", "escrow", e.ID, "state", e.State)
	}
	return e, nil
}

// setPaymentSent persists a party's payment-sent flag. Monotonic, so a
// stale write is resolved by re-reading and setting again.
func (s *Service) setPaymentSent(ctx context.Context, e *Escrow, role ledger.Role) error {
	for attempt := 0; ; attempt++ {
		if role == ledger.RoleBuyer {
			e.BuyerMarkedPaymentSent = true
		} else {
			e.SellerMarkedPaymentSent = true
		}
		e.UpdatedAt = time.Now()

		err := s.store.Update(ctx, e)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleWrite) || attempt > 0 {
			return err
		}
		staleRetriesTotal.Inc()
		fresh, gerr := s.store.Get(ctx, e.ID)
		if gerr != nil {
			return gerr
		}
		*e = *fresh
	}
}
