package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/ledger"
)

// Gate validates funding confirmations before they touch the ledger.
//
// Two tiers: a party's submission creates an unconfirmed balance row
// (informational — the "I paid" claim), and only an admin attestation flips
// it into the confirmed totals that drive state transitions. The split is
// the anti-fraud control: a party's claim alone never moves funds.
type Gate struct {
	ledger *ledger.Ledger
}

// NewGate creates a confirmation gate over the given ledger.
func NewGate(l *ledger.Ledger) *Gate {
	return &Gate{ledger: l}
}

// FundingSubmission is one party's self-reported deposit confirmation.
type FundingSubmission struct {
	Rail        ledger.Rail
	Amount      decimal.Decimal
	EvidenceRef string
}

// Submit validates a party's funding confirmation against the escrow's
// configuration and the committed amount, then writes an unconfirmed
// balance row. The caller holds the per-escrow lock.
func (g *Gate) Submit(ctx context.Context, e *Escrow, party ledger.Role, sub FundingSubmission) (*ledger.Balance, error) {
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}

	commitment := e.Commitment(party)
	if sub.Rail != commitment.Rail {
		return nil, reject(KindConfigurationMismatch, "rail",
			"%s leg settles over %s, not %s", party, commitment.Rail, sub.Rail)
	}
	if !sub.Amount.IsPositive() {
		return nil, reject(KindOverFunding, "amount", "amount must be positive")
	}

	confirmed, err := g.ledger.ConfirmedTotal(ctx, commitment)
	if err != nil {
		return nil, err
	}
	if confirmed.Add(sub.Amount).GreaterThan(commitment.Amount) {
		return nil, reject(KindOverFunding, "amount",
			"confirmed %s plus %s exceeds committed %s %s",
			confirmed, sub.Amount, commitment.Amount, commitment.Currency)
	}

	now := time.Now()
	switch commitment.Rail {
	case ledger.RailBank:
		row := &ledger.BankBalance{
			ID:          idgen.BankBalance(),
			EscrowID:    e.ID,
			Role:        party,
			Amount:      sub.Amount,
			Currency:    commitment.Currency,
			BankID:      e.bankIDOf(party),
			EvidenceRef: sub.EvidenceRef,
			CreatedAt:   now,
		}
		if err := g.ledger.Store().CreateBank(ctx, row); err != nil {
			return nil, err
		}
		return g.ledger.Store().Get(ctx, row.ID)

	default:
		row := &ledger.WalletBalance{
			ID:            idgen.WalletBalance(),
			EscrowID:      e.ID,
			Role:          party,
			Amount:        sub.Amount,
			Currency:      commitment.Currency,
			WalletAddress: e.walletIDOf(party),
			EvidenceRef:   sub.EvidenceRef,
			CreatedAt:     now,
		}
		if err := g.ledger.Store().CreateWallet(ctx, row); err != nil {
			return nil, err
		}
		return g.ledger.Store().Get(ctx, row.ID)
	}
}

// ConfirmByAdmin attests a balance row. Over-funding is re-checked at
// attestation time: two optimistic submissions may each fit the remaining
// commitment, but only the attestations that keep the confirmed total
// within the commitment are accepted. The caller holds the per-escrow lock.
//
// Returns the row's role and whether that leg is now fully funded.
func (g *Gate) ConfirmByAdmin(ctx context.Context, e *Escrow, row *ledger.Balance) (ledger.Role, bool, error) {
	if e.IsTerminal() {
		return "", false, terminalRejection(e)
	}
	if row.EscrowID != e.ID {
		return "", false, reject(KindNotFound, "balanceId", "balance row does not belong to escrow %s", e.ID)
	}
	if row.SupersededBy != "" {
		return "", false, reject(KindConfigurationMismatch, "balanceId", "balance row has been superseded")
	}
	if row.ConfirmedByAdmin {
		return "", false, rejectNoOp(KindIllegalTransition, "balanceId", "balance row already confirmed")
	}

	commitment := e.Commitment(row.Role)
	if row.Rail != commitment.Rail || row.Currency != commitment.Currency {
		return "", false, reject(KindConfigurationMismatch, "balanceId",
			"balance row rail/currency does not match the %s leg", row.Role)
	}

	confirmed, err := g.ledger.ConfirmedTotal(ctx, commitment)
	if err != nil {
		return "", false, err
	}
	if confirmed.Add(row.Amount).GreaterThan(commitment.Amount) {
		return "", false, reject(KindOverFunding, "amount",
			"attesting %s would put confirmed total over committed %s %s",
			row.Amount, commitment.Amount, commitment.Currency)
	}

	if err := g.ledger.Store().Confirm(ctx, row.ID, time.Now()); err != nil {
		return "", false, err
	}

	funded, err := g.ledger.IsFullyFunded(ctx, commitment)
	if err != nil {
		return "", false, err
	}
	return row.Role, funded, nil
}

// Correct supersedes an admin-confirmed row with a corrected amount,
// keeping the original for audit. Admin-only escape hatch for an
// attestation that turned out wrong; it never touches escrow state, so a
// correction that would contradict the state the escrow already reached is
// refused. The caller holds the per-escrow lock.
func (g *Gate) Correct(ctx context.Context, e *Escrow, row *ledger.Balance, amount decimal.Decimal) (*ledger.Balance, error) {
	if row.EscrowID != e.ID {
		return nil, reject(KindNotFound, "balanceId", "balance row does not belong to escrow %s", e.ID)
	}
	if row.SupersededBy != "" {
		return nil, reject(KindConfigurationMismatch, "balanceId", "balance row has been superseded")
	}
	if !amount.IsPositive() {
		return nil, reject(KindOverFunding, "amount", "corrected amount must be positive")
	}

	commitment := e.Commitment(row.Role)
	confirmed, err := g.ledger.ConfirmedTotal(ctx, commitment)
	if err != nil {
		return nil, err
	}
	// The replacement inherits the row's confirmation, so the ceiling is
	// checked against the total with this row's contribution swapped out.
	remaining := confirmed
	if row.ConfirmedByAdmin {
		remaining = confirmed.Sub(row.Amount)
	}
	after := remaining.Add(amount)
	if after.GreaterThan(commitment.Amount) {
		return nil, reject(KindOverFunding, "amount",
			"correcting to %s would put the confirmed total at %s, over committed %s %s",
			amount, after, commitment.Amount, commitment.Currency)
	}
	// A downward correction must not strand a leg whose funded standing
	// already drove a transition; that books-vs-state conflict goes through
	// dispute resolution instead.
	if row.ConfirmedByAdmin && e.State != StateInitialized &&
		confirmed.GreaterThanOrEqual(commitment.Amount) && after.LessThan(commitment.Amount) {
		return nil, reject(KindIllegalTransition, "amount",
			"correction would leave the %s leg under-funded at %s of %s %s after the escrow advanced on it",
			row.Role, after, commitment.Amount, commitment.Currency)
	}

	now := time.Now()
	switch row.Rail {
	case ledger.RailBank:
		repl := &ledger.BankBalance{
			ID:               idgen.BankBalance(),
			EscrowID:         row.EscrowID,
			Role:             row.Role,
			Amount:           amount,
			Currency:         row.Currency,
			BankID:           row.Target,
			EvidenceRef:      row.EvidenceRef,
			ConfirmedByAdmin: row.ConfirmedByAdmin,
			CreatedAt:        now,
		}
		if row.ConfirmedByAdmin {
			repl.ConfirmedAt = &now
		}
		if err := g.ledger.Store().SupersedeBank(ctx, row.ID, repl); err != nil {
			return nil, err
		}
		return g.ledger.Store().Get(ctx, repl.ID)

	default:
		repl := &ledger.WalletBalance{
			ID:               idgen.WalletBalance(),
			EscrowID:         row.EscrowID,
			Role:             row.Role,
			Amount:           amount,
			Currency:         row.Currency,
			WalletAddress:    row.Target,
			EvidenceRef:      row.EvidenceRef,
			ConfirmedByAdmin: row.ConfirmedByAdmin,
			CreatedAt:        now,
		}
		if row.ConfirmedByAdmin {
			repl.ConfirmedAt = &now
		}
		if err := g.ledger.Store().SupersedeWallet(ctx, row.ID, repl); err != nil {
			return nil, err
		}
		return g.ledger.Store().Get(ctx, repl.ID)
	}
}

func (e *Escrow) bankIDOf(role ledger.Role) string {
	if role == ledger.RoleBuyer {
		return e.BuyerDepositBankID
	}
	return e.SellerBankID
}

func (e *Escrow) walletIDOf(role ledger.Role) string {
	if role == ledger.RoleBuyer {
		return e.BuyerDepositWalletID
	}
	return e.SellerDepositWalletID
}
