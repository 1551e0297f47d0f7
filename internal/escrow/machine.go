package escrow

import (
	"time"

	"github.com/mbd888/escrowd/internal/events"
	"github.com/mbd888/escrowd/internal/ledger"
)

// Event is a settlement event applied to the state machine. Each orchestrator
// operation maps to exactly one event type; there is no generic field bag.
type Event interface {
	eventName() string
}

// FundedEvent records that a party's leg became fully admin-confirmed.
type FundedEvent struct {
	Party ledger.Role
	// OtherPartyFunded is the ledger's answer for the counterparty leg,
	// read under the same per-escrow lock.
	OtherPartyFunded bool
}

// ExpireEvent is injected by the deadline monitor when the counterparty
// confirmation window has elapsed.
type ExpireEvent struct{}

// ReleaseEvent requests release of a completely funded escrow. A party call
// records that party's confirmation; an admin call requires both
// confirmations to already be present.
type ReleaseEvent struct {
	Actor Actor
}

// DisputeEvent moves a non-terminal escrow into dispute.
type DisputeEvent struct {
	Actor  Actor
	Reason string
}

// CancelEvent cancels an escrow before the counterparty has funded.
type CancelEvent struct {
	Actor Actor
	// CounterpartyHasFunds is the ledger's answer, read under the lock:
	// true if any admin-confirmed amount exists for the non-initiating party.
	CounterpartyHasFunds bool
}

// ResolveEvent closes a dispute with an admin-recorded resolution.
type ResolveEvent struct {
	Actor      Actor
	Resolution string
	Reason     string
}

func (FundedEvent) eventName() string  { return "funded" }
func (ExpireEvent) eventName() string  { return "expire" }
func (ReleaseEvent) eventName() string { return "release" }
func (DisputeEvent) eventName() string { return "dispute" }
func (CancelEvent) eventName() string  { return "cancel" }
func (ResolveEvent) eventName() string { return "resolve" }

// fundingWindow is injected by the orchestrator; the machine itself carries
// no configuration.
type machineInput struct {
	now    time.Time
	window time.Duration
}

// apply computes the transition for ev against e's current persisted state,
// mutating e in place and returning the domain events to emit after commit.
//
// Rejections distinguish the idempotent case (NoOp: the escrow already
// absorbed an equivalent event) from genuine guard failures. apply never
// touches storage; the orchestrator persists e and emits the returned
// events only after a successful compare-and-swap.
func apply(e *Escrow, ev Event, in machineInput) ([]events.Type, error) {
	switch ev := ev.(type) {
	case FundedEvent:
		return applyFunded(e, ev, in)
	case ExpireEvent:
		return applyExpire(e, in)
	case ReleaseEvent:
		return applyRelease(e, ev, in)
	case DisputeEvent:
		return applyDispute(e, ev, in)
	case CancelEvent:
		return applyCancel(e, ev, in)
	case ResolveEvent:
		return applyResolve(e, ev, in)
	}
	return nil, reject(KindIllegalTransition, "event", "unknown event %q", ev.eventName())
}

func applyFunded(e *Escrow, ev FundedEvent, in machineInput) ([]events.Type, error) {
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}

	switch e.State {
	case StateInitialized:
		e.State = StateOnePartyFunded
		deadline := in.now.Add(in.window)
		e.CounterPartyConfirmationDeadline = &deadline
		e.UpdatedAt = in.now
		return []events.Type{events.EscrowFunded}, nil

	case StateOnePartyFunded:
		if !ev.OtherPartyFunded {
			// The same leg confirmed again (a superseding attestation):
			// state already reflects it.
			return nil, rejectNoOp(KindIllegalTransition, "state",
				"escrow already records %s as funded", ev.Party)
		}
		e.State = StateCompletelyFunded
		e.CounterPartyConfirmationDeadline = nil
		e.UpdatedAt = in.now
		return []events.Type{events.EscrowCompleted}, nil

	case StateCompletelyFunded:
		return nil, rejectNoOp(KindIllegalTransition, "state", "escrow is already completely funded")

	default:
		return nil, reject(KindIllegalTransition, "state",
			"cannot record funding in state %s", e.State)
	}
}

func applyExpire(e *Escrow, in machineInput) ([]events.Type, error) {
	if e.State == StateExpired {
		return nil, rejectNoOp(KindAlreadyTerminal, "state", "escrow already expired")
	}
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}
	if e.State != StateOnePartyFunded {
		return nil, reject(KindIllegalTransition, "state",
			"no confirmation deadline pending in state %s", e.State)
	}
	if e.CounterPartyConfirmationDeadline == nil || in.now.Before(*e.CounterPartyConfirmationDeadline) {
		return nil, reject(KindIllegalTransition, "deadline", "confirmation deadline has not elapsed")
	}

	e.State = StateExpired
	e.UpdatedAt = in.now
	return []events.Type{events.EscrowExpired}, nil
}

func applyRelease(e *Escrow, ev ReleaseEvent, in machineInput) ([]events.Type, error) {
	if e.State == StateReleased {
		return nil, rejectNoOp(KindAlreadyTerminal, "state", "escrow already released")
	}
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}

	role := e.PartyOf(ev.Actor.ID)
	if role == "" && !ev.Actor.Admin {
		return nil, reject(KindUnauthorized, "actor", "actor is not a party to this escrow")
	}

	if e.State != StateCompletelyFunded {
		return nil, reject(KindIllegalTransition, "state",
			"release requires a completely funded escrow, state is %s", e.State)
	}

	if role != "" {
		// Mutual-confirm path: record this party's confirmation.
		if e.ConfirmedFunding(role) && !e.ConfirmedFunding(otherRole(role)) {
			return nil, rejectNoOp(KindIllegalTransition, "state",
				"%s already confirmed, waiting for counterparty", role)
		}
		if role == ledger.RoleBuyer {
			e.BuyerConfirmedFunding = true
		} else {
			e.SellerConfirmedFunding = true
		}
	}

	if !e.BuyerConfirmedFunding || !e.SellerConfirmedFunding {
		if ev.Actor.Admin && role == "" {
			return nil, reject(KindIllegalTransition, "state",
				"admin release requires both parties' funding confirmations")
		}
		// Party confirmation recorded; escrow stays completely funded.
		e.UpdatedAt = in.now
		return nil, nil
	}

	e.State = StateReleased
	now := in.now
	e.ResolvedAt = &now
	e.UpdatedAt = in.now
	return []events.Type{events.EscrowReleased}, nil
}

func applyDispute(e *Escrow, ev DisputeEvent, in machineInput) ([]events.Type, error) {
	if e.State == StateDisputed {
		return nil, rejectNoOp(KindIllegalTransition, "state", "escrow already disputed")
	}
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}

	role := e.PartyOf(ev.Actor.ID)
	if role == "" {
		return nil, reject(KindUnauthorized, "actor", "only a party can dispute")
	}

	e.State = StateDisputed
	e.DisputedBy = ev.Actor.ID
	e.DisputeReason = ev.Reason
	e.CounterPartyConfirmationDeadline = nil
	e.UpdatedAt = in.now
	return []events.Type{events.EscrowDisputed}, nil
}

func applyCancel(e *Escrow, ev CancelEvent, in machineInput) ([]events.Type, error) {
	if e.State == StateCancelled {
		return nil, rejectNoOp(KindAlreadyTerminal, "state", "escrow already cancelled")
	}
	if e.IsTerminal() {
		return nil, terminalRejection(e)
	}

	if ev.Actor.ID != e.InitiatorID() {
		return nil, reject(KindUnauthorized, "actor", "only the initiator can cancel")
	}
	if e.State != StateInitialized && e.State != StateOnePartyFunded {
		return nil, reject(KindIllegalTransition, "state",
			"cannot cancel in state %s", e.State)
	}
	if ev.CounterpartyHasFunds {
		return nil, reject(KindIllegalTransition, "state",
			"counterparty has confirmed funds; dispute instead of cancelling")
	}

	e.State = StateCancelled
	e.CounterPartyConfirmationDeadline = nil
	now := in.now
	e.ResolvedAt = &now
	e.UpdatedAt = in.now
	return []events.Type{events.EscrowCancelled}, nil
}

func applyResolve(e *Escrow, ev ResolveEvent, in machineInput) ([]events.Type, error) {
	if !ev.Actor.Admin {
		return nil, reject(KindUnauthorized, "actor", "only an admin can resolve a dispute")
	}
	if e.State != StateDisputed {
		return nil, reject(KindIllegalTransition, "state",
			"resolve requires a disputed escrow, state is %s", e.State)
	}
	if e.Resolution != "" {
		return nil, rejectNoOp(KindAlreadyTerminal, "state", "dispute already resolved")
	}
	switch ev.Resolution {
	case ResolutionReleaseToSeller, ResolutionRefundToBuyer, ResolutionSplit:
	default:
		return nil, reject(KindConfigurationMismatch, "resolution",
			"unknown resolution %q", ev.Resolution)
	}

	e.Resolution = ev.Resolution
	now := in.now
	e.ResolvedAt = &now
	e.UpdatedAt = in.now
	return []events.Type{events.EscrowResolved}, nil
}

func terminalRejection(e *Escrow) *Rejection {
	return reject(KindAlreadyTerminal, "state", "escrow is closed in state %s", e.State)
}
