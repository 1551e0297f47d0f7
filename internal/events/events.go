// Package events defines the domain events the settlement core emits after
// commit. Delivery is fire-and-forget: the notification and dashboard
// collaborators consume them at-least-once, and a failed delivery never
// rolls back a settled transition.
package events

import (
	"time"
)

// Type identifies a domain event.
type Type string

const (
	EscrowInitiated Type = "escrow.initiated"
	EscrowFunded    Type = "escrow.funded"    // one party fully funded
	EscrowCompleted Type = "escrow.completed" // both parties fully funded
	EscrowReleased  Type = "escrow.released"
	EscrowDisputed  Type = "escrow.disputed"
	EscrowResolved  Type = "escrow.resolved"
	EscrowCancelled Type = "escrow.cancelled"
	EscrowExpired   Type = "escrow.expired"
)

// Event is a committed state change, addressed by escrow.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	EscrowID  string         `json:"escrowId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives emitted events. Implementations must not block the caller;
// slow consumers drop rather than backpressure the settlement path.
type Sink interface {
	Deliver(event *Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event *Event)

// Deliver implements Sink.
func (f SinkFunc) Deliver(event *Event) { f(event) }
