package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/escrowd/internal/events"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestWants_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true}}
	if !client.wants(&events.Event{Type: events.EscrowFunded}) {
		t.Error("AllEvents client should receive every event")
	}
}

func TestWants_EventTypeFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		EventTypes: []events.Type{events.EscrowDisputed, events.EscrowResolved},
	}}

	if !client.wants(&events.Event{Type: events.EscrowDisputed}) {
		t.Error("should receive disputed events")
	}
	if client.wants(&events.Event{Type: events.EscrowFunded}) {
		t.Error("should NOT receive funded events")
	}
}

func TestWants_EscrowFilter(t *testing.T) {
	client := &Client{sub: Subscription{EscrowIDs: []string{"esc_mine"}}}

	if !client.wants(&events.Event{Type: events.EscrowFunded, EscrowID: "esc_mine"}) {
		t.Error("should receive events for the watched escrow")
	}
	if client.wants(&events.Event{Type: events.EscrowFunded, EscrowID: "esc_other"}) {
		t.Error("should NOT receive events for other escrows")
	}
}

func TestWants_CombinedFilters(t *testing.T) {
	client := &Client{sub: Subscription{
		EventTypes: []events.Type{events.EscrowReleased},
		EscrowIDs:  []string{"esc_1"},
	}}

	if !client.wants(&events.Event{Type: events.EscrowReleased, EscrowID: "esc_1"}) {
		t.Error("matching type and escrow should pass")
	}
	if client.wants(&events.Event{Type: events.EscrowReleased, EscrowID: "esc_2"}) {
		t.Error("wrong escrow should fail even with matching type")
	}
	if client.wants(&events.Event{Type: events.EscrowFunded, EscrowID: "esc_1"}) {
		t.Error("wrong type should fail even with matching escrow")
	}
}

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{sub: Subscription{}}
	if !client.wants(&events.Event{Type: events.EscrowFunded}) {
		t.Error("no filters means receive everything")
	}
}

func TestHub_DeliverToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Deliver(&events.Event{
		ID: "evt_1", Type: events.EscrowCompleted, EscrowID: "esc_1", Timestamp: time.Now(),
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected a non-empty payload")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for delivery")
	}
}

func TestHub_FilteredDelivery(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []events.Type{events.EscrowExpired}},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Deliver(&events.Event{Type: events.EscrowFunded, EscrowID: "esc_1", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("client should not receive a filtered-out event")
	default:
	}

	h.Deliver(&events.Event{Type: events.EscrowExpired, EscrowID: "esc_1", Timestamp: time.Now()})
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Error("client should receive the expired event")
	}
}

func TestHub_StopsOnContextCancel(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}

	// Deliveries after shutdown are dropped, not blocked.
	h.Deliver(&events.Event{Type: events.EscrowFunded})
}
