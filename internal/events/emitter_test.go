package events

import (
	"log/slog"
	"strings"
	"testing"
)

func TestEmitter_DeliversToAllSinks(t *testing.T) {
	var got []*Event
	sink := SinkFunc(func(e *Event) { got = append(got, e) })

	em := NewEmitter(slog.Default(), sink, sink)
	em.Emit(EscrowFunded, "esc_1", map[string]any{"party": "buyer"})

	if len(got) != 2 {
		t.Fatalf("expected delivery to both sinks, got %d", len(got))
	}
	if got[0].Type != EscrowFunded || got[0].EscrowID != "esc_1" {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if !strings.HasPrefix(got[0].ID, "evt_") {
		t.Errorf("event ID missing prefix: %s", got[0].ID)
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var em *Emitter
	em.Emit(EscrowExpired, "esc_1", nil) // must not panic
}
