package events

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/escrowd/internal/idgen"
)

var emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrowd",
	Subsystem: "events",
	Name:      "emit_total",
	Help:      "Total domain events emitted by type.",
}, []string{"type"})

func init() {
	prometheus.MustRegister(emitTotal)
}

// Emitter fans committed domain events out to registered sinks.
// A nil *Emitter is valid and drops everything, so callers never nil-check.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter delivering to the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

// Emit builds and delivers an event to every sink.
func (e *Emitter) Emit(typ Type, escrowID string, data map[string]any) {
	if e == nil {
		return
	}
	emitTotal.WithLabelValues(string(typ)).Inc()
	event := &Event{
		ID:        idgen.Event(),
		Type:      typ,
		EscrowID:  escrowID,
		Timestamp: time.Now(),
		Data:      data,
	}
	e.logger.Debug("domain event", "type", typ, "escrow", escrowID)
	for _, s := range e.sinks {
		s.Deliver(event)
	}
}
