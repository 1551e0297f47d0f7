package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Monitor periodically expires escrows whose counterparty confirmation
// deadline has passed.
type Monitor struct {
	service   *Service
	store     Store
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewMonitor creates a deadline monitor sweeping at the given interval.
func NewMonitor(service *Service, store Store, interval time.Duration, batchSize int, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Monitor{
		service:   service,
		store:     store,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.running.Store(true)
	defer m.running.Store(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeSweep(ctx)
		}
	}
}

// Stop signals the monitor to stop.
func (m *Monitor) Stop() {
	select {
	case m.stop <- struct{}{}:
	default:
	}
}

func (m *Monitor) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in deadline monitor", "panic", fmt.Sprint(r))
		}
	}()
	m.Sweep(ctx)
}

// Sweep expires every escrow past its confirmation deadline. Exported so
// tests and admin tooling can trigger a pass directly.
//
// The listing is a snapshot; by the time an escrow is locked it may already
// have funded, disputed, or been expired by another node. Those races
// surface as rejections from the transition table and are skipped, so
// sweeping is idempotent.
func (m *Monitor) Sweep(ctx context.Context) {
	expired, err := m.store.ListFundingExpired(ctx, time.Now(), m.batchSize)
	if err != nil {
		m.logger.Warn("failed to list expired escrows", "error", err)
		return
	}

	for _, e := range expired {
		_, err := m.service.Expire(ctx, e.ID)
		var rej *Rejection
		switch {
		case err == nil:
			m.logger.Info("escrow expired",
				"escrow", e.ID, "deadline", e.CounterPartyConfirmationDeadline)
		case IsNoOp(err):
			// Another sweep already expired it.
		case errors.As(err, &rej):
			// Funded, disputed, or cancelled between listing and locking.
			m.logger.Debug("escrow no longer expirable", "escrow", e.ID, "reason", rej.Message)
		default:
			m.logger.Warn("failed to expire escrow", "escrow", e.ID, "error", err)
		}
	}
}
