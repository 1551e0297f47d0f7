package escrow

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/escrowd/internal/ledger"
)

func TestSweep_ExpiresOverdueEscrows(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithFundingWindow(time.Millisecond)
	ctx := context.Background()

	overdue, err := svc.Initiate(ctx, buyer, cryptoTrade())
	require.NoError(t, err)
	fund(t, svc, overdue, buyer, ledger.RailWallet, "1000")

	// A second trade that never funds has no deadline and must survive.
	idle, err := svc.Initiate(ctx, seller, fiatTrade())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := NewMonitor(svc, svc.store, time.Minute, 100, logger)
	mon.Sweep(ctx)

	got, err := svc.Get(ctx, admin, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)

	got, err = svc.Get(ctx, admin, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, got.State)
}

func TestSweep_IsIdempotent(t *testing.T) {
	svc, sink := newTestService(t)
	svc.WithFundingWindow(time.Millisecond)
	ctx := context.Background()

	e, err := svc.Initiate(ctx, buyer, cryptoTrade())
	require.NoError(t, err)
	fund(t, svc, e, buyer, ledger.RailWallet, "1000")
	time.Sleep(5 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := NewMonitor(svc, svc.store, time.Minute, 100, logger)

	mon.Sweep(ctx)
	mon.Sweep(ctx)
	mon.Sweep(ctx)

	got, err := svc.Get(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)

	// Exactly one expiry event despite repeated sweeps.
	count := 0
	sink.mu.Lock()
	for _, typ := range sink.types {
		if typ == "escrow.expired" {
			count++
		}
	}
	sink.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMonitor_StartStop(t *testing.T) {
	svc, _ := newTestService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := NewMonitor(svc, svc.store, 10*time.Millisecond, 100, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Start(ctx)

	require.Eventually(t, mon.Running, time.Second, time.Millisecond)
	mon.Stop()
	require.Eventually(t, func() bool { return !mon.Running() }, time.Second, time.Millisecond)
}
