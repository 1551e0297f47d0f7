package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/ledger"
	"github.com/mbd888/escrowd/internal/testutil"
)

func pgEscrow() *Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Escrow{
		ID:                  idgen.Escrow(),
		BuyerID:             "user_pg_buyer",
		SellerID:            "user_pg_seller",
		IsBuyerInitiated:    true,
		TradeType:           TradeCryptoToCrypto,
		BuyCurrency:         "BTC",
		SellCurrency:        "ETH",
		BuyerDepositAmount:  decimal.RequireFromString("0.5"),
		SellerDepositAmount: decimal.RequireFromString("8.25"),
		FeePayer:            ledger.RoleBuyer,
		BuyerDepositWalletID:  "0x1111111111111111111111111111111111111111",
		SellerDepositWalletID: "0x2222222222222222222222222222222222222222",
		State:     StateInitialized,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	e := pgEscrow()
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.BuyerID, got.BuyerID)
	assert.Equal(t, e.SellerID, got.SellerID)
	assert.True(t, got.IsBuyerInitiated)
	assert.Equal(t, TradeCryptoToCrypto, got.TradeType)
	assert.True(t, got.BuyerDepositAmount.Equal(e.BuyerDepositAmount),
		"buyer amount: want %s got %s", e.BuyerDepositAmount, got.BuyerDepositAmount)
	assert.True(t, got.SellerDepositAmount.Equal(e.SellerDepositAmount))
	assert.Equal(t, ledger.RoleBuyer, got.FeePayer)
	assert.Equal(t, e.BuyerDepositWalletID, got.BuyerDepositWalletID)
	assert.Empty(t, got.BuyerDepositBankID)
	assert.Equal(t, StateInitialized, got.State)
	assert.Nil(t, got.CounterPartyConfirmationDeadline)
	assert.Equal(t, int64(1), got.Version)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Second)
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	_, err := store.Get(context.Background(), "esc_does_not_exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Update_VersionCompareAndSwap(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	e := pgEscrow()
	require.NoError(t, store.Create(ctx, e))

	// Two snapshots of the same stored state.
	first, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, e.ID)
	require.NoError(t, err)

	deadline := time.Now().UTC().Add(time.Hour)
	first.State = StateOnePartyFunded
	first.CounterPartyConfirmationDeadline = &deadline
	first.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version, "winner's snapshot version is bumped")

	second.State = StateDisputed
	second.UpdatedAt = time.Now().UTC()
	err = store.Update(ctx, second)
	assert.ErrorIs(t, err, ErrStaleWrite, "loser must see a stale write, not silently clobber")

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOnePartyFunded, got.State)
	require.NotNil(t, got.CounterPartyConfirmationDeadline)
	assert.WithinDuration(t, deadline, *got.CounterPartyConfirmationDeadline, time.Second)
}

func TestPostgresStore_Update_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	e := pgEscrow()
	err := store.Update(context.Background(), e)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListByUser(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	asBuyer := pgEscrow()
	require.NoError(t, store.Create(ctx, asBuyer))

	asSeller := pgEscrow()
	asSeller.BuyerID = "user_pg_other"
	asSeller.SellerID = "user_pg_buyer"
	asSeller.CreatedAt = asSeller.CreatedAt.Add(time.Second)
	require.NoError(t, store.Create(ctx, asSeller))

	unrelated := pgEscrow()
	unrelated.BuyerID = "user_pg_stranger_a"
	unrelated.SellerID = "user_pg_stranger_b"
	require.NoError(t, store.Create(ctx, unrelated))

	list, err := store.ListByUser(ctx, "user_pg_buyer", 10)
	require.NoError(t, err)
	require.Len(t, list, 2, "both sides of the trade count, unrelated escrows do not")
	assert.Equal(t, asSeller.ID, list[0].ID, "newest first")
	assert.Equal(t, asBuyer.ID, list[1].ID)

	limited, err := store.ListByUser(ctx, "user_pg_buyer", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, asSeller.ID, limited[0].ID)
}

func TestPostgresStore_ListFundingExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdue := pgEscrow()
	overdue.State = StateOnePartyFunded
	overdue.CounterPartyConfirmationDeadline = &past
	require.NoError(t, store.Create(ctx, overdue))

	pending := pgEscrow()
	pending.State = StateOnePartyFunded
	pending.CounterPartyConfirmationDeadline = &future
	require.NoError(t, store.Create(ctx, pending))

	// Wrong state: a stale deadline on a completed escrow is not sweepable.
	completed := pgEscrow()
	completed.State = StateCompletelyFunded
	require.NoError(t, store.Create(ctx, completed))

	expired, err := store.ListFundingExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
}
