package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newBank(id, escrowID string, role Role, amount string) *BankBalance {
	return &BankBalance{
		ID: id, EscrowID: escrowID, Role: role,
		Amount: d(amount), Currency: "USD", BankID: "bank_main",
		CreatedAt: time.Now(),
	}
}

func newWallet(id, escrowID string, role Role, amount string) *WalletBalance {
	return &WalletBalance{
		ID: id, EscrowID: escrowID, Role: role,
		Amount: d(amount), Currency: "USDC",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		CreatedAt:     time.Now(),
	}
}

func TestConfirmedTotal_OnlyAdminConfirmedRowsCount(t *testing.T) {
	store := NewMemoryStore()
	led := New(store)
	ctx := context.Background()

	require.NoError(t, store.CreateBank(ctx, newBank("bnk_1", "esc_1", RoleBuyer, "600")))
	require.NoError(t, store.CreateBank(ctx, newBank("bnk_2", "esc_1", RoleBuyer, "400")))

	c := Commitment{EscrowID: "esc_1", Role: RoleBuyer, Rail: RailBank, Currency: "USD", Amount: d("1000")}

	total, err := led.ConfirmedTotal(ctx, c)
	require.NoError(t, err)
	assert.True(t, total.IsZero(), "unconfirmed rows must not count")

	require.NoError(t, store.Confirm(ctx, "bnk_1", time.Now()))
	total, err = led.ConfirmedTotal(ctx, c)
	require.NoError(t, err)
	assert.True(t, total.Equal(d("600")))

	funded, err := led.IsFullyFunded(ctx, c)
	require.NoError(t, err)
	assert.False(t, funded)

	require.NoError(t, store.Confirm(ctx, "bnk_2", time.Now()))
	funded, err = led.IsFullyFunded(ctx, c)
	require.NoError(t, err)
	assert.True(t, funded)
}

func TestConfirm_IsSingleShot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateWallet(ctx, newWallet("wal_1", "esc_1", RoleSeller, "10")))
	require.NoError(t, store.Confirm(ctx, "wal_1", time.Now()))

	err := store.Confirm(ctx, "wal_1", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)

	err = store.Confirm(ctx, "wal_missing", time.Now())
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestSupersede_PreservesAuditTrail(t *testing.T) {
	store := NewMemoryStore()
	led := New(store)
	ctx := context.Background()

	orig := newBank("bnk_1", "esc_1", RoleSeller, "500")
	orig.ConfirmedByAdmin = true
	now := time.Now()
	orig.ConfirmedAt = &now
	require.NoError(t, store.CreateBank(ctx, orig))

	repl := newBank("bnk_2", "esc_1", RoleSeller, "450")
	repl.ConfirmedByAdmin = true
	repl.ConfirmedAt = &now
	require.NoError(t, store.SupersedeBank(ctx, "bnk_1", repl))

	// Old row is retained, marked, and excluded from totals.
	all, err := store.ListByEscrow(ctx, "esc_1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	total, err := led.ConfirmedTotal(ctx, Commitment{
		EscrowID: "esc_1", Role: RoleSeller, Rail: RailBank, Currency: "USD", Amount: d("500"),
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(d("450")), "superseded row still counted: %s", total)

	// A superseded row cannot be superseded again.
	err = store.SupersedeBank(ctx, "bnk_1", newBank("bnk_3", "esc_1", RoleSeller, "400"))
	assert.ErrorIs(t, err, ErrSuperseded)

	// Nor confirmed.
	err = store.Confirm(ctx, "bnk_1", time.Now())
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestTotals_AreScopedPerEscrowRoleRailCurrency(t *testing.T) {
	store := NewMemoryStore()
	led := New(store)
	ctx := context.Background()

	rows := []*WalletBalance{
		newWallet("wal_1", "esc_1", RoleBuyer, "5"),
		newWallet("wal_2", "esc_1", RoleSeller, "7"),
		newWallet("wal_3", "esc_2", RoleBuyer, "9"),
	}
	for _, r := range rows {
		require.NoError(t, store.CreateWallet(ctx, r))
		require.NoError(t, store.Confirm(ctx, r.ID, time.Now()))
	}
	// Bank row in the same escrow must not bleed into wallet totals.
	b := newBank("bnk_1", "esc_1", RoleBuyer, "100")
	require.NoError(t, store.CreateBank(ctx, b))
	require.NoError(t, store.Confirm(ctx, "bnk_1", time.Now()))

	total, err := led.ConfirmedTotal(ctx, Commitment{
		EscrowID: "esc_1", Role: RoleBuyer, Rail: RailWallet, Currency: "USDC", Amount: d("5"),
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(d("5")), "got %s", total)

	// Different currency on the same leg counts separately.
	total, err = led.ConfirmedTotal(ctx, Commitment{
		EscrowID: "esc_1", Role: RoleBuyer, Rail: RailWallet, Currency: "BTC", Amount: d("1"),
	})
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestGet_RailAgnosticView(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateBank(ctx, newBank("bnk_1", "esc_1", RoleBuyer, "100")))
	require.NoError(t, store.CreateWallet(ctx, newWallet("wal_1", "esc_1", RoleSeller, "2")))

	b, err := store.Get(ctx, "bnk_1")
	require.NoError(t, err)
	assert.Equal(t, RailBank, b.Rail)
	assert.Equal(t, "bank_main", b.Target)

	w, err := store.Get(ctx, "wal_1")
	require.NoError(t, err)
	assert.Equal(t, RailWallet, w.Rail)

	_, err = store.Get(ctx, "bnk_none")
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}
