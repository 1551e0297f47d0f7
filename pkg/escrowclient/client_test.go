package escrowclient

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/ledger"
)

func testAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := escrow.NewService(escrow.NewMemoryStore(), ledger.New(ledger.NewMemoryStore()), logger)

	r := gin.New()
	escrow.NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func initiateReq() escrow.InitiateRequest {
	return escrow.InitiateRequest{
		BuyerID:               "user_cb",
		SellerID:              "user_cs",
		TradeType:             "crypto_to_crypto",
		BuyCurrency:           "USDC",
		SellCurrency:          "ETH",
		BuyerDepositAmount:    "250",
		SellerDepositAmount:   "0.1",
		BuyerDepositWalletID:  "0x52908400098527886E0F7030069857D2E4169EE7",
		SellerDepositWalletID: "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
	}
}

func TestClient_Lifecycle(t *testing.T) {
	ts := testAPI(t)
	ctx := context.Background()

	buyerClient := New(ts.URL, "user_cb")
	sellerClient := New(ts.URL, "user_cs")
	adminClient := New(ts.URL, "user_ops", AsAdmin())

	e, err := buyerClient.Initiate(ctx, initiateReq())
	require.NoError(t, err)
	assert.Equal(t, escrow.StateInitialized, e.State)

	row, err := buyerClient.SubmitFunding(ctx, e.ID, escrow.FundRequest{
		Rail: "wallet", Amount: "250", EvidenceRef: "tx_buyer",
	})
	require.NoError(t, err)
	assert.False(t, row.ConfirmedByAdmin)

	e, err = adminClient.ConfirmBalance(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateOnePartyFunded, e.State)

	row, err = sellerClient.SubmitFunding(ctx, e.ID, escrow.FundRequest{
		Rail: "wallet", Amount: "0.1", EvidenceRef: "tx_seller",
	})
	require.NoError(t, err)
	e, err = adminClient.ConfirmBalance(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateCompletelyFunded, e.State)

	_, err = buyerClient.Release(ctx, e.ID)
	require.NoError(t, err)
	e, err = sellerClient.Release(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StateReleased, e.State)

	balances, err := buyerClient.Balances(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, balances, 2)
}

func TestClient_APIErrorsAreTyped(t *testing.T) {
	ts := testAPI(t)
	ctx := context.Background()

	outsider := New(ts.URL, "user_nobody")

	_, err := outsider.Get(ctx, "esc_nonexistent")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)

	buyerClient := New(ts.URL, "user_cb")
	e, err := buyerClient.Initiate(ctx, initiateReq())
	require.NoError(t, err)

	// Attestation is operator-only.
	row, err := buyerClient.SubmitFunding(ctx, e.ID, escrow.FundRequest{Rail: "wallet", Amount: "250"})
	require.NoError(t, err)
	_, err = buyerClient.ConfirmBalance(ctx, row.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestClient_ListScopedToActor(t *testing.T) {
	ts := testAPI(t)
	ctx := context.Background()

	buyerClient := New(ts.URL, "user_cb")
	_, err := buyerClient.Initiate(ctx, initiateReq())
	require.NoError(t, err)

	mine, err := buyerClient.List(ctx)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := New(ts.URL, "user_unrelated").List(ctx)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}
