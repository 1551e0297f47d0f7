package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_CollectsFailures(t *testing.T) {
	errs := Validate(
		Required("buyer_id", ""),
		ValidAmount("amount", "-5"),
		ValidCurrency("currency", "usd"),
	)
	assert.Len(t, errs, 3)
	assert.Equal(t, "buyer_id", errs[0].Field)
	assert.Contains(t, errs.Error(), "buyer_id")
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("buyer_id", "usr_1"),
		ValidAmount("amount", "1000.00"),
		ValidCurrency("currency", "USDC"),
		ValidWalletAddress("wallet", "0x52908400098527886E0F7030069857D2E4169EE7"),
	)
	assert.Empty(t, errs)
}

func TestValidAmount_OptionalWhenEmpty(t *testing.T) {
	assert.Nil(t, ValidAmount("amount", "")())
	assert.NotNil(t, ValidAmount("amount", "0")())
	assert.NotNil(t, ValidAmount("amount", "abc")())
}

func TestIsValidWalletAddress(t *testing.T) {
	assert.True(t, IsValidWalletAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsValidWalletAddress("0x123"))
	assert.False(t, IsValidWalletAddress("not-an-address"))
}
