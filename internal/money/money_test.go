package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("1234.56780000")
	require.NoError(t, err)
	assert.Equal(t, "1234.56780000", Format(d))

	_, err = Parse("0.123456789") // 9 places
	assert.Error(t, err)

	_, err = Parse("not-a-number")
	assert.Error(t, err)

	d, err = Parse("-5")
	require.NoError(t, err)
	assert.True(t, d.IsNegative())
}

func TestParsePositive(t *testing.T) {
	_, err := ParsePositive("0")
	assert.Error(t, err)

	_, err = ParsePositive("-1")
	assert.Error(t, err)

	d, err := ParsePositive("0.00000001")
	require.NoError(t, err)
	assert.True(t, d.IsPositive())
}

func TestValidCurrency(t *testing.T) {
	for _, ok := range []string{"USD", "USDC", "BTC", "EUR", "USDT0"} {
		assert.True(t, ValidCurrency(ok), ok)
	}
	for _, bad := range []string{"", "usd", "U", "TOOLONGCODE1", "US D"} {
		assert.False(t, ValidCurrency(bad), bad)
	}
}
