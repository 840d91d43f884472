package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/core"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		code   core.Currency
		want   string
	}{
		{"usd with grouping", "1234.5", core.USD, "$1,234.50"},
		{"euro symbol", "10", core.EUR, "€10.00"},
		{"multi-char symbol", "9.99", core.MXN, "Mex$9.99"},
		{"fiat rounds to cents", "8.3333333", core.GBP, "£8.33"},
		{"btc keeps satoshis", "0.00012345", core.BTC, "0.00012345 BTC"},
		{"btc trims trailing zeros to two", "1.5", core.BTC, "1.50 BTC"},
		{"eth six decimals", "0.1234567", core.ETH, "0.123457 ETH"},
		{"stable coin two decimals", "15.499", core.USDT, "15.50 USDT"},
		{"shib large grouped", "380000", core.SHIB, "380,000.00 SHIB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(decimal.RequireFromString(tt.amount), tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_UnknownCurrency(t *testing.T) {
	_, err := Format(decimal.NewFromInt(1), "XYZ")
	assert.ErrorIs(t, err, core.ErrUnknownCurrency)
}

func TestPrecision(t *testing.T) {
	assert.Equal(t, 2, Precision(core.USD))
	assert.Equal(t, 8, Precision(core.BTC))
	assert.Equal(t, 8, Precision(core.WBTC))
	assert.Equal(t, 8, Precision(core.SHIB))
	assert.Equal(t, 2, Precision(core.DAI))
	assert.Equal(t, "", Symbol(core.BTC))
	assert.Equal(t, "₹", Symbol(core.INR))
}
