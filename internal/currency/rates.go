// Package currency converts amounts between the supported fiat and crypto
// currencies and formats them for display.
//
// All rates are expressed as "units of the currency per 1 USD"; conversions
// always pivot through USD.
package currency

import (
	"fmt"
	"math"

	"subtrack/internal/core"
)

// Rates maps a currency to its units per 1 USD.
type Rates map[core.Currency]float64

var fallbackRates = Rates{
	core.USD: 1,
	core.EUR: 0.92,
	core.GBP: 0.79,
	core.JPY: 148.50,
	core.AUD: 1.52,
	core.CAD: 1.35,
	core.CHF: 0.87,
	core.CNY: 7.19,
	core.HKD: 7.82,
	core.NZD: 1.64,
	core.SEK: 10.42,
	core.KRW: 1325.76,
	core.SGD: 1.34,
	core.NOK: 10.51,
	core.MXN: 17.05,
	core.INR: 83.12,
	core.RUB: 92.50,
	core.ZAR: 18.87,
	core.TRY: 30.75,
	core.BRL: 4.95,
	core.HUF: 360,

	core.BTC:   0.000024,
	core.ETH:   0.00037,
	core.USDT:  1,
	core.BNB:   0.0033,
	core.XRP:   1.85,
	core.USDC:  1,
	core.SOL:   0.014,
	core.ADA:   2.1,
	core.DOGE:  13.5,
	core.TRX:   11.2,
	core.TON:   0.45,
	core.DOT:   0.16,
	core.MATIC: 1.2,
	core.DAI:   1,
	core.WBTC:  0.000024,
	core.AVAX:  0.037,
	core.SHIB:  38000,
	core.LTC:   0.012,
	core.LINK:  0.075,
	core.BCH:   0.004,
}

// FallbackRates returns a copy of the embedded rate table used until a live
// fetch succeeds.
func FallbackRates() Rates {
	return fallbackRates.Clone()
}

// Clone returns an independent copy of r.
func (r Rates) Clone() Rates {
	out := make(Rates, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new table holding r overlaid with the usable values of
// live. Codes missing from live keep their previous value, so a partial
// response never erases a known rate.
func (r Rates) Merge(live Rates) Rates {
	out := r.Clone()
	for code, rate := range live {
		if !code.IsValid() || !usable(rate) {
			continue
		}
		out[code] = rate
	}
	return out
}

// Lookup returns the rate for c, falling back to the embedded table when the
// live table has no usable value.
func (r Rates) Lookup(c core.Currency) (float64, error) {
	if rate, ok := r[c]; ok && usable(rate) {
		return rate, nil
	}
	if rate, ok := fallbackRates[c]; ok {
		return rate, nil
	}
	return 0, fmt.Errorf("no rate for %q: %w", c, core.ErrUnknownCurrency)
}

func usable(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}
