package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"subtrack/internal/core"
)

const fiatDecimals = 2

// cryptoDecimals reflects the typical unit value of each token: high-value
// coins keep satoshi-level precision, stable coins keep cents.
var cryptoDecimals = map[core.Currency]int{
	core.BTC:   8,
	core.ETH:   6,
	core.USDT:  2,
	core.BNB:   6,
	core.XRP:   4,
	core.USDC:  2,
	core.SOL:   4,
	core.ADA:   4,
	core.DOGE:  4,
	core.TRX:   4,
	core.TON:   4,
	core.DOT:   4,
	core.MATIC: 4,
	core.DAI:   2,
	core.WBTC:  8,
	core.AVAX:  4,
	core.SHIB:  8,
	core.LTC:   6,
	core.LINK:  4,
	core.BCH:   6,
}

var symbols = map[core.Currency]string{
	core.USD: "$",
	core.EUR: "€",
	core.GBP: "£",
	core.JPY: "¥",
	core.AUD: "A$",
	core.CAD: "C$",
	core.CHF: "Fr",
	core.CNY: "¥",
	core.HKD: "HK$",
	core.NZD: "NZ$",
	core.SEK: "kr",
	core.KRW: "₩",
	core.SGD: "S$",
	core.NOK: "kr",
	core.MXN: "Mex$",
	core.INR: "₹",
	core.RUB: "₽",
	core.ZAR: "R",
	core.TRY: "₺",
	core.BRL: "R$",
	core.HUF: "Ft",
}

// Precision returns the maximum number of fraction digits shown for c.
func Precision(c core.Currency) int {
	if places, ok := cryptoDecimals[c]; ok {
		return places
	}
	return fiatDecimals
}

// Symbol returns the display symbol for c, or "" when c is shown by code.
func Symbol(c core.Currency) string {
	return symbols[c]
}

// Format renders amount with en-US digit grouping, at least two and at most
// Precision(c) fraction digits, prefixed by the currency symbol when one is
// known and suffixed by the code otherwise.
//
//	Format(1234.5, USD)     -> "$1,234.50"
//	Format(0.00012345, BTC) -> "0.00012345 BTC"
func Format(amount decimal.Decimal, c core.Currency) (string, error) {
	if !c.IsValid() {
		return "", fmt.Errorf("format %s: %w", c, core.ErrUnknownCurrency)
	}
	places := Precision(c)
	value := amount.Round(int32(places)).InexactFloat64()

	p := message.NewPrinter(language.AmericanEnglish)
	text := p.Sprint(number.Decimal(value,
		number.MinFractionDigits(fiatDecimals),
		number.MaxFractionDigits(places),
	))

	if sym, ok := symbols[c]; ok {
		return sym + text, nil
	}
	return text + " " + string(c), nil
}
