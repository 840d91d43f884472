package core

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 fiat code or a crypto ticker.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	AUD Currency = "AUD"
	CAD Currency = "CAD"
	CHF Currency = "CHF"
	CNY Currency = "CNY"
	HKD Currency = "HKD"
	NZD Currency = "NZD"
	SEK Currency = "SEK"
	KRW Currency = "KRW"
	SGD Currency = "SGD"
	NOK Currency = "NOK"
	MXN Currency = "MXN"
	INR Currency = "INR"
	RUB Currency = "RUB"
	ZAR Currency = "ZAR"
	TRY Currency = "TRY"
	BRL Currency = "BRL"
	HUF Currency = "HUF"

	BTC   Currency = "BTC"
	ETH   Currency = "ETH"
	USDT  Currency = "USDT"
	BNB   Currency = "BNB"
	XRP   Currency = "XRP"
	USDC  Currency = "USDC"
	SOL   Currency = "SOL"
	ADA   Currency = "ADA"
	DOGE  Currency = "DOGE"
	TRX   Currency = "TRX"
	TON   Currency = "TON"
	DOT   Currency = "DOT"
	MATIC Currency = "MATIC"
	DAI   Currency = "DAI"
	WBTC  Currency = "WBTC"
	AVAX  Currency = "AVAX"
	SHIB  Currency = "SHIB"
	LTC   Currency = "LTC"
	LINK  Currency = "LINK"
	BCH   Currency = "BCH"
)

var fiatCurrencies = []Currency{
	USD, EUR, GBP, JPY, AUD, CAD, CHF, CNY, HKD, NZD,
	SEK, KRW, SGD, NOK, MXN, INR, RUB, ZAR, TRY, BRL, HUF,
}

var cryptoCurrencies = []Currency{
	BTC, ETH, USDT, BNB, XRP, USDC, SOL, ADA, DOGE, TRX,
	TON, DOT, MATIC, DAI, WBTC, AVAX, SHIB, LTC, LINK, BCH,
}

var (
	fiatSet   = toSet(fiatCurrencies)
	cryptoSet = toSet(cryptoCurrencies)
)

func toSet(list []Currency) map[Currency]struct{} {
	out := make(map[Currency]struct{}, len(list))
	for _, c := range list {
		out[c] = struct{}{}
	}
	return out
}

// FiatCurrencies returns the supported fiat codes.
func FiatCurrencies() []Currency {
	return append([]Currency(nil), fiatCurrencies...)
}

// CryptoCurrencies returns the supported crypto tickers.
func CryptoCurrencies() []Currency {
	return append([]Currency(nil), cryptoCurrencies...)
}

func (c Currency) IsFiat() bool {
	_, ok := fiatSet[c]
	return ok
}

func (c Currency) IsCrypto() bool {
	_, ok := cryptoSet[c]
	return ok
}

func (c Currency) IsValid() bool {
	return c.IsFiat() || c.IsCrypto()
}

// ParseCurrency normalizes s and checks it against the supported set.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}
