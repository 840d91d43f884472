package rates

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"subtrack/internal/core"
	"subtrack/internal/currency"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyPayload is returned when a payload decodes but yields no usable rate.
var ErrEmptyPayload = errors.New("payload contains no usable rates")

// Normalizer turns one provider payload into units-per-USD rates.
type Normalizer func(body []byte) (currency.Rates, error)

var normalizers = map[ProviderKind]Normalizer{
	KindFiat:          normalizeFiat,
	KindCoinCap:       normalizeCoinCap,
	KindCoinGecko:     normalizeCoinGecko,
	KindCoinMarketCap: normalizeCoinMarketCap,
}

// GetNormalizer returns the normalizer registered for kind.
func GetNormalizer(kind ProviderKind) (Normalizer, error) {
	n, ok := normalizers[kind]
	if !ok {
		return nil, fmt.Errorf("no normalizer for provider %q", kind)
	}
	return n, nil
}

var coinGeckoIDs = map[string]core.Currency{
	"bitcoin":          core.BTC,
	"ethereum":         core.ETH,
	"tether":           core.USDT,
	"binancecoin":      core.BNB,
	"ripple":           core.XRP,
	"usd-coin":         core.USDC,
	"solana":           core.SOL,
	"cardano":          core.ADA,
	"dogecoin":         core.DOGE,
	"tron":             core.TRX,
	"the-open-network": core.TON,
	"polkadot":         core.DOT,
	"matic-network":    core.MATIC,
	"dai":              core.DAI,
	"wrapped-bitcoin":  core.WBTC,
	"avalanche-2":      core.AVAX,
	"shiba-inu":        core.SHIB,
	"litecoin":         core.LTC,
	"chainlink":        core.LINK,
	"bitcoin-cash":     core.BCH,
}

func coinGeckoIDList() []string {
	ids := make([]string, 0, len(coinGeckoIDs))
	for id := range coinGeckoIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizeFiat reads the "rates" object when present, otherwise treats the
// whole body as a code->rate map. Fiat providers already quote units per USD.
func normalizeFiat(body []byte) (currency.Rates, error) {
	var envelope struct {
		Rates map[string]any `json:"rates"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode fiat payload: %w", err)
	}
	raw := envelope.Rates
	if len(raw) == 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode fiat payload: %w", err)
		}
	}

	out := make(currency.Rates)
	for code, v := range raw {
		c := core.Currency(strings.ToUpper(code))
		if !c.IsFiat() {
			continue
		}
		rate, ok := v.(float64)
		if !ok || rate <= 0 {
			continue
		}
		out[c] = rate
	}
	return nonEmpty(out)
}

// normalizeCoinCap reads data[].symbol with a string priceUsd.
func normalizeCoinCap(body []byte) (currency.Rates, error) {
	var payload struct {
		Data []struct {
			Symbol   string `json:"symbol"`
			PriceUSD string `json:"priceUsd"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode coincap payload: %w", err)
	}

	out := make(currency.Rates)
	for _, coin := range payload.Data {
		price, err := strconv.ParseFloat(coin.PriceUSD, 64)
		if err != nil {
			continue
		}
		addInverted(out, coin.Symbol, price)
	}
	return nonEmpty(out)
}

// normalizeCoinGecko reads {id: {usd: price}} and maps ids to tickers.
func normalizeCoinGecko(body []byte) (currency.Rates, error) {
	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode coingecko payload: %w", err)
	}

	out := make(currency.Rates)
	for id, quote := range payload {
		c, ok := coinGeckoIDs[strings.ToLower(id)]
		if !ok {
			continue
		}
		addInverted(out, string(c), quote.USD)
	}
	return nonEmpty(out)
}

// normalizeCoinMarketCap reads data[].symbol with quote.USD.price.
func normalizeCoinMarketCap(body []byte) (currency.Rates, error) {
	var payload struct {
		Data []struct {
			Symbol string `json:"symbol"`
			Quote  struct {
				USD struct {
					Price float64 `json:"price"`
				} `json:"USD"`
			} `json:"quote"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode coinmarketcap payload: %w", err)
	}

	out := make(currency.Rates)
	for _, coin := range payload.Data {
		addInverted(out, coin.Symbol, coin.Quote.USD.Price)
	}
	return nonEmpty(out)
}

// addInverted stores 1/priceUSD for supported crypto tickers. The first
// quote for a ticker wins since listings are ordered by market cap.
func addInverted(out currency.Rates, symbol string, priceUSD float64) {
	c := core.Currency(strings.ToUpper(strings.TrimSpace(symbol)))
	if !c.IsCrypto() || priceUSD <= 0 {
		return
	}
	if _, seen := out[c]; seen {
		return
	}
	out[c] = 1 / priceUSD
}

func nonEmpty(r currency.Rates) (currency.Rates, error) {
	if len(r) == 0 {
		return nil, ErrEmptyPayload
	}
	return r, nil
}
