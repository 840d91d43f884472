// Package rates keeps the shared exchange-rate table fresh. It fetches fiat
// and crypto rates from redundant public endpoints, normalizes every provider
// payload into "units per 1 USD" and merges the result over the last known
// table, falling back to the embedded table when every endpoint is down.
package rates

import (
	"fmt"
	"net/url"
	"strings"
)

// Group separates the two independently fetched endpoint lists.
type Group string

const (
	GroupFiat   Group = "fiat"
	GroupCrypto Group = "crypto"
)

// ProviderKind selects the normalizer for an endpoint's payload.
type ProviderKind string

const (
	KindFiat          ProviderKind = "fiat"
	KindCoinCap       ProviderKind = "coincap"
	KindCoinGecko     ProviderKind = "coingecko"
	KindCoinMarketCap ProviderKind = "coinmarketcap"
)

const coinMarketCapKeyHeader = "X-CMC_PRO_API_KEY"

// Endpoint is one rate source in a priority list.
type Endpoint struct {
	URL     string
	Group   Group
	Kind    ProviderKind
	Headers map[string]string
}

var (
	defaultFiatURLs = []string{
		"https://api.exchangerate-api.com/v4/latest/USD",
		"https://api.fixer.io/latest?base=USD",
		"https://open.er-api.com/v6/latest/USD",
	}
	defaultCryptoURLs = []string{
		"https://api.coincap.io/v2/assets",
		"https://api.coingecko.com/api/v3/simple/price",
		"https://pro-api.coinmarketcap.com/v1/cryptocurrency/listings/latest",
	}
)

// DefaultFiatEndpoints returns the built-in fiat endpoints.
func DefaultFiatEndpoints() []Endpoint {
	eps, _ := ParseEndpoints(GroupFiat, defaultFiatURLs, "")
	return eps
}

// DefaultCryptoEndpoints returns the built-in crypto endpoints. cmcKey is
// sent to CoinMarketCap, which rejects anonymous requests.
func DefaultCryptoEndpoints(cmcKey string) []Endpoint {
	eps, _ := ParseEndpoints(GroupCrypto, defaultCryptoURLs, cmcKey)
	return eps
}

// ParseEndpoints builds endpoints for group from raw URLs, detecting each
// provider from its host. Crypto URLs must belong to a known provider since
// their payloads have no common shape.
func ParseEndpoints(group Group, rawURLs []string, cmcKey string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(rawURLs))
	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s endpoint %q", group, raw)
		}

		ep := Endpoint{URL: raw, Group: group}
		switch group {
		case GroupFiat:
			ep.Kind = KindFiat
		case GroupCrypto:
			kind, ok := detectCryptoKind(u.Host)
			if !ok {
				return nil, fmt.Errorf("unknown crypto provider for endpoint %q", raw)
			}
			ep.Kind = kind
		default:
			return nil, fmt.Errorf("unknown endpoint group %q", group)
		}

		switch ep.Kind {
		case KindCoinGecko:
			ep.URL = withCoinGeckoQuery(u)
		case KindCoinMarketCap:
			if cmcKey != "" {
				ep.Headers = map[string]string{coinMarketCapKeyHeader: cmcKey}
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

func detectCryptoKind(host string) (ProviderKind, bool) {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "coincap"):
		return KindCoinCap, true
	case strings.Contains(host, "coingecko"):
		return KindCoinGecko, true
	case strings.Contains(host, "coinmarketcap"):
		return KindCoinMarketCap, true
	}
	return "", false
}

// withCoinGeckoQuery asks CoinGecko for USD prices of every supported coin
// unless the URL already names its ids.
func withCoinGeckoQuery(u *url.URL) string {
	q := u.Query()
	if q.Get("ids") == "" {
		q.Set("ids", strings.Join(coinGeckoIDList(), ","))
	}
	if q.Get("vs_currencies") == "" {
		q.Set("vs_currencies", "usd")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
