package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"subtrack/internal/currency"
	"subtrack/internal/log"
)

const maxPayloadBytes = 4 << 20

// ErrRateFetch reports that every endpoint of a group failed.
var ErrRateFetch = errors.New("rate fetch failed")

// EndpointError describes why one endpoint was skipped.
type EndpointError struct {
	URL    string
	Status int
	Err    error
}

func (e *EndpointError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("endpoint %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("endpoint %s: %v", e.URL, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// Fetcher walks endpoint priority lists.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// NewFetcher returns a Fetcher bounding every request by timeout.
func NewFetcher(client *http.Client, timeout time.Duration, logger *log.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Fetcher{client: client, timeout: timeout, logger: logger}
}

// FetchGroup tries endpoints in order and returns the first normalized table.
// A slow or failing endpoint is abandoned and the next one tried.
func (f *Fetcher) FetchGroup(ctx context.Context, group Group, endpoints []Endpoint) (currency.Rates, error) {
	var errs []error
	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rates, err := f.fetchEndpoint(ctx, ep)
		if err == nil {
			return rates, nil
		}
		f.logger.WarnContext(ctx, "Rate endpoint failed",
			log.FieldEndpoint, ep.URL,
			"group", string(group),
			log.FieldError, err.Error())
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no %s endpoints configured", ErrRateFetch, group)
	}
	return nil, fmt.Errorf("%w: all %s endpoints failed: %w", ErrRateFetch, group, errors.Join(errs...))
}

func (f *Fetcher) fetchEndpoint(ctx context.Context, ep Endpoint) (currency.Rates, error) {
	normalize, err := GetNormalizer(ep.Kind)
	if err != nil {
		return nil, &EndpointError{URL: ep.URL, Err: err}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return nil, &EndpointError{URL: ep.URL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &EndpointError{URL: ep.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &EndpointError{URL: ep.URL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, &EndpointError{URL: ep.URL, Err: err}
	}
	rates, err := normalize(body)
	if err != nil {
		return nil, &EndpointError{URL: ep.URL, Err: err}
	}
	return rates, nil
}

// FetchAll fetches the fiat and crypto groups concurrently. One group failing
// does not discard the other; an error is returned only when both fail.
func (f *Fetcher) FetchAll(ctx context.Context, fiat, crypto []Endpoint) (currency.Rates, error) {
	var (
		fiatRates, cryptoRates currency.Rates
		fiatErr, cryptoErr     error
	)

	// Goroutines record their own error so that Wait never cancels the sibling.
	var g errgroup.Group
	g.Go(func() error {
		fiatRates, fiatErr = f.FetchGroup(ctx, GroupFiat, fiat)
		return nil
	})
	g.Go(func() error {
		cryptoRates, cryptoErr = f.FetchGroup(ctx, GroupCrypto, crypto)
		return nil
	})
	_ = g.Wait()

	if fiatErr != nil && cryptoErr != nil {
		return nil, errors.Join(fiatErr, cryptoErr)
	}

	out := make(currency.Rates, len(fiatRates)+len(cryptoRates))
	for c, r := range fiatRates {
		out[c] = r
	}
	for c, r := range cryptoRates {
		out[c] = r
	}
	return out, nil
}
