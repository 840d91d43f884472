package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/core"
	"subtrack/internal/currency"
	"subtrack/internal/rates"
	"subtrack/internal/services"
	"subtrack/internal/store/memory"
)

type fakeRates struct {
	snap      rates.Snapshot
	refreshes int
	err       error
	// block makes Refresh wait for the caller's context, like a refresh
	// stuck in retry backoff
	block bool
}

func (f *fakeRates) Snapshot() rates.Snapshot { return f.snap }

func (f *fakeRates) Refresh(ctx context.Context) error {
	f.refreshes++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func testTable() currency.Rates {
	return currency.Rates{core.USD: 1, core.EUR: 0.5, core.GBP: 0.8}
}

type testEnv struct {
	srv   *Server
	rates *fakeRates
	store *memory.Store
}

func newTestServer(t *testing.T, checks map[string]CheckFunc) *testEnv {
	t.Helper()
	st := memory.New()
	fr := &fakeRates{snap: rates.Snapshot{Rates: testTable()}}
	srv := NewServer(Options{
		Addr:              ":0",
		Subscriptions:     services.NewSubscriptionService(st, nil),
		Aggregator:        services.NewAggregator(currency.StaticSource{Table: testTable()}, 30, nil),
		Rates:             fr,
		ReportingCurrency: core.USD,
		Checks:            checks,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, rates: fr, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

const netflixBody = `{"service_name":"Netflix","cost":"15.49","currency":"usd","billing_cycle":"monthly",
	"billing_date":"2024-01-31","category":"streaming","payment_method":"Visa"}`

func TestHealthAndReady(t *testing.T) {
	env := newTestServer(t, map[string]CheckFunc{
		"store": func(context.Context) error { return nil },
	})

	rr := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Contains(t, checks, "rates")
	assert.Contains(t, checks, "summary_cache")
}

func TestReady_FailingCheck(t *testing.T) {
	env := newTestServer(t, map[string]CheckFunc{
		"store": func(context.Context) error { return errors.New("database is locked") },
	})

	rr := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "failed: database is locked", body["checks"].(map[string]any)["store"])
}

func TestSubscriptionCRUD(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(t, http.MethodPost, "/api/subscriptions", netflixBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[core.Subscription](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.USD, created.Currency)
	assert.Equal(t, core.NewDate(2024, 2, 29), created.NextBillingDate)
	assert.Equal(t, "/api/subscriptions/"+created.ID, rr.Header().Get("Location"))

	rr = env.do(t, http.MethodGet, "/api/subscriptions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Netflix", decode[core.Subscription](t, rr).ServiceName)

	rr = env.do(t, http.MethodPut, "/api/subscriptions/"+created.ID,
		`{"service_name":"Netflix Premium","cost":22.99,"currency":"EUR","billing_cycle":"monthly",
		"billing_date":"2024-03-15","category":"streaming","payment_method":"Visa"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.Subscription](t, rr)
	assert.Equal(t, "Netflix Premium", updated.ServiceName)
	assert.True(t, decimal.RequireFromString("22.99").Equal(updated.Cost))
	assert.Equal(t, core.NewDate(2024, 4, 15), updated.NextBillingDate)

	rr = env.do(t, http.MethodGet, "/api/subscriptions?q=premium&category=streaming", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[subscriptionList](t, rr)
	assert.Equal(t, 1, list.Count)

	rr = env.do(t, http.MethodGet, "/api/subscriptions?category=gaming", "")
	assert.Equal(t, 0, decode[subscriptionList](t, rr).Count)

	rr = env.do(t, http.MethodDelete, "/api/subscriptions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/subscriptions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateSubscription_Errors(t *testing.T) {
	env := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"service_name":`, want: http.StatusBadRequest},
		{name: "empty body", body: ` `, want: http.StatusBadRequest},
		{name: "negative cost", body: strings.Replace(netflixBody, `"15.49"`, `"-1"`, 1), want: http.StatusBadRequest},
		{name: "bad date", body: strings.Replace(netflixBody, `2024-01-31`, `31/01/2024`, 1), want: http.StatusBadRequest},
		{name: "bad cycle", body: strings.Replace(netflixBody, `"monthly"`, `"weekly"`, 1), want: http.StatusBadRequest},
		{name: "unknown currency", body: strings.Replace(netflixBody, `"usd"`, `"XYZ"`, 1), want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/subscriptions", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[errorBody](t, rr).Error)
		})
	}
}

func TestChangeCycle(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(t, http.MethodPost, "/api/subscriptions",
		strings.Replace(netflixBody, `"15.49"`, `"120"`, 1))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[core.Subscription](t, rr).ID

	rr = env.do(t, http.MethodPost, "/api/subscriptions/"+id+"/cycle", `{"billing_cycle":"annual"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sub := decode[core.Subscription](t, rr)
	assert.True(t, decimal.NewFromInt(1440).Equal(sub.Cost))
	assert.Equal(t, core.Annual, sub.BillingCycle)

	rr = env.do(t, http.MethodPost, "/api/subscriptions/missing/cycle", `{"billing_cycle":"annual"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSummary_CachedAndInvalidatedOnWrite(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(t, http.MethodPost, "/api/subscriptions", netflixBody)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/summary?currency=eur&today=2024-02-20", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decode[core.Summary](t, rr)
	assert.Equal(t, core.EUR, summary.ReportingCurrency)
	assert.True(t, decimal.RequireFromString("7.745").Equal(summary.MonthlyTotal), "got %s", summary.MonthlyTotal)
	assert.Equal(t, "€7.75", summary.MonthlyTotalFormatted)
	require.Len(t, summary.UpcomingRenewals, 1)
	assert.Equal(t, "Feb 29", summary.UpcomingRenewals[0].Label)
	assert.Equal(t, 9, summary.UpcomingRenewals[0].DaysUntil)

	env.do(t, http.MethodGet, "/api/summary?currency=eur&today=2024-02-20", "")
	assert.Equal(t, uint64(1), env.srv.SummaryCache().Stats().Hits)

	rr = env.do(t, http.MethodPost, "/api/subscriptions",
		strings.Replace(netflixBody, `"Netflix"`, `"Spotify"`, 1))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Zero(t, env.srv.SummaryCache().Size(), "writes purge cached summaries")

	rr = env.do(t, http.MethodGet, "/api/summary?currency=eur&today=2024-02-20", "")
	assert.Equal(t, 2, decode[core.Summary](t, rr).SubscriptionCount)
}

func TestSummary_BadParams(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(t, http.MethodGet, "/api/summary?currency=XYZ", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/summary?today=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRatesEndpoints(t *testing.T) {
	env := newTestServer(t, nil)
	env.rates.snap.Status = rates.StatusFallback

	rr := env.do(t, http.MethodGet, "/api/rates", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[ratesBody](t, rr)
	assert.Equal(t, 0.5, body.Rates[core.EUR])
	assert.Nil(t, body.UpdatedAt)
	assert.Equal(t, rates.StatusFallback, body.Status)

	rr = env.do(t, http.MethodPost, "/api/rates/refresh", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, env.rates.refreshes)

	env.rates.err = context.Canceled
	rr = env.do(t, http.MethodPost, "/api/rates/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRefreshRates_SlowRefreshAnswersAccepted(t *testing.T) {
	env := newTestServer(t, nil)
	env.srv.refreshWait = 20 * time.Millisecond
	env.rates.block = true
	env.rates.snap.Status = rates.RetryStatus(1, 3)

	start := time.Now()
	rr := env.do(t, http.MethodPost, "/api/rates/refresh", "")

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decode[ratesBody](t, rr)
	assert.Equal(t, rates.RetryStatus(1, 3), body.Status)
	assert.Equal(t, 0.5, body.Rates[core.EUR])
}

func TestConvert(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(t, http.MethodGet, "/api/convert?amount=10&from=EUR&to=GBP", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[conversionBody](t, rr)
	assert.True(t, decimal.NewFromInt(16).Equal(body.Result), "got %s", body.Result)
	assert.Equal(t, "£16.00", body.Formatted)

	rr = env.do(t, http.MethodGet, "/api/convert?amount=abc&from=EUR&to=GBP", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/convert?amount=1&from=EUR&to=XYZ", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestWriteRateLimit(t *testing.T) {
	env := newTestServer(t, nil)
	env.srv.rateLimiter.limit = 2

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodPost, "/api/subscriptions", netflixBody)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/api/subscriptions", netflixBody)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = env.do(t, http.MethodGet, "/api/subscriptions", "")
	assert.Equal(t, http.StatusOK, rr.Code, "reads are not limited")
	assert.Equal(t, int64(1), env.srv.metrics.snapshot().RateLimitHits)
}

func TestRateLimiter_WindowAndCleanup(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4", nil))
	assert.False(t, rl.allow("1.2.3.4", nil))
	assert.True(t, rl.allow("5.6.7.8", nil))

	now = now.Add(time.Minute)
	assert.True(t, rl.allow("1.2.3.4", nil), "a new window resets the count")

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 2, rl.cleanupStaleEntries())
	assert.Zero(t, rl.ActiveClients())
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "direct", remote: "203.0.113.7:1234", want: "203.0.113.7"},
		{name: "untrusted proxy header ignored", remote: "203.0.113.7:1234", xff: "198.51.100.1", want: "203.0.113.7"},
		{name: "trusted proxy", remote: "10.0.0.2:80", xff: "198.51.100.1, 10.0.0.2", want: "198.51.100.1"},
		{name: "trusted proxy bad header", remote: "127.0.0.1:80", xff: "not-an-ip", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, extractClientIP(req))
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	metrics := &securityMetrics{}

	assert.False(t, detectSuspiciousRequest(httptest.NewRequest(http.MethodGet, "/api/summary", nil), metrics))
	assert.True(t, detectSuspiciousRequest(httptest.NewRequest(http.MethodGet, "/api/../.env", nil), metrics))

	req := httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	assert.True(t, detectSuspiciousRequest(req, metrics))

	assert.Equal(t, int64(2), metrics.snapshot().SuspiciousRequests)
}
