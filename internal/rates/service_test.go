package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/core"
	"subtrack/internal/currency"
)

func jsonServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(fiat, crypto []Endpoint) Config {
	return Config{
		Fiat:           fiat,
		Crypto:         crypto,
		RequestTimeout: time.Second,
		MaxRetries:     3,
		RetryStep:      time.Millisecond,
	}
}

func TestRefresh_MergesBothGroups(t *testing.T) {
	fiat := jsonServer(t, http.StatusOK, `{"rates":{"USD":1,"EUR":0.5}}`, nil)
	crypto := jsonServer(t, http.StatusOK, `{"data":[{"symbol":"BTC","priceUsd":"50000"}]}`, nil)

	svc := NewService(testConfig(
		[]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}},
		[]Endpoint{{URL: crypto.URL, Group: GroupCrypto, Kind: KindCoinCap}},
	))

	require.NoError(t, svc.Refresh(context.Background()))

	got := svc.Rates()
	assert.Equal(t, 0.5, got[core.EUR])
	assert.InDelta(t, 0.00002, got[core.BTC], 1e-15)
	assert.Equal(t, 0.79, got[core.GBP], "codes absent from the response keep their previous value")
	assert.Empty(t, svc.Status())
	assert.False(t, svc.LastUpdated().IsZero())
}

func TestRefresh_FallsThroughPriorityList(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	broken := jsonServer(t, http.StatusBadGateway, `{}`, &firstHits)
	working := jsonServer(t, http.StatusOK, `{"EUR":0.7}`, &secondHits)

	svc := NewService(testConfig(
		[]Endpoint{
			{URL: broken.URL, Group: GroupFiat, Kind: KindFiat},
			{URL: working.URL, Group: GroupFiat, Kind: KindFiat},
		},
		nil,
	))

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 0.7, svc.Rates()[core.EUR])
	assert.Equal(t, int32(1), firstHits.Load())
	assert.Equal(t, int32(1), secondHits.Load())
}

func TestRefresh_OneGroupFailingKeepsTheOther(t *testing.T) {
	fiat := jsonServer(t, http.StatusInternalServerError, ``, nil)
	crypto := jsonServer(t, http.StatusOK, `{"bitcoin":{"usd":25000}}`, nil)

	svc := NewService(testConfig(
		[]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}},
		[]Endpoint{{URL: crypto.URL, Group: GroupCrypto, Kind: KindCoinGecko}},
	))

	require.NoError(t, svc.Refresh(context.Background()))
	assert.InDelta(t, 0.00004, svc.Rates()[core.BTC], 1e-15)
	assert.Equal(t, 0.92, svc.Rates()[core.EUR])
	assert.Empty(t, svc.Status())
}

func TestRefresh_AllEndpointsFailDegradesToFallback(t *testing.T) {
	var hits atomic.Int32
	fiat := jsonServer(t, http.StatusServiceUnavailable, ``, &hits)
	crypto := jsonServer(t, http.StatusInternalServerError, ``, &hits)

	svc := NewService(testConfig(
		[]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}},
		[]Endpoint{{URL: crypto.URL, Group: GroupCrypto, Kind: KindCoinCap}},
	))

	snaps, cancel := svc.Subscribe()
	defer cancel()

	err := svc.Refresh(context.Background())
	require.NoError(t, err, "fetch failures must not escape Refresh")

	assert.Equal(t, currency.FallbackRates(), svc.Rates())
	assert.Equal(t, StatusFallback, svc.Status())
	assert.True(t, svc.LastUpdated().IsZero())
	// one initial attempt plus three retries, two groups each
	assert.Equal(t, int32(8), hits.Load())

	select {
	case snap := <-snaps:
		assert.Equal(t, StatusFallback, snap.Status)
	default:
		t.Fatal("expected a snapshot carrying the fallback status")
	}
}

func TestRefresh_RetryRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.6}}`))
	}))
	defer srv.Close()

	svc := NewService(testConfig([]Endpoint{{URL: srv.URL, Group: GroupFiat, Kind: KindFiat}}, nil))

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 0.6, svc.Rates()[core.EUR])
	assert.Empty(t, svc.Status(), "a successful retry clears the advisory status")
}

func TestRefresh_PreviousTableSurvivesLaterFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.5}}`))
	}))
	defer srv.Close()

	cfg := testConfig([]Endpoint{{URL: srv.URL, Group: GroupFiat, Kind: KindFiat}}, nil)
	cfg.MaxRetries = 1
	svc := NewService(cfg)

	require.NoError(t, svc.Refresh(context.Background()))
	fail.Store(true)
	require.NoError(t, svc.Refresh(context.Background()))

	assert.Equal(t, 0.5, svc.Rates()[core.EUR], "degraded refresh keeps the last live table")
	assert.Equal(t, StatusFallback, svc.Status())
}

func TestRefresh_TimeoutMovesToNextEndpoint(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	fast := jsonServer(t, http.StatusOK, `{"rates":{"EUR":0.8}}`, nil)

	cfg := testConfig([]Endpoint{
		{URL: slow.URL, Group: GroupFiat, Kind: KindFiat},
		{URL: fast.URL, Group: GroupFiat, Kind: KindFiat},
	}, nil)
	cfg.RequestTimeout = 50 * time.Millisecond
	svc := NewService(cfg)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 0.8, svc.Rates()[core.EUR])
}

func TestRefresh_CancelledContext(t *testing.T) {
	fiat := jsonServer(t, http.StatusInternalServerError, ``, nil)
	cfg := testConfig([]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}}, nil)
	cfg.RetryStep = time.Hour
	svc := NewService(cfg)
	t.Cleanup(svc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := svc.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, RetryStatus(1, 3), svc.Status(), "the shared refresh keeps retrying after the caller leaves")
}

func TestRefresh_CloseDuringBackoffRestoresStatus(t *testing.T) {
	fiat := jsonServer(t, http.StatusInternalServerError, ``, nil)
	cfg := testConfig([]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}}, nil)
	cfg.RetryStep = time.Hour
	svc := NewService(cfg)

	errc := make(chan error, 1)
	go func() { errc <- svc.Refresh(context.Background()) }()

	require.Eventually(t, func() bool { return svc.Status() == RetryStatus(1, 3) },
		2*time.Second, 5*time.Millisecond)

	svc.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh did not return after Close")
	}
	assert.Empty(t, svc.Status(), "no retry is pending once the refresh is aborted")
	assert.ErrorIs(t, svc.Refresh(context.Background()), context.Canceled)
}

func TestRun_SurvivesCancelledCallerRefresh(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int32
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.5}}`))
	}))
	defer srv.Close()

	cfg := testConfig([]Endpoint{{URL: srv.URL, Group: GroupFiat, Kind: KindFiat}}, nil)
	cfg.RetryStep = 200 * time.Millisecond
	cfg.RefreshInterval = 50 * time.Millisecond
	svc := NewService(cfg)
	t.Cleanup(svc.Close)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer reqCancel()
	require.ErrorIs(t, svc.Refresh(reqCtx), context.DeadlineExceeded)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		svc.Run(runCtx)
	}()

	fail.Store(false)
	require.Eventually(t, func() bool { return svc.Rates()[core.EUR] == 0.5 && svc.Status() == "" },
		2*time.Second, 10*time.Millisecond)

	seen := hits.Load()
	require.Eventually(t, func() bool { return hits.Load() > seen },
		2*time.Second, 10*time.Millisecond, "the refresh schedule keeps ticking")

	select {
	case <-runDone:
		t.Fatal("Run returned while its own context is alive")
	default:
	}

	stop()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after its context was cancelled")
	}
}

func TestSubscribe_ReceivesUpdatesAndUnsubscribes(t *testing.T) {
	fiat := jsonServer(t, http.StatusOK, `{"rates":{"EUR":0.5}}`, nil)
	svc := NewService(testConfig([]Endpoint{{URL: fiat.URL, Group: GroupFiat, Kind: KindFiat}}, nil))

	snaps, cancel := svc.Subscribe()
	require.NoError(t, svc.Refresh(context.Background()))

	snap := <-snaps
	assert.Equal(t, 0.5, snap.Rates[core.EUR])
	assert.Empty(t, snap.Status)

	cancel()
	cancel()
	_, open := <-snaps
	assert.False(t, open)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 5 * time.Second}
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 10*time.Second, b.NextBackOff())
	assert.Equal(t, 15*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, "Retrying to fetch rates... (Attempt 2/3)", RetryStatus(2, 3))
}
