package http

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"subtrack/internal/cache"
	"subtrack/internal/core"
	"subtrack/internal/log"
	"subtrack/internal/rates"
	"subtrack/internal/services"
)

// RatesProvider is the part of the rates service the API uses.
type RatesProvider interface {
	Snapshot() rates.Snapshot
	Refresh(ctx context.Context) error
}

// CheckFunc reports whether one dependency is ready.
type CheckFunc func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Addr              string
	Subscriptions     *services.SubscriptionService
	Aggregator        *services.Aggregator
	Rates             RatesProvider
	ReportingCurrency core.Currency
	SummaryCacheSize  int
	SummaryCacheTTL   time.Duration
	WriteLimit        int
	// RefreshWait bounds how long POST /api/rates/refresh waits before
	// answering 202 with the current snapshot
	RefreshWait       time.Duration
	Checks            map[string]CheckFunc
	Logger            *log.Logger
}

type Server struct {
	http.Server
	subs        *services.SubscriptionService
	agg         *services.Aggregator
	rates       RatesProvider
	reporting   core.Currency
	refreshWait time.Duration
	checks      map[string]CheckFunc
	logger      *log.Logger
	now         func() time.Time
	startedAt   time.Time

	// summaries are keyed by currency, date and data version; writes and
	// rate updates bump the version
	summaryCache *cache.LRUCache[core.Summary]
	version      atomic.Uint64

	rateLimiter  *rateLimiter
	metrics      *securityMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Subscription writes invalidate cached summaries.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if opts.SummaryCacheSize <= 0 {
		opts.SummaryCacheSize = 100
	}
	if opts.SummaryCacheTTL <= 0 {
		opts.SummaryCacheTTL = time.Minute
	}
	if opts.RefreshWait <= 0 {
		opts.RefreshWait = 10 * time.Second
	}
	if !opts.ReportingCurrency.IsValid() {
		opts.ReportingCurrency = core.USD
	}

	s := &Server{
		subs:         opts.Subscriptions,
		agg:          opts.Aggregator,
		rates:        opts.Rates,
		reporting:    opts.ReportingCurrency,
		refreshWait:  opts.RefreshWait,
		checks:       opts.Checks,
		logger:       logger.WithComponent(log.ComponentHTTP),
		now:          time.Now,
		startedAt:    time.Now(),
		summaryCache: cache.NewLRUCache[core.Summary](opts.SummaryCacheSize, opts.SummaryCacheTTL),
		rateLimiter:  newRateLimiter(opts.WriteLimit, time.Minute),
		metrics:      &securityMetrics{},
	}

	if s.subs != nil {
		s.subs.OnChange(func(string, core.Subscription) { s.Invalidate() })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /api/subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("PUT /api/subscriptions/{id}", s.handleUpdateSubscription)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", s.handleDeleteSubscription)
	mux.HandleFunc("POST /api/subscriptions/{id}/cycle", s.handleChangeCycle)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/rates", s.handleRates)
	mux.HandleFunc("POST /api/rates/refresh", s.handleRefreshRates)
	mux.HandleFunc("GET /api/convert", s.handleConvert)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           log.Middleware(logger)(s.withSecurity(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.rateLimiter.startCleanup()
	return s
}

// SummaryCache exposes the summary cache so it can be swept by a
// cache.Manager.
func (s *Server) SummaryCache() *cache.LRUCache[core.Summary] {
	return s.summaryCache
}

// Invalidate drops every cached summary.
func (s *Server) Invalidate() {
	s.version.Add(1)
	s.summaryCache.Purge()
}

// Shutdown gracefully shuts down the server and its cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) summaryKey(c core.Currency, today core.Date) string {
	return string(c) + "|" + today.String() + "|" + strconv.FormatUint(s.version.Load(), 10)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}).Write(w)
}

// handleReady runs every registered check with a shared timeout and reports
// rates, cache and rate limiter state alongside.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	if s.rates != nil {
		snap := s.rates.Snapshot()
		rateCheck := map[string]any{"codes": len(snap.Rates), "status": "ok"}
		if !snap.UpdatedAt.IsZero() {
			rateCheck["updated_at"] = snap.UpdatedAt.UTC().Format(time.RFC3339)
		}
		if snap.Status != "" {
			rateCheck["status"] = snap.Status
		}
		checks["rates"] = rateCheck
	}
	checks["summary_cache"] = s.summaryCache.Stats()
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"security":       s.metrics.snapshot(),
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}
