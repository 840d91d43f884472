package rates

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"subtrack/internal/currency"
	"subtrack/internal/log"
)

// StatusFallback is reported once retries are exhausted.
const StatusFallback = "Using fallback exchange rates due to connection issues"

// RetryStatus is reported while a failed refresh is being retried.
func RetryStatus(attempt, maxRetries int) string {
	return fmt.Sprintf("Retrying to fetch rates... (Attempt %d/%d)", attempt, maxRetries)
}

// Snapshot is published to subscribers after every refresh outcome.
type Snapshot struct {
	Rates     currency.Rates
	UpdatedAt time.Time
	Status    string
}

// Config configures a Service.
type Config struct {
	Fiat            []Endpoint
	Crypto          []Endpoint
	RequestTimeout  time.Duration
	RefreshInterval time.Duration
	MaxRetries      int
	RetryStep       time.Duration
	HTTPClient      *http.Client
	Logger          *log.Logger
}

// DefaultConfig returns the built-in endpoints and timings.
func DefaultConfig() Config {
	return Config{
		Fiat:            DefaultFiatEndpoints(),
		Crypto:          DefaultCryptoEndpoints(""),
		RequestTimeout:  5 * time.Second,
		RefreshInterval: 5 * time.Minute,
		MaxRetries:      3,
		RetryStep:       5 * time.Second,
	}
}

// Service owns the shared rate table. It starts from the fallback table and
// is refreshed by Run or on demand by Refresh; refreshes never overlap.
type Service struct {
	cfg     Config
	fetcher *Fetcher
	logger  *log.Logger
	flight  singleflight.Group

	// refreshes run on ctx so that a caller giving up does not abort a
	// refresh other callers share; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	table     currency.Rates
	updatedAt time.Time
	status    string

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewService returns a Service serving the fallback table until the first
// successful refresh.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentRates)
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.HTTPClient, cfg.RequestTimeout, logger),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		table:   currency.FallbackRates(),
		subs:    make(map[int]chan Snapshot),
	}
}

// Close aborts any refresh in flight and stops Run. Later refreshes return
// context.Canceled.
func (s *Service) Close() {
	s.cancel()
}

// Rates returns a copy of the current table.
func (s *Service) Rates() currency.Rates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// LastUpdated is the time of the last successful refresh, zero before one.
func (s *Service) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Status is an advisory message, empty while rates are live.
func (s *Service) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns the current table, update time and status together.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Rates: s.table.Clone(), UpdatedAt: s.updatedAt, Status: s.status}
}

// FetchRates performs one fetch of both groups without touching the table.
func (s *Service) FetchRates(ctx context.Context) (currency.Rates, error) {
	return s.fetcher.FetchAll(ctx, s.cfg.Fiat, s.cfg.Crypto)
}

// Refresh fetches live rates and merges them over the current table. When
// both groups fail it retries with linear backoff; after the last retry it
// keeps the current table and sets StatusFallback. Fetch failures are never
// returned.
//
// Concurrent callers share one refresh. ctx only bounds how long this caller
// waits: when it is done Refresh returns ctx.Err() and the refresh carries
// on in the background.
func (s *Service) Refresh(ctx context.Context) error {
	ch := s.flight.DoChan("refresh", func() (any, error) {
		return nil, s.refresh(s.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prevStatus := s.Status()

	var live currency.Rates
	operation := func() error {
		r, err := s.FetchRates(ctx)
		if err != nil {
			return err
		}
		live = r
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		status := RetryStatus(attempt, s.cfg.MaxRetries)
		s.setStatus(status)
		s.logger.WarnContext(ctx, "Rate refresh failed, retrying",
			log.FieldAttempt, attempt,
			"wait", wait.String(),
			log.FieldError, err.Error())
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: s.cfg.RetryStep}, uint64(s.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// no retry is pending any more
			if attempt > 0 {
				s.setStatus(prevStatus)
			}
			return ctxErr
		}
		s.setStatus(StatusFallback)
		s.logger.WarnContext(ctx, "Rate refresh exhausted retries, keeping last known rates",
			log.FieldError, err.Error())
		return nil
	}

	s.apply(live)
	s.logger.InfoContext(ctx, "Exchange rates refreshed", log.FieldRateCount, len(live))
	return nil
}

func (s *Service) apply(live currency.Rates) {
	s.mu.Lock()
	s.table = s.table.Merge(live)
	s.updatedAt = time.Now()
	s.status = ""
	snap := Snapshot{Rates: s.table.Clone(), UpdatedAt: s.updatedAt}
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Service) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	snap := Snapshot{Rates: s.table.Clone(), UpdatedAt: s.updatedAt, Status: status}
	s.mu.Unlock()

	s.publish(snap)
}

// Run refreshes immediately and then every RefreshInterval until ctx is done
// or the service is closed. A refresh cut short by another caller's
// cancellation does not stop the schedule.
func (s *Service) Run(ctx context.Context) {
	s.runOnce(ctx)
	if s.cfg.RefreshInterval <= 0 {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		return
	}

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil && s.ctx.Err() == nil {
		s.logger.WarnContext(ctx, "Scheduled rate refresh interrupted", log.FieldError, err.Error())
	}
}

// Subscribe returns a channel receiving the latest Snapshot after every
// table or status change. Slow readers only see the newest snapshot. The
// returned func unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// linearBackOff waits attempt*step before each retry.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
