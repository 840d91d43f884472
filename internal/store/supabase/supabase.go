// Package supabase persists subscriptions in a Supabase (PostgREST) table,
// the hosted backend the tracker was first built on.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"time"

	supa "github.com/nedpals/supabase-go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"subtrack/internal/core"
	"subtrack/internal/log"
)

const (
	DefaultTable = "subscriptions"

	listCacheKey     = "subscriptions:list"
	listCacheTTL     = 30 * time.Second
	listCacheCleanup = time.Minute
)

// row mirrors the subscriptions table. Dates travel as YYYY-MM-DD.
type row struct {
	ID              string          `json:"id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	ServiceName     string          `json:"service_name"`
	Cost            decimal.Decimal `json:"cost"`
	Currency        string          `json:"currency"`
	BillingCycle    string          `json:"billing_cycle"`
	BillingDate     core.Date       `json:"billing_date"`
	NextBillingDate core.Date       `json:"next_billing_date"`
	Category        string          `json:"category"`
	PaymentMethod   string          `json:"payment_method"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
}

func fromDomain(s core.Subscription) row {
	r := row{
		ID:              s.ID,
		UserID:          s.UserID,
		ServiceName:     s.ServiceName,
		Cost:            s.Cost,
		Currency:        string(s.Currency),
		BillingCycle:    string(s.BillingCycle),
		BillingDate:     s.BillingDate,
		NextBillingDate: s.NextBillingDate,
		Category:        string(s.Category),
		PaymentMethod:   s.PaymentMethod,
	}
	if !s.CreatedAt.IsZero() {
		created := s.CreatedAt
		r.CreatedAt = &created
	}
	return r
}

func (r row) toDomain() core.Subscription {
	s := core.Subscription{
		ID:              r.ID,
		UserID:          r.UserID,
		ServiceName:     r.ServiceName,
		Cost:            r.Cost,
		Currency:        core.Currency(r.Currency),
		BillingCycle:    core.BillingCycle(r.BillingCycle),
		BillingDate:     r.BillingDate,
		NextBillingDate: r.NextBillingDate,
		Category:        core.Category(r.Category),
		PaymentMethod:   r.PaymentMethod,
	}
	if r.CreatedAt != nil {
		s.CreatedAt = r.CreatedAt.UTC()
	}
	return s
}

// Store talks to the PostgREST endpoint of a Supabase project. Listings are
// cached briefly and dropped on every write.
type Store struct {
	client *supa.Client
	table  string
	cache  *gocache.Cache
	logger *log.Logger
}

// New creates a Store for the project at baseURL authenticated with key.
func New(baseURL, key, table string, logger *log.Logger) (*Store, error) {
	if baseURL == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = log.Discard()
	}
	client := supa.CreateClient(baseURL, key)
	if client == nil {
		return nil, errors.New("failed to create supabase client")
	}
	// writes echo the affected rows; an empty echo means no row matched
	client.DB.AddHeader("Prefer", "return=representation")
	return &Store{
		client: client,
		table:  table,
		cache:  gocache.New(listCacheTTL, listCacheCleanup),
		logger: logger.WithComponent(log.ComponentSupabase),
	}, nil
}

func (s *Store) List(ctx context.Context) ([]core.Subscription, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		return append([]core.Subscription(nil), cached.([]core.Subscription)...), nil
	}

	var rows []row
	if err := s.client.DB.From(s.table).Select("*").ExecuteWithContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	out := make([]core.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	s.cache.SetDefault(listCacheKey, out)
	s.logger.DebugContext(ctx, "Listed subscriptions", "count", len(out))
	return append([]core.Subscription(nil), out...), nil
}

func (s *Store) Get(ctx context.Context, id string) (core.Subscription, error) {
	var rows []row
	if err := s.client.DB.From(s.table).Select("*").Eq("id", id).ExecuteWithContext(ctx, &rows); err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription %s: %w", id, err)
	}
	if len(rows) == 0 {
		return core.Subscription{}, fmt.Errorf("get %s: %w", id, core.ErrNotFound)
	}
	return rows[0].toDomain(), nil
}

func (s *Store) Create(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	var rows []row
	if err := s.client.DB.From(s.table).Insert(fromDomain(sub)).ExecuteWithContext(ctx, &rows); err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	s.cache.Delete(listCacheKey)

	if len(rows) == 0 {
		return sub, nil
	}
	created := rows[0].toDomain()
	s.logger.InfoContext(ctx, "Subscription stored",
		log.FieldSubscription, created.ID,
		log.FieldService, created.ServiceName)
	return created, nil
}

func (s *Store) Update(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	r := fromDomain(sub)
	r.ID = ""
	r.CreatedAt = nil

	var rows []row
	if err := s.client.DB.From(s.table).Update(r).Eq("id", sub.ID).ExecuteWithContext(ctx, &rows); err != nil {
		return core.Subscription{}, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	s.cache.Delete(listCacheKey)

	if len(rows) == 0 {
		return core.Subscription{}, fmt.Errorf("update %s: %w", sub.ID, core.ErrNotFound)
	}
	return rows[0].toDomain(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	var rows []row
	if err := s.client.DB.From(s.table).Delete().Eq("id", id).ExecuteWithContext(ctx, &rows); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("delete %s: %w", id, core.ErrNotFound)
	}
	s.cache.Delete(listCacheKey)
	s.logger.InfoContext(ctx, "Subscription deleted", log.FieldSubscription, id)
	return nil
}
