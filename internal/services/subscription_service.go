package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"subtrack/internal/billing"
	"subtrack/internal/core"
	"subtrack/internal/log"
	"subtrack/internal/store"
)

// ChangeListener is notified after every successful write.
type ChangeListener func(op string, sub core.Subscription)

// SubscriptionService orchestrates subscription writes: validation, next
// billing date stamping and persistence.
type SubscriptionService struct {
	store    store.Store
	logger   *log.Logger
	onChange []ChangeListener
}

func NewSubscriptionService(s store.Store, logger *log.Logger) *SubscriptionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &SubscriptionService{
		store:  s,
		logger: logger.WithComponent(log.ComponentSubscription),
	}
}

// OnChange registers fn to run after create, update, cycle change and delete.
// Register listeners before serving requests.
func (s *SubscriptionService) OnChange(fn ChangeListener) {
	s.onChange = append(s.onChange, fn)
}

func (s *SubscriptionService) notify(op string, sub core.Subscription) {
	for _, fn := range s.onChange {
		fn(op, sub)
	}
}

// List returns every subscription ordered by next billing date.
func (s *SubscriptionService) List(ctx context.Context) ([]core.Subscription, error) {
	subs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].NextBillingDate.Before(subs[j].NextBillingDate.Time)
	})
	return subs, nil
}

func (s *SubscriptionService) Get(ctx context.Context, id string) (core.Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// Create validates sub, stamps its next billing date and stores it.
func (s *SubscriptionService) Create(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	if err := prepare(&sub); err != nil {
		return core.Subscription{}, err
	}

	created, err := s.store.Create(ctx, sub)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save subscription",
			log.FieldService, sub.ServiceName,
			log.FieldError, err.Error())
		return core.Subscription{}, fmt.Errorf("save subscription: %w", err)
	}

	s.logger.InfoContext(ctx, "Subscription created", s.fields(log.OpCreate, created)...)
	s.notify(log.OpCreate, created)
	return created, nil
}

// Update replaces the stored record with sub and re-stamps its next billing
// date.
func (s *SubscriptionService) Update(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return core.Subscription{}, fmt.Errorf("update subscription: %w", core.ErrNotFound)
	}
	if err := prepare(&sub); err != nil {
		return core.Subscription{}, err
	}

	updated, err := s.store.Update(ctx, sub)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.InfoContext(ctx, "Subscription updated", s.fields(log.OpUpdate, updated)...)
	s.notify(log.OpUpdate, updated)
	return updated, nil
}

// ChangeCycle switches the billing cycle of a stored subscription, rescaling
// its cost so the monthly spend stays the same, and re-stamps the next
// billing date.
func (s *SubscriptionService) ChangeCycle(ctx context.Context, id string, cycle core.BillingCycle) (core.Subscription, error) {
	if !cycle.IsValid() {
		return core.Subscription{}, fmt.Errorf("%w: %q", core.ErrInvalidCycle, cycle)
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		return core.Subscription{}, err
	}
	if sub.BillingCycle == cycle {
		return sub, nil
	}

	cost, err := billing.SwitchCycle(sub.Cost, sub.BillingCycle, cycle)
	if err != nil {
		return core.Subscription{}, err
	}
	previous := sub.BillingCycle
	sub.Cost = core.RoundCost(cost)
	sub.BillingCycle = cycle

	updated, err := s.Update(ctx, sub)
	if err != nil {
		return core.Subscription{}, err
	}
	s.logger.InfoContext(ctx, "Billing cycle changed",
		log.FieldSubscription, updated.ID,
		"from", string(previous),
		log.FieldCycle, string(cycle),
		log.FieldCost, updated.Cost.String())
	return updated, nil
}

func (s *SubscriptionService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	s.logger.InfoContext(ctx, "Subscription deleted", log.FieldSubscription, id)
	s.notify(log.OpDelete, core.Subscription{ID: id})
	return nil
}

func (s *SubscriptionService) fields(op string, sub core.Subscription) []any {
	return log.NewFields().
		WithOperation(op).
		WithSubscription(sub.ID, sub.ServiceName, sub.Cost.String(), string(sub.Currency), string(sub.BillingCycle)).
		ToSlice()
}

// prepare normalizes and validates sub, then stamps NextBillingDate.
func prepare(sub *core.Subscription) error {
	sub.ServiceName = strings.TrimSpace(sub.ServiceName)
	sub.PaymentMethod = strings.TrimSpace(sub.PaymentMethod)
	sub.Currency = core.Currency(strings.ToUpper(strings.TrimSpace(string(sub.Currency))))
	sub.BillingDate = core.DateOf(sub.BillingDate.Time)

	if err := sub.Validate(); err != nil {
		return err
	}
	return billing.Stamp(sub)
}
