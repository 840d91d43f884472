// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"subtrack/internal/core"
)

// Store keeps subscriptions in a map guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	items map[string]core.Subscription
	now   func() time.Time
}

// New returns an empty Store, optionally seeded with subs.
func New(subs ...core.Subscription) *Store {
	s := &Store{
		items: make(map[string]core.Subscription),
		now:   time.Now,
	}
	for _, sub := range subs {
		if sub.ID == "" {
			sub.ID = uuid.NewString()
		}
		s.items[sub.ID] = sub
	}
	return s
}

// List returns every subscription ordered by creation time, then ID.
func (s *Store) List(_ context.Context) ([]core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Subscription, 0, len(s.items))
	for _, sub := range s.items {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.items[id]
	if !ok {
		return core.Subscription{}, fmt.Errorf("get %s: %w", id, core.ErrNotFound)
	}
	return sub, nil
}

func (s *Store) Create(_ context.Context, sub core.Subscription) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, exists := s.items[sub.ID]; exists {
		return core.Subscription{}, fmt.Errorf("create %s: id already exists", sub.ID)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	s.items[sub.ID] = sub
	return sub, nil
}

func (s *Store) Update(_ context.Context, sub core.Subscription) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[sub.ID]
	if !ok {
		return core.Subscription{}, fmt.Errorf("update %s: %w", sub.ID, core.ErrNotFound)
	}
	sub.CreatedAt = prev.CreatedAt
	s.items[sub.ID] = sub
	return sub, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, core.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}
