// Package store defines the persistence port used by the subscription
// services. Implementations live in sub-packages and in internal/storage.
package store

import (
	"context"

	"subtrack/internal/core"
)

// Reader reads subscription records.
type Reader interface {
	List(ctx context.Context) ([]core.Subscription, error)
	// Get returns core.ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (core.Subscription, error)
}

// Writer creates, updates and deletes subscription records. Create assigns
// the ID and CreatedAt when they are empty and returns the stored record.
type Writer interface {
	Create(ctx context.Context, s core.Subscription) (core.Subscription, error)
	Update(ctx context.Context, s core.Subscription) (core.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// Store is the full persistence collaborator.
type Store interface {
	Reader
	Writer
}
