package backend

import (
	"context"
	"errors"

	"subtrack/internal/store"
)

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// BackendResult contains the store and an optional cleanup function
type BackendResult struct {
	Store   store.Store
	Cleanup CleanupFunc
}

// Close runs Cleanup when one is set
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// pinger is implemented by stores with a cheap liveness check
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that the store is reachable. Stores without a Ping method are
// checked with a List call.
func (r *BackendResult) Ping(ctx context.Context) error {
	if r == nil || r.Store == nil {
		return errors.New("backend not initialized")
	}
	if p, ok := r.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	_, err := r.Store.List(ctx)
	return err
}

// Factory creates stores based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	SupabaseBackend BackendType = "supabase"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, SupabaseBackend:
		return true
	default:
		return false
	}
}
