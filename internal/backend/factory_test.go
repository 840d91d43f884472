package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/config"
)

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Type: MemoryBackend}},
		{name: "sqlite", cfg: Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "db", "x.db")}},
		{name: "supabase", cfg: Config{Type: SupabaseBackend, SupabaseURL: "https://demo.supabase.co", SupabaseKey: "k"}},
		{name: "sqlite without path", cfg: Config{Type: SQLiteBackend}, wantErr: true},
		{name: "supabase without key", cfg: Config{Type: SupabaseBackend, SupabaseURL: "https://demo.supabase.co"}, wantErr: true},
		{name: "unknown", cfg: Config{Type: "sheets"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.CreateBackend(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, res.Store)
			assert.NoError(t, res.Close())
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "./data/x.db"})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "./data/x.db", cfg.SQLiteDBPath)

	_, err = FromAppConfig(&config.Config{DataBackend: "postgres"})
	assert.Error(t, err)

	assert.Equal(t, []string{"memory", "sqlite", "supabase"}, GetBackendTypeStrings())
}

func TestBackendResult_Ping(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	t.Run("memory lists", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		require.NoError(t, err)
		assert.NoError(t, res.Ping(ctx))
	})

	t.Run("sqlite pings", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "p.db")})
		require.NoError(t, err)
		assert.NoError(t, res.Ping(ctx))
		require.NoError(t, res.Close())
		assert.Error(t, res.Ping(ctx))
	})

	t.Run("nil result", func(t *testing.T) {
		var res *BackendResult
		assert.Error(t, res.Ping(ctx))
	})
}
