package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditlog/internal/audit"
	"auditlog/internal/platform/config"
	"auditlog/pkg/platform/sentinel"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		b, err := Open(ctx, config.Store{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "audit.db")})
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, b.Ping(ctx))
		e, err := b.Append(ctx, audit.Event{EventType: audit.EventLogout, Outcome: audit.OutcomeSuccess, IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.ID)
	})

	t.Run("memory", func(t *testing.T) {
		b, err := Open(ctx, config.Store{Driver: "memory"})
		require.NoError(t, err)
		require.NoError(t, b.Ping(ctx))
		require.NoError(t, b.Close())
		assert.ErrorIs(t, b.Ping(ctx), sentinel.ErrClosed)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, config.Store{Driver: "mongo"})
		assert.Error(t, err)
	})
}
