package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/storage/storagetest"
)

func TestTimestampsReadBackInUTC(t *testing.T) {
	db := storagetest.NewDB(t)
	ctx := context.Background()
	local := baseTime.In(time.FixedZone("UTC+5", 5*60*60))

	t.Run("api keys", func(t *testing.T) {
		repo := db.NewAPIKeyRepository()
		expires := local.Add(time.Hour)
		key := newKey("ap_zone", local, "read")
		key.ExpiresAt = &expires
		require.NoError(t, repo.Create(ctx, key))

		got, err := repo.GetByKeyID(ctx, "ap_zone")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.CreatedAt.Location())
		assert.True(t, baseTime.Equal(got.CreatedAt))
		require.NotNil(t, got.ExpiresAt)
		assert.Equal(t, time.UTC, got.ExpiresAt.Location())

		keys, err := repo.List(ctx, false)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, time.UTC, keys[0].CreatedAt.Location())
	})

	t.Run("rate limit windows", func(t *testing.T) {
		repo := db.NewRateLimitRepository()
		w, allowed, err := repo.Increment(ctx, "ap_zone", 5, local, local.Add(-time.Hour))
		require.NoError(t, err)
		require.True(t, allowed)
		assert.Equal(t, time.UTC, w.WindowStart.Location())
		assert.Equal(t, time.UTC, w.LastRequest.Location())

		got, err := repo.Get(ctx, "ap_zone", local.Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, baseTime, got.WindowStart)
	})

	t.Run("security events", func(t *testing.T) {
		repo := db.NewSecurityEventRepository()
		require.NoError(t, repo.Insert(ctx, &models.SecurityEvent{EventType: "auth_missing", Timestamp: local}))

		events, err := repo.List(ctx, models.SecurityEventFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, baseTime, events[0].Timestamp)
	})
}
