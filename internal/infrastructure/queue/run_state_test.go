package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunState(t *testing.T) {
	ctx := context.Background()

	t.Run("claims are exclusive and ids increase", func(t *testing.T) {
		_, client := newTestRedis(t)
		state := NewRedisRunState(client, "test:")

		first, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = state.TryClaim(ctx, "shipment-sync", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		active, err := state.ActiveRun(ctx, "shipment-sync")
		require.NoError(t, err)
		assert.Equal(t, first, active)

		require.NoError(t, state.Release(ctx, "shipment-sync", first))

		second, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, second, first)
	})

	t.Run("stale release does not free a newer run", func(t *testing.T) {
		mr, client := newTestRedis(t)
		state := NewRedisRunState(client, "test:")

		stale, ok, err := state.TryClaim(ctx, "shipment-sync", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		current, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "an expired lease frees the mutex")

		require.NoError(t, state.Release(ctx, "shipment-sync", stale))

		active, err := state.ActiveRun(ctx, "shipment-sync")
		require.NoError(t, err)
		assert.Equal(t, current, active)
	})

	t.Run("workers are independent", func(t *testing.T) {
		_, client := newTestRedis(t)
		state := NewRedisRunState(client, "test:")

		_, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = state.TryClaim(ctx, "order-import", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestInMemoryRunState(t *testing.T) {
	ctx := context.Background()
	state := NewInMemoryRunState()
	now := time.Now()
	state.now = func() time.Time { return now }

	first, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = state.TryClaim(ctx, "shipment-sync", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok, err := state.TryClaim(ctx, "shipment-sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lease frees the mutex")
	assert.Equal(t, first+1, second)

	require.NoError(t, state.Release(ctx, "shipment-sync", first))
	active, _ := state.ActiveRun(ctx, "shipment-sync")
	assert.Equal(t, second, active)

	require.NoError(t, state.Release(ctx, "shipment-sync", second))
	active, _ = state.ActiveRun(ctx, "shipment-sync")
	assert.Zero(t, active)
}
