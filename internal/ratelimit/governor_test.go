package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_SpacesCalls(t *testing.T) {
	g := New(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Throttle(ctx))
	}

	// First call is released immediately, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)
}

func TestGovernor_ZeroIntervalDoesNotBlock(t *testing.T) {
	g := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Throttle(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestGovernor_ContextCancelled(t *testing.T) {
	g := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, g.Throttle(ctx))
	cancel()
	assert.Error(t, g.Throttle(ctx))
}

func TestFromQuota(t *testing.T) {
	g, err := FromQuota(5000, 0.04)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, g.Interval())

	g, err = FromQuota(3600, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, g.Interval())

	_, err = FromQuota(0, 0)
	assert.Error(t, err)
	_, err = FromQuota(100, 1)
	assert.Error(t, err)
}
