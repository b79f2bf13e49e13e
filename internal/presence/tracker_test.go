package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerEdges(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	h1, first, err := tr.Connect(ctx, 7)
	require.NoError(t, err)
	assert.True(t, first, "first handle is the came-online edge")

	h2, first, err := tr.Connect(ctx, 7)
	require.NoError(t, err)
	assert.False(t, first, "second tab is not an edge")
	assert.NotEqual(t, h1, h2)

	online, err := tr.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	// Closing one of two connections keeps the user online.
	last, err := tr.Disconnect(ctx, 7, h1)
	require.NoError(t, err)
	assert.False(t, last)

	online, err = tr.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	// Closing the final connection is the went-offline edge, exactly once.
	last, err = tr.Disconnect(ctx, 7, h2)
	require.NoError(t, err)
	assert.True(t, last)

	online, err = tr.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)

	// A stale handle after the set is gone is not another edge.
	last, err = tr.Disconnect(ctx, 7, h1)
	require.NoError(t, err)
	assert.False(t, last)
}

func TestWentOfflineRequiresRemoval(t *testing.T) {
	// The edge fires only when this disconnect emptied the set.
	assert.True(t, wentOffline(1, 0))

	// Handle already gone (expired key, double disconnect): no edge.
	assert.False(t, wentOffline(0, 0))

	// Other connections remain: no edge either way.
	assert.False(t, wentOffline(1, 1))
	assert.False(t, wentOffline(0, 2))
}

func TestMemoryTrackerOnlineAmong(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	_, _, err := tr.Connect(ctx, 1)
	require.NoError(t, err)
	_, _, err = tr.Connect(ctx, 3)
	require.NoError(t, err)

	online, err := tr.OnlineAmong(ctx, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, online)

	online, err = tr.OnlineAmong(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, online)
}
