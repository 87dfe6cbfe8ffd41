package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDel(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	value, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting a missing key is fine.
	assert.NoError(t, m.Del(ctx, "k"))
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 30*time.Millisecond))

	value, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	time.Sleep(40 * time.Millisecond)

	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_IncrCountsWithinWindow(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, resetIn, err := m.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Greater(t, resetIn, time.Duration(0))
	}
}

func TestMemory_IncrResetsAfterWindow(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	count, _, err := m.Incr(ctx, "counter", 30*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	time.Sleep(40 * time.Millisecond)

	count, _, err = m.Incr(ctx, "counter", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "window restart resets the count")
}
