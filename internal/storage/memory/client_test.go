package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWindow(t *testing.T) {
	c := New(3, time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok, "event %d", i)
	}
	ok, err := c.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = c.Allow(ctx, "u2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(1100 * time.Millisecond)
	ok, _ = c.Allow(ctx, "u1")
	assert.True(t, ok, "window slid past old hits")
}

func TestAllowDisabled(t *testing.T) {
	c := New(0, time.Second)
	for i := 0; i < 100; i++ {
		ok, err := c.Allow(context.Background(), "u")
		require.NoError(t, err)
		require.True(t, ok)
	}
}
