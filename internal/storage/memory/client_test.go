package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := New()

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, _ = c.Get(ctx, "k")
	assert.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	v, _ = c.Get(ctx, "k")
	assert.Empty(t, v)
}

func TestClientExpiry(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
}
