package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestIncrWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	n, err := c.IncrWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = c.IncrWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	got, err := c.GetInt(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestGetIntAndDel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.IncrWithTTL(ctx, "k", 0)
	require.NoError(t, err)
	got, err := c.GetInt(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)

	require.NoError(t, c.Del(ctx, "k"))
	got, err = c.GetInt(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
