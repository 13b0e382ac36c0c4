package attempts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/redis"
)

func newTracker(t *testing.T, max int) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewTracker(client, max, time.Hour), mr
}

func TestBeginWithinLimit(t *testing.T) {
	tr, mr := newTracker(t, 3)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := tr.Begin(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"req-1"))

	n, err := tr.Begin(ctx, "req-1")
	require.ErrorIs(t, err, ErrExhausted)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, apperrors.PermanentFailure, apperrors.Classify(err))
}

func TestBeginUnbounded(t *testing.T) {
	tr, _ := newTracker(t, 0)
	for range 50 {
		_, err := tr.Begin(context.Background(), "req-1")
		require.NoError(t, err)
	}
}

func TestDoneResetsCount(t *testing.T) {
	tr, mr := newTracker(t, 1)
	ctx := context.Background()

	_, err := tr.Begin(ctx, "req-1")
	require.NoError(t, err)
	require.NoError(t, tr.Done(ctx, "req-1"))
	assert.False(t, mr.Exists(keyPrefix+"req-1"))

	_, err = tr.Begin(ctx, "req-1")
	assert.NoError(t, err)
}

func TestBeginRedisDownIsTransient(t *testing.T) {
	tr, mr := newTracker(t, 3)
	mr.Close()

	_, err := tr.Begin(context.Background(), "req-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.TransientFailure, apperrors.Classify(err))
}
