// Package attempts counts how many times each request has been delivered to
// the worker so a poison message can be given up on after a configured number
// of redeliveries.
package attempts

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

const keyPrefix = "fdp:attempts:"

// ErrExhausted is returned when a request has been delivered more times than
// the configured maximum. It classifies as a permanent failure.
var ErrExhausted = fmt.Errorf("%w: delivery attempts exhausted", apperrors.ErrValidation)

// Counter is the subset of *redis.Client the tracker needs.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
}

// Tracker enforces a per-request delivery cap. A zero max means unbounded.
type Tracker struct {
	counter Counter
	max     int
	ttl     time.Duration
}

func NewTracker(counter Counter, maxDeliveries int, ttl time.Duration) *Tracker {
	return &Tracker{counter: counter, max: maxDeliveries, ttl: ttl}
}

// Begin records a delivery of requestID and returns the attempt number. It
// returns ErrExhausted once the attempt number exceeds the cap. Counter
// failures are wrapped in ErrStorageUnavailable; the pipeline logs them and
// processes the delivery without a cap.
func (t *Tracker) Begin(ctx context.Context, requestID string) (int64, error) {
	n, err := t.counter.IncrWithTTL(ctx, keyPrefix+requestID, t.ttl)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	if t.max > 0 && n > int64(t.max) {
		return n, fmt.Errorf("request %s delivered %d times (max %d): %w", requestID, n, t.max, ErrExhausted)
	}
	return n, nil
}

// Done forgets requestID after a terminal outcome.
func (t *Tracker) Done(ctx context.Context, requestID string) error {
	return t.counter.Del(ctx, keyPrefix+requestID)
}
