package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

// PrefetchCount bounds unacknowledged deliveries per consumer.
const PrefetchCount = 1

// Consume starts a manual-ack consumer on the queue. The returned channel is
// closed by the library when the connection or channel goes away; callers
// treat that as a transport failure and call Consume again to reconnect.
func (c *Client) Consume(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channelLocked()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(PrefetchCount, 0, false); err != nil {
		c.resetLocked()
		return nil, apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("setting qos: %w", err))
	}
	deliveries, err := ch.Consume(c.topology.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		c.resetLocked()
		return nil, apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("consuming from %s: %w", c.topology.Queue, err))
	}
	c.logger.Info("started consuming messages", "consumer_tag", consumerTag, "prefetch", PrefetchCount)
	return deliveries, nil
}
