package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

// Publish serialises payload as JSON and publishes it to the exchange with
// the fixed routing key. Messages are persistent so they survive a broker
// restart while queued. A failed publish drops the connection; the next call
// reconnects.
func (c *Client) Publish(ctx context.Context, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channelLocked()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, c.topology.Exchange, c.topology.RoutingKey, false, false, msg); err != nil {
		c.logger.Error("failed to publish message", "message_id", messageID, "error", err)
		c.resetLocked()
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("publishing message %s: %w", messageID, err))
	}
	c.logger.Debug("message published", "message_id", messageID, "body_size", len(body))
	return nil
}
