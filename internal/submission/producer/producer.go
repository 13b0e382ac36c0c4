// Package producer turns a validated submission into an Envelope with a fresh
// request_id and publishes it to the broker. Publication is fire-and-forget:
// the caller gets the request_id back as soon as the broker has the message.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

// Publisher is the broker publish operation. *rabbitmq.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, messageID string, payload any) error
}

// Producer builds and publishes Envelopes.
type Producer struct {
	publisher Publisher
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Producer on top of the given publisher.
func New(pub Publisher) *Producer {
	return &Producer{
		publisher: pub,
		newID:     func() string { return uuid.NewString() },
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "producer"),
	}
}

// Submit validates rawText, assigns a request_id and publishes the Envelope.
// Broker failures are returned wrapped in ErrBrokerUnavailable.
func (p *Producer) Submit(ctx context.Context, rawText string, metadata map[string]any) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, 400, "raw_text must not be empty")
	}

	env := financial.Envelope{
		RequestID: p.newID(),
		RawText:   rawText,
		Metadata:  maps.Clone(metadata),
		CreatedAt: p.now(),
	}
	if err := p.publisher.Publish(ctx, env.RequestID, env); err != nil {
		p.logger.Error("failed to publish submission",
			"request_id", env.RequestID,
			"error", err,
		)
		return "", fmt.Errorf("publishing submission %s: %w", env.RequestID, err)
	}
	p.logger.Info("submission queued",
		"request_id", env.RequestID,
		"raw_text_length", len(rawText),
	)
	return env.RequestID, nil
}
