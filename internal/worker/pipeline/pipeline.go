// Package pipeline is the worker's processing handler: it extracts a record
// from the envelope's text, stamps it with the request's metadata, stores it
// and announces it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/worker/attempts"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/tracing"
)

type Extractor interface {
	Extract(ctx context.Context, rawText string) (*financial.StructuredRecord, error)
}

type Store interface {
	Store(ctx context.Context, record financial.StructuredRecord) (string, error)
}

// Tracker caps deliveries per request. *attempts.Tracker satisfies it.
type Tracker interface {
	Begin(ctx context.Context, requestID string) (int64, error)
	Done(ctx context.Context, requestID string) error
}

// Notifier publishes events about stored records. *kafka.Producer satisfies it.
type Notifier interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// RecordStoredEvent is published after a record has been persisted.
type RecordStoredEvent struct {
	RequestID string    `json:"request_id"`
	RecordID  string    `json:"record_id"`
	Company   string    `json:"company"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Currency  string    `json:"currency"`
	Period    string    `json:"period"`
	StoredAt  time.Time `json:"stored_at"`
}

type Option func(*Pipeline)

func WithTracker(t Tracker) Option { return func(p *Pipeline) { p.tracker = t } }

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

type Pipeline struct {
	extractor Extractor
	store     Store
	tracker   Tracker
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(extractor Extractor, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		store:     store,
		logger:    slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one envelope. The returned error is classified by the
// dispatcher: nil acks, transient errors requeue, anything else discards.
func (p *Pipeline) Process(ctx context.Context, env financial.Envelope) error {
	ctx = logger.WithRequestID(ctx, env.RequestID)
	log := logger.FromContext(ctx).With("component", "pipeline")
	ctx, span := tracing.Start(ctx, "process", env.RequestID)

	err := p.handle(ctx, log, env)
	span.SetAttr("outcome", apperrors.Classify(err).String())
	span.End(err)
	span.Log(log)
	return err
}

// handle applies the delivery cap around process and clears the attempt
// count once the request reaches a terminal outcome.
func (p *Pipeline) handle(ctx context.Context, log *slog.Logger, env financial.Envelope) error {
	if p.tracker != nil {
		attempt, err := p.tracker.Begin(ctx, env.RequestID)
		switch {
		case errors.Is(err, attempts.ErrExhausted):
			log.Error("giving up on request", "attempt", attempt, "error", err)
			p.finish(ctx, log, env.RequestID)
			return err
		case err != nil:
			log.Warn("delivery tracking unavailable, processing without a cap", "error", err)
		default:
			log.Debug("processing delivery", "attempt", attempt)
		}
	}

	err := p.process(ctx, log, env)
	if apperrors.Classify(err) != apperrors.TransientFailure {
		p.finish(ctx, log, env.RequestID)
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, log *slog.Logger, env financial.Envelope) error {
	_, stage := tracing.StartChild(ctx, "extract")
	extracted, err := p.extractor.Extract(ctx, env.RawText)
	stage.End(err)
	if err != nil {
		log.Warn("extraction failed", "error", err, "outcome", apperrors.Classify(err).String())
		return err
	}

	record := *extracted
	record.Metadata = maps.Clone(extracted.Metadata)
	if record.Metadata == nil {
		record.Metadata = make(map[string]any)
	}
	record.Metadata[financial.MetaRequestID] = env.RequestID
	record = record.WithMetadata(env.Metadata)

	_, stage = tracing.StartChild(ctx, "store")
	id, err := p.store.Store(ctx, record)
	stage.End(err)
	if err != nil {
		log.Warn("storing record failed", "error", err, "outcome", apperrors.Classify(err).String())
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordsStoredTotal.Inc()
	}
	log.Info("record stored",
		"record_id", id,
		"company", record.Company,
		"metric", record.Metric,
		"value", record.Value,
		"currency", record.Currency,
		"period", record.Period,
	)

	if p.notifier != nil {
		event := kafka.Event{
			Key: env.RequestID,
			Value: RecordStoredEvent{
				RequestID: env.RequestID,
				RecordID:  id,
				Company:   record.Company,
				Metric:    record.Metric,
				Value:     record.Value,
				Currency:  record.Currency,
				Period:    record.Period,
				StoredAt:  time.Now().UTC(),
			},
		}
		// The record is already durable; a lost event is not worth a redelivery.
		_, stage = tracing.StartChild(ctx, "notify")
		err := p.notifier.Publish(ctx, event)
		stage.End(err)
		if err != nil {
			log.Error("failed to publish record-stored event", "record_id", id, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, requestID string) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Done(ctx, requestID); err != nil {
		log.Warn("failed to clear delivery count", "error", err)
	}
}
