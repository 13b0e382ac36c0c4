// Package dispatcher reads deliveries from the broker, runs each one through
// the processing handler and settles it with exactly one ack or nack chosen
// from the handler's outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/looplab/fsm"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
)

// Delivery states.
const (
	StateReceived      = "received"
	StateProcessing    = "processing"
	StateAcked         = "acked"
	StateNackedRequeue = "nacked_requeue"
	StateNackedDiscard = "nacked_discard"
)

const (
	eventStart   = "start"
	eventReject  = "reject"
	eventSucceed = "succeed"
	eventRetry   = "retry"
	eventFail    = "fail"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// channel.
var ErrDeliveriesClosed = fmt.Errorf("%w: delivery channel closed", apperrors.ErrBrokerUnavailable)

// Handler processes one decoded envelope. Its error decides the delivery's
// fate through apperrors.Classify.
type Handler func(ctx context.Context, env financial.Envelope) error

// Dispatcher owns the consume loop. It admits one handler invocation at a
// time.
type Dispatcher struct {
	handler Handler
	gate    *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Dispatcher. m may be nil.
func New(h Handler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		handler: h,
		gate:    semaphore.NewWeighted(1),
		metrics: m,
		logger:  slog.Default().With("component", "dispatcher"),
	}
}

// Run settles deliveries until ctx is cancelled, returning nil, or until the
// transport fails, returning an error wrapping ErrBrokerUnavailable. A
// delivery in flight when ctx is cancelled is left unsettled and will be
// redelivered by the broker once the channel closes.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case del, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := d.dispatch(ctx, del); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, del amqp.Delivery) error {
	start := time.Now()
	machine := d.newMachine(start)

	var env financial.Envelope
	if err := json.Unmarshal(del.Body, &env); err != nil || strings.TrimSpace(env.RawText) == "" {
		reason := "empty raw_text"
		if err != nil {
			reason = err.Error()
		}
		d.logger.Warn("discarding undecodable delivery",
			"delivery_tag", del.DeliveryTag,
			"message_id", del.MessageId,
			"reason", reason,
		)
		return d.settle(ctx, machine, del, eventReject)
	}

	ctx = logger.WithRequestID(ctx, env.RequestID)
	log := logger.FromContext(ctx).With("component", "dispatcher")
	if err := machine.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("delivery state machine: %w", err)
	}

	if err := d.gate.Acquire(ctx, 1); err != nil {
		return nil
	}
	err := d.invoke(ctx, env)
	d.gate.Release(1)

	if err != nil && ctx.Err() != nil {
		log.Info("shutdown during processing, leaving delivery for redelivery")
		return nil
	}

	outcome := apperrors.Classify(err)
	var event string
	switch outcome {
	case apperrors.Success:
		event = eventSucceed
	case apperrors.TransientFailure:
		event = eventRetry
		log.Warn("transient failure, requeueing", "error", err, "redelivered", del.Redelivered)
	default:
		event = eventFail
		log.Error("permanent failure, discarding", "error", err)
	}
	return d.settle(ctx, machine, del, event)
}

func (d *Dispatcher) invoke(ctx context.Context, env financial.Envelope) (err error) {
	if d.metrics != nil {
		d.metrics.DeliveriesInFlight.Inc()
		defer d.metrics.DeliveriesInFlight.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.ErrInternal, 500, "handler panic: %v", r)
		}
	}()
	return d.handler(ctx, env)
}

// settle moves the machine to its terminal state and performs the matching
// broker operation. Failures to ack or nack mean the channel is gone.
func (d *Dispatcher) settle(ctx context.Context, machine *fsm.FSM, del amqp.Delivery, event string) error {
	if err := machine.Event(ctx, event); err != nil {
		return fmt.Errorf("delivery state machine: %w", err)
	}
	var err error
	switch machine.Current() {
	case StateAcked:
		err = del.Ack(false)
	case StateNackedRequeue:
		err = del.Nack(false, true)
	default:
		err = del.Nack(false, false)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable,
			fmt.Errorf("settling delivery %d as %s: %w", del.DeliveryTag, machine.Current(), err))
	}
	return nil
}

func (d *Dispatcher) newMachine(start time.Time) *fsm.FSM {
	return fsm.NewFSM(
		StateReceived,
		fsm.Events{
			{Name: eventStart, Src: []string{StateReceived}, Dst: StateProcessing},
			{Name: eventReject, Src: []string{StateReceived}, Dst: StateNackedDiscard},
			{Name: eventSucceed, Src: []string{StateProcessing}, Dst: StateAcked},
			{Name: eventRetry, Src: []string{StateProcessing}, Dst: StateNackedRequeue},
			{Name: eventFail, Src: []string{StateProcessing}, Dst: StateNackedDiscard},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				logger.FromContext(ctx).Debug("delivery transition",
					"component", "dispatcher",
					"from", e.Src,
					"to", e.Dst,
				)
				if d.metrics == nil || e.Dst == StateProcessing {
					return
				}
				d.metrics.DeliveriesTotal.WithLabelValues(e.Dst).Inc()
				d.metrics.DeliveryDuration.WithLabelValues(e.Dst).Observe(time.Since(start).Seconds())
			},
		},
	)
}
