package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/order-service/internal/order/application"
	"github.com/orderflow/order-service/internal/order/domain"
	"github.com/orderflow/order-service/pkg/idempotency"
	"github.com/orderflow/order-service/pkg/metrics"
	"github.com/orderflow/order-service/pkg/tracing"
)

// sagaHandler is the slice of the saga the consumer drives.
type sagaHandler interface {
	HandleReservationResult(ctx context.Context, res domain.ReservationResult) error
	Confirm(ctx context.Context, id uuid.UUID) error
}

// Consumer feeds reservation results and payment events into the saga.
// A message is committed only after its handling reached a terminal outcome:
// success, idempotent no-op, or a logged conflict that redelivery cannot fix.
// Transient failures leave the message uncommitted so the broker redelivers.
type Consumer struct {
	log     *slog.Logger
	reader  *kafka.Reader
	saga    sagaHandler
	idem    *idempotency.Store
	metrics *metrics.SagaMetrics
	tracer  trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, saga sagaHandler, idem *idempotency.Store, m *metrics.SagaMetrics) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:     log,
		reader:  r,
		saga:    saga,
		idem:    idem,
		metrics: m,
		tracer:  otel.Tracer("order-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			// Redis being down is not fatal: the compare-and-swap makes the
			// handlers idempotent anyway.
			c.log.Warn("idempotency check failed, relying on conditional update", "err", err)
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			c.metrics.Messages.WithLabelValues("unknown", "duplicate").Inc()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeSagaMessage")

		env, err := domain.ParseEnvelope(msg.Value)
		if err != nil {
			// Poison message: retrying cannot make it parseable.
			c.log.Error("unparseable message acknowledged", "err", err, "topic", msg.Topic, "offset", msg.Offset)
			c.metrics.Messages.WithLabelValues("unknown", "poison").Inc()
			span.End()
			c.ack(ctx, key, msg)
			continue
		}

		err = c.handle(msgCtx, env)
		span.End()

		switch {
		case err == nil:
			c.metrics.Messages.WithLabelValues(env.Type, "ok").Inc()
			c.ack(ctx, key, msg)
		case terminalOutcome(err):
			// Logic inconsistency or malformed payload: acknowledged after
			// logging, because redelivery would loop forever without fixing it.
			c.log.Warn("message acknowledged after non-retryable failure", "type", env.Type, "correlation_id", env.CorrelationID, "err", err)
			c.metrics.Messages.WithLabelValues(env.Type, "conflict").Inc()
			c.ack(ctx, key, msg)
		default:
			// Transient (e.g. database outage): no ack, the broker redelivers.
			c.log.Error("message handling failed, leaving for redelivery", "type", env.Type, "correlation_id", env.CorrelationID, "err", err)
			c.metrics.Messages.WithLabelValues(env.Type, "retry").Inc()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, env domain.Envelope) error {
	switch env.Type {
	case domain.TypeReservationResult:
		res, err := env.DecodeReservationResult()
		if err != nil {
			return err
		}
		return c.saga.HandleReservationResult(ctx, res)
	case domain.TypePaymentCompleted:
		pc, err := env.DecodePaymentCompleted()
		if err != nil {
			return err
		}
		return c.saga.Confirm(ctx, pc.OrderID)
	default:
		return fmt.Errorf("%w: unhandled type %q", domain.ErrInvalidMessage, env.Type)
	}
}

func (c *Consumer) ack(ctx context.Context, key string, msg kafka.Message) {
	if err := c.idem.Mark(ctx, key); err != nil {
		c.log.Warn("idempotency mark failed", "key", key, "err", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Error("commit failed", "err", err)
	}
}

// terminalOutcome reports whether redelivering the message could change
// anything. Conflicts, unknown orders, malformed payloads and most invalid
// states are terminal; everything else is worth a retry.
func terminalOutcome(err error) bool {
	var invalidState *application.InvalidStateError
	if errors.As(err, &invalidState) {
		// A payment confirmation can outrun the reservation result. While the
		// order is still pending a redelivery may land after the order
		// reaches reserved, so keep the message in flight.
		return invalidState.Current != domain.StatusPending
	}
	return errors.Is(err, application.ErrConflict) ||
		errors.Is(err, application.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidMessage)
}
