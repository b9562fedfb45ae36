package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lacehub/storefront/internal/domain"
	pkgkafka "github.com/lacehub/storefront/pkg/kafka"
)

// PaymentHandler is the checkout-side consumer of the two payment gateway
// outcomes. Satisfied by *service.CheckoutService.
type PaymentHandler interface {
	HandlePaymentSucceeded(ctx context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error)
	HandlePaymentFailed(ctx context.Context, ev *domain.PaymentEvent)
}

// PaymentConsumer consumes payment gateway events from Kafka and feeds them to
// the checkout coordinator. Handlers are wrapped with idempotency so a gateway
// redelivery never fulfills the same payment twice.
type PaymentConsumer struct {
	succeeded *pkgkafka.Consumer
	failed    *pkgkafka.Consumer
	logger    *slog.Logger
}

// NewPaymentConsumer builds the two consumers (succeeded / failed topics)
// sharing one consumer group, one idempotency store and one dead-letter
// producer. A captured payment whose handling keeps failing is parked in the
// DLQ for reconciliation, never dropped.
func NewPaymentConsumer(
	brokers []string,
	groupID string,
	store pkgkafka.IdempotencyStore,
	dlq pkgkafka.DeadLetterer,
	handler PaymentHandler,
	logger *slog.Logger,
) *PaymentConsumer {
	succeededHandler := pkgkafka.IdempotentHandler(store, succeededEventHandler(handler, logger), logger)
	failedHandler := pkgkafka.IdempotentHandler(store, failedEventHandler(handler, logger), logger)

	return &PaymentConsumer{
		succeeded: pkgkafka.NewConsumer(
			pkgkafka.DefaultConsumerConfig(brokers, groupID, TopicPaymentSucceeded),
			succeededHandler,
			logger,
		).WithDLQ(dlq),
		failed: pkgkafka.NewConsumer(
			pkgkafka.DefaultConsumerConfig(brokers, groupID, TopicPaymentFailed),
			failedHandler,
			logger,
		).WithDLQ(dlq),
		logger: logger,
	}
}

func succeededEventHandler(handler PaymentHandler, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var ev domain.PaymentEvent
		if err := event.UnmarshalData(&ev); err != nil {
			// Malformed payload: retrying cannot help, drop it after logging.
			logger.ErrorContext(ctx, "dropping malformed payment.succeeded event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return nil
		}

		result, err := handler.HandlePaymentSucceeded(ctx, &ev)
		if err != nil {
			return fmt.Errorf("handle payment.succeeded: %w", err)
		}

		logger.InfoContext(ctx, "payment.succeeded processed",
			slog.String("event_id", event.EventID),
			slog.String("order_id", result.OrderID),
			slog.Bool("needs_reconcile", result.NeedsReconcile),
		)
		return nil
	}
}

func failedEventHandler(handler PaymentHandler, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var ev domain.PaymentEvent
		if err := event.UnmarshalData(&ev); err != nil {
			logger.ErrorContext(ctx, "dropping malformed payment.failed event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return nil
		}

		handler.HandlePaymentFailed(ctx, &ev)
		return nil
	}
}

// Start runs both consumers until the context is cancelled.
func (c *PaymentConsumer) Start(ctx context.Context) {
	go func() {
		if err := c.succeeded.Start(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "payment.succeeded consumer stopped",
				slog.String("error", err.Error()),
			)
		}
	}()
	go func() {
		if err := c.failed.Start(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "payment.failed consumer stopped",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close shuts both consumers down.
func (c *PaymentConsumer) Close() error {
	errSucceeded := c.succeeded.Close()
	errFailed := c.failed.Close()
	if errSucceeded != nil {
		return errSucceeded
	}
	return errFailed
}
