package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacehub/storefront/internal/domain"
	pkgkafka "github.com/lacehub/storefront/pkg/kafka"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturingHandler struct {
	succeeded []*domain.PaymentEvent
	failed    []*domain.PaymentEvent
	result    *domain.FulfillmentResult
	err       error
}

func (h *capturingHandler) HandlePaymentSucceeded(_ context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error) {
	h.succeeded = append(h.succeeded, ev)
	if h.err != nil {
		return nil, h.err
	}
	if h.result != nil {
		return h.result, nil
	}
	return &domain.FulfillmentResult{OrderID: "order-1", State: domain.CheckoutStateCompleted}, nil
}

func (h *capturingHandler) HandlePaymentFailed(_ context.Context, ev *domain.PaymentEvent) {
	h.failed = append(h.failed, ev)
}

func paymentKafkaEvent(t *testing.T, ev domain.PaymentEvent) *pkgkafka.Event {
	t.Helper()
	ke, err := pkgkafka.NewEvent("payment.succeeded", ev.TransactionID, "payment", "gateway", ev)
	require.NoError(t, err)
	return ke
}

func TestSucceededEventHandler_DeliversDecodedEvent(t *testing.T) {
	handler := &capturingHandler{}
	fn := succeededEventHandler(handler, testLogger())

	ev := domain.PaymentEvent{
		TransactionID: "txn-1",
		Succeeded:     true,
		AmountCents:   25800,
		Currency:      "USD",
		OccurredAt:    time.Now().UTC(),
	}

	err := fn(context.Background(), paymentKafkaEvent(t, ev))

	require.NoError(t, err)
	require.Len(t, handler.succeeded, 1)
	assert.Equal(t, "txn-1", handler.succeeded[0].TransactionID)
	assert.Equal(t, int64(25800), handler.succeeded[0].AmountCents)
}

func TestSucceededEventHandler_DropsMalformedPayload(t *testing.T) {
	handler := &capturingHandler{}
	fn := succeededEventHandler(handler, testLogger())

	bad := &pkgkafka.Event{
		EventID:   "evt-bad",
		EventType: "payment.succeeded",
		Data:      json.RawMessage(`{not-json`),
	}

	err := fn(context.Background(), bad)

	// Redelivery cannot fix a malformed payload, so it must not error.
	require.NoError(t, err)
	assert.Empty(t, handler.succeeded)
}

func TestSucceededEventHandler_PropagatesHandlerFailure(t *testing.T) {
	handler := &capturingHandler{err: errors.New("order store down")}
	fn := succeededEventHandler(handler, testLogger())

	err := fn(context.Background(), paymentKafkaEvent(t, domain.PaymentEvent{TransactionID: "txn-1"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "order store down")
}

func TestFailedEventHandler_DeliversDecodedEvent(t *testing.T) {
	handler := &capturingHandler{}
	fn := failedEventHandler(handler, testLogger())

	err := fn(context.Background(), paymentKafkaEvent(t, domain.PaymentEvent{TransactionID: "txn-9"}))

	require.NoError(t, err)
	require.Len(t, handler.failed, 1)
	assert.Equal(t, "txn-9", handler.failed[0].TransactionID)
}

func TestFailedEventHandler_DropsMalformedPayload(t *testing.T) {
	handler := &capturingHandler{}
	fn := failedEventHandler(handler, testLogger())

	bad := &pkgkafka.Event{
		EventID:   "evt-bad",
		EventType: "payment.failed",
		Data:      json.RawMessage(`{not-json`),
	}

	require.NoError(t, fn(context.Background(), bad))
	assert.Empty(t, handler.failed)
}
