package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/repository"
	apperrors "github.com/lacehub/storefront/pkg/errors"
	"github.com/lacehub/storefront/pkg/logger"
)

// Payment gateway metadata limits. Individual values are capped at 500
// characters and the total across all keys and values at 40,000.
const (
	MetadataValueCap = 500
	MetadataTotalCap = 40000
)

// reservationManager is the slice of the reservation service the coordinator
// uses. Satisfied by *ReservationService.
type reservationManager interface {
	Validate(ctx context.Context, id string) (*domain.ValidationResult, error)
	Confirm(ctx context.Context, id, orderID string) error
	Release(ctx context.Context, ref domain.ReservationRef)
	Get(ctx context.Context, id string) (*domain.Reservation, error)
}

// stockLedger is the slice of the stock service the coordinator uses.
// Satisfied by *StockService.
type stockLedger interface {
	AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error)
}

// CheckoutService converts payment gateway events into orders. On success it
// confirms the cart's reservations, decrements on-hand stock, and creates the
// order; on failure it releases the holds. Partial stock-side failures after a
// captured payment are counted and routed to the reconciliation log, never
// surfaced to the shopper.
type CheckoutService struct {
	reservations reservationManager
	stock        stockLedger
	orders       repository.OrderRepository
	events       EventPublisher
	logger       *slog.Logger
	reconcileLog *slog.Logger
}

// NewCheckoutService creates a new checkout coordinator.
func NewCheckoutService(
	reservations reservationManager,
	stock stockLedger,
	orders repository.OrderRepository,
	events EventPublisher,
	log *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		reservations: reservations,
		stock:        stock,
		orders:       orders,
		events:       events,
		logger:       log,
		reconcileLog: logger.Reconcile(log),
	}
}

// HandlePaymentSucceeded runs the payment-success state machine for one
// checkout attempt. Reservation-backed carts validate-then-confirm; carts
// without stored holds fall back to direct per-line decrements. The order is
// created regardless of partial stock-side failures, because refusing to
// deliver goods after a captured payment is the worse failure mode.
func (s *CheckoutService) HandlePaymentSucceeded(ctx context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error) {
	if ev.TransactionID == "" {
		return nil, apperrors.InvalidInput("transaction_id is required")
	}
	if len(ev.Cart.Items) == 0 {
		return nil, apperrors.InvalidInput("cart snapshot has no items")
	}

	refs := ev.Reservations
	if len(refs) == 0 {
		refs = ev.Cart.ReservationRefs()
	}

	realRefs := make([]domain.ReservationRef, 0, len(refs))
	for _, ref := range refs {
		if !ref.Simulated && ref.ID != "" {
			realRefs = append(realRefs, ref)
		}
	}

	orderID := uuid.NewString()
	result := &domain.FulfillmentResult{
		OrderID: orderID,
		State:   domain.CheckoutStatePaymentSucceeded,
	}

	if len(realRefs) > 0 {
		// Validate every hold before touching anything. Any invalid
		// reservation aborts order creation entirely: payment has already
		// been captured, so this is a hard stop routed to reconciliation,
		// and no partial confirms may happen.
		for _, ref := range realRefs {
			check, err := s.reservations.Validate(ctx, ref.ID)
			if err != nil {
				s.reconcileLog.ErrorContext(ctx, "payment captured but reservation validation unavailable",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("reservation_id", ref.ID),
					slog.String("error", err.Error()),
				)
				return nil, fmt.Errorf("validate reservation %s: %w", ref.ID, err)
			}
			if !check.Valid {
				s.reconcileLog.ErrorContext(ctx, "payment captured but reservation no longer valid, order aborted",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("reservation_id", ref.ID),
					slog.String("reason", string(check.Reason)),
				)
				return nil, apperrors.ReservationExpired(ref.ID)
			}
		}

		// Confirm each hold with the order reference, then decrement on-hand
		// per confirmed line with an order_fulfillment movement. Individual
		// failures here do not block the order.
		for _, ref := range realRefs {
			res, err := s.reservations.Get(ctx, ref.ID)
			if err != nil {
				result.ConfirmFailures++
				s.reconcileLog.ErrorContext(ctx, "reservation disappeared between validate and confirm",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("reservation_id", ref.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			if err := s.reservations.Confirm(ctx, ref.ID, orderID); err != nil {
				result.ConfirmFailures++
				s.reconcileLog.ErrorContext(ctx, "payment captured but reservation confirm failed",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("reservation_id", ref.ID),
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.ConfirmedCount++

			// Model: on-hand is spent only now, at confirmation. Availability
			// was a derived view until this point.
			if _, err := s.stock.AdjustOnHand(ctx, res.VariantID, -res.Quantity, domain.MovementReasonOrderFulfillment, &orderID); err != nil {
				result.DecrementFailed++
				s.reconcileLog.ErrorContext(ctx, "payment captured but on-hand decrement failed",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("variant_id", res.VariantID),
					slog.String("order_id", orderID),
					slog.Int("quantity", res.Quantity),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.DecrementCount++
		}
		if result.ConfirmFailures == 0 {
			result.State = domain.CheckoutStateReservationsConfirmed
		}
		if result.ConfirmFailures == 0 && result.DecrementFailed == 0 {
			result.State = domain.CheckoutStateStockDecremented
		}
	} else {
		// Legacy/no-reservation cart: direct per-line decrement. Partial
		// failures are counted, not rolled back.
		for _, item := range ev.Cart.Items {
			if _, err := s.stock.AdjustOnHand(ctx, item.VariantID, -item.Quantity, domain.MovementReasonOrderFulfillment, &orderID); err != nil {
				result.DecrementFailed++
				s.reconcileLog.ErrorContext(ctx, "payment captured but fallback decrement failed",
					slog.String("transaction_id", ev.TransactionID),
					slog.String("variant_id", item.VariantID),
					slog.Int("quantity", item.Quantity),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.DecrementCount++
		}
		if result.DecrementFailed == 0 {
			result.State = domain.CheckoutStateStockDecremented
		}
	}

	if result.ConfirmFailures > 0 || result.DecrementFailed > 0 {
		result.NeedsReconcile = true
		result.ReconcileDetails = fmt.Sprintf("%d confirm failures, %d decrement failures", result.ConfirmFailures, result.DecrementFailed)
	}

	// The order record itself must not be lost to a stock-side failure; it is
	// built purely from the cart snapshot's frozen fields.
	order := s.orderFromEvent(orderID, ev)
	if err := s.orders.Create(ctx, order); err != nil {
		s.reconcileLog.ErrorContext(ctx, "payment captured but order creation failed",
			slog.String("transaction_id", ev.TransactionID),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("create order: %w", err)
	}
	// State reports the furthest stage reached without a failure; a degraded
	// attempt keeps the stage where degradation began, with the counters and
	// NeedsReconcile telling the rest.
	if !result.NeedsReconcile {
		result.State = domain.CheckoutStateOrderCreated
	}

	// Fire-and-forget notification trigger.
	if err := s.events.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	if !result.NeedsReconcile {
		result.State = domain.CheckoutStateCompleted
	}

	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("transaction_id", ev.TransactionID),
		slog.String("order_id", orderID),
		slog.Int("confirmed", result.ConfirmedCount),
		slog.Int("decremented", result.DecrementCount),
		slog.Bool("needs_reconcile", result.NeedsReconcile),
	)

	return result, nil
}

// HandlePaymentFailed releases any reservations tied to the attempt,
// best-effort, and creates no order.
func (s *CheckoutService) HandlePaymentFailed(ctx context.Context, ev *domain.PaymentEvent) {
	refs := ev.Reservations
	if len(refs) == 0 {
		refs = ev.Cart.ReservationRefs()
	}

	for _, ref := range refs {
		s.reservations.Release(ctx, ref)
	}

	s.logger.InfoContext(ctx, "payment failed, reservations released",
		slog.String("transaction_id", ev.TransactionID),
		slog.Int("reservation_count", len(refs)),
	)
}

// GetOrder retrieves an order by id.
func (s *CheckoutService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *CheckoutService) orderFromEvent(orderID string, ev *domain.PaymentEvent) *domain.Order {
	order := &domain.Order{
		ID:            orderID,
		UserID:        ev.Cart.UserID,
		SessionID:     ev.Cart.SessionID,
		Status:        domain.OrderStatusConfirmed,
		TotalAmount:   ev.Cart.TotalAmount(),
		Currency:      ev.Currency,
		PaymentTxnID:  ev.TransactionID,
		CapturedCents: ev.AmountCents,
	}
	if order.Currency == "" {
		order.Currency = ev.Cart.Currency
	}

	for _, item := range ev.Cart.Items {
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:   orderID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}

	return order
}

// BuildGatewayMetadata encodes the cart snapshot into the gateway's key/value
// metadata under its size caps. The verbose per-item encoding is preferred;
// when it would overflow, a compact encoding is used instead. If even the
// compact form exceeds the hard cap the encoding fails explicitly rather than
// silently truncating cart items.
func BuildGatewayMetadata(cart *domain.Cart) (map[string]string, error) {
	verbose := make(map[string]string, len(cart.Items)+2)
	verbose["cart_id"] = cart.ID
	verbose["item_count"] = strconv.Itoa(len(cart.Items))
	fits := true
	for i, item := range cart.Items {
		v := fmt.Sprintf("%s|%s|%s|%d|%d", item.VariantID, item.SKU, item.Name, item.Quantity, item.Price)
		if len(v) > MetadataValueCap {
			v = fmt.Sprintf("%s|%d|%d", item.VariantID, item.Quantity, item.Price)
		}
		if len(v) > MetadataValueCap {
			fits = false
			break
		}
		verbose["item_"+strconv.Itoa(i)] = v
	}
	if fits && metadataSize(verbose) <= MetadataTotalCap {
		return verbose, nil
	}

	// Compact fallback: all lines in a "variant:qty" list, chunked across
	// keys to honor the per-value cap.
	parts := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		parts = append(parts, item.VariantID+":"+strconv.Itoa(item.Quantity))
	}

	compact := map[string]string{
		"cart_id":    cart.ID,
		"item_count": strconv.Itoa(len(cart.Items)),
	}
	var (
		chunk strings.Builder
		idx   int
	)
	flush := func() {
		if chunk.Len() > 0 {
			compact["items_"+strconv.Itoa(idx)] = chunk.String()
			idx++
			chunk.Reset()
		}
	}
	for _, part := range parts {
		if len(part) > MetadataValueCap {
			return nil, apperrors.InvalidInput(fmt.Sprintf("cart line for variant exceeds metadata value cap: %s", part[:64]))
		}
		if chunk.Len() > 0 && chunk.Len()+1+len(part) > MetadataValueCap {
			flush()
		}
		if chunk.Len() > 0 {
			chunk.WriteByte(',')
		}
		chunk.WriteString(part)
	}
	flush()

	if metadataSize(compact) > MetadataTotalCap {
		return nil, apperrors.InvalidInput("cart too large for payment gateway metadata, even in compact encoding")
	}

	return compact, nil
}

func metadataSize(m map[string]string) int {
	total := 0
	for k, v := range m {
		total += len(k) + len(v)
	}
	return total
}
