package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lacehub/storefront/internal/domain"
	pkgkafka "github.com/lacehub/storefront/pkg/kafka"
)

// Kafka topic constants for storefront domain events.
const (
	TopicStockUpdated  = "storefront.stock.updated"
	TopicStockReserved = "storefront.stock.reserved"
	TopicStockReleased = "storefront.stock.released"
	TopicStockLow      = "storefront.stock.low"
	TopicOrderCreated  = "storefront.order.created"

	// Topics consumed from the payment gateway.
	TopicPaymentSucceeded = "storefront.payment.succeeded"
	TopicPaymentFailed    = "storefront.payment.failed"
)

// Aggregate type constants.
const (
	AggregateTypeStock = "stock"
	AggregateTypeOrder = "order"
)

// Source identifier for events originating from this service.
const SourceStorefront = "storefront"

// StockUpdatedData is the payload for a stock.updated event.
type StockUpdatedData struct {
	VariantID string `json:"variant_id"`
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// StockReservedData is the payload for a stock.reserved event.
type StockReservedData struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	ExpiresAt     string `json:"expires_at"`
}

// StockReleasedData is the payload for a stock.released event.
type StockReleasedData struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
}

// StockLowData is the payload for a stock.low event.
type StockLowData struct {
	VariantID         string `json:"variant_id"`
	ProductID         string `json:"product_id"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// OrderCreatedData is the payload for an order.created event, consumed by the
// notification system fire-and-forget.
type OrderCreatedData struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	ItemCount   int    `json:"item_count"`
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishStockUpdated publishes a stock.updated event.
func (p *Producer) PublishStockUpdated(ctx context.Context, a *domain.VariantAvailability, reason string) error {
	data := StockUpdatedData{
		VariantID: a.VariantID,
		ProductID: a.ProductID,
		OnHand:    a.OnHand,
		Available: a.Available,
		Reason:    reason,
	}

	event, err := pkgkafka.NewEvent(TopicStockUpdated, a.VariantID, AggregateTypeStock, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create stock.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockUpdated, event); err != nil {
		return fmt.Errorf("publish stock.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published stock.updated event",
		slog.String("variant_id", a.VariantID),
		slog.Int("available", a.Available),
	)

	return nil
}

// PublishStockReserved publishes a stock.reserved event.
func (p *Producer) PublishStockReserved(ctx context.Context, res *domain.Reservation) error {
	data := StockReservedData{
		ReservationID: res.ID,
		VariantID:     res.VariantID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		ExpiresAt:     res.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	event, err := pkgkafka.NewEvent(TopicStockReserved, res.VariantID, AggregateTypeStock, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create stock.reserved event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockReserved, event); err != nil {
		return fmt.Errorf("publish stock.reserved event: %w", err)
	}

	p.logger.DebugContext(ctx, "published stock.reserved event",
		slog.String("reservation_id", res.ID),
		slog.String("variant_id", res.VariantID),
	)

	return nil
}

// PublishStockReleased publishes a stock.released event.
func (p *Producer) PublishStockReleased(ctx context.Context, res *domain.Reservation) error {
	data := StockReleasedData{
		ReservationID: res.ID,
		VariantID:     res.VariantID,
		Quantity:      res.Quantity,
	}

	event, err := pkgkafka.NewEvent(TopicStockReleased, res.VariantID, AggregateTypeStock, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create stock.released event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockReleased, event); err != nil {
		return fmt.Errorf("publish stock.released event: %w", err)
	}

	p.logger.DebugContext(ctx, "published stock.released event",
		slog.String("reservation_id", res.ID),
	)

	return nil
}

// PublishStockLow publishes a stock.low event.
func (p *Producer) PublishStockLow(ctx context.Context, v *domain.Variant, available int) error {
	data := StockLowData{
		VariantID:         v.ID,
		ProductID:         v.ProductID,
		Available:         available,
		LowStockThreshold: v.LowStockThreshold,
	}

	event, err := pkgkafka.NewEvent(TopicStockLow, v.ID, AggregateTypeStock, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create stock.low event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockLow, event); err != nil {
		return fmt.Errorf("publish stock.low event: %w", err)
	}

	p.logger.DebugContext(ctx, "published stock.low event",
		slog.String("variant_id", v.ID),
		slog.Int("available", available),
	)

	return nil
}

// PublishOrderCreated publishes an order.created event.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	data := OrderCreatedData{
		OrderID:     order.ID,
		UserID:      order.UserID,
		SessionID:   order.SessionID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		ItemCount:   len(order.Items),
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, order.ID, AggregateTypeOrder, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create order.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
	)

	return nil
}
