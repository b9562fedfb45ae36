package service

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lacehub/storefront/internal/catalog"
	"github.com/lacehub/storefront/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type mockStockRepository struct {
	mock.Mock
}

func (m *mockStockRepository) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Variant), args.Error(1)
}

func (m *mockStockRepository) UpsertVariant(ctx context.Context, v *domain.Variant) (*domain.Variant, error) {
	args := m.Called(ctx, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Variant), args.Error(1)
}

func (m *mockStockRepository) AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error) {
	args := m.Called(ctx, variantID, delta, reason, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockMovement), args.Error(1)
}

func (m *mockStockRepository) Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VariantAvailability), args.Error(1)
}

func (m *mockStockRepository) BulkCheck(ctx context.Context, items []domain.StockCheckItem) ([]domain.StockCheckResult, error) {
	args := m.Called(ctx, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StockCheckResult), args.Error(1)
}

func (m *mockStockRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.Variant, int, error) {
	args := m.Called(ctx, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.Variant), args.Int(1), args.Error(2)
}

func (m *mockStockRepository) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	args := m.Called(ctx, variantID, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.StockMovement), args.Int(1), args.Error(2)
}

type mockReservationRepository struct {
	mock.Mock
}

func (m *mockReservationRepository) CreateReserving(ctx context.Context, res *domain.Reservation) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *mockReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationRepository) BestVariantForProduct(ctx context.Context, productID string) (*domain.Variant, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Variant), args.Error(1)
}

func (m *mockReservationRepository) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, id, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockReservationRepository) Release(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockReservationRepository) Confirm(ctx context.Context, id, orderID string) (bool, error) {
	args := m.Called(ctx, id, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *mockReservationRepository) ExpireStale(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	args := m.Called(ctx, cartID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockCartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *mockCartRepository) Delete(ctx context.Context, cartID string) error {
	args := m.Called(ctx, cartID)
	return args.Error(0)
}

func (m *mockCartRepository) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) PublishStockUpdated(ctx context.Context, a *domain.VariantAvailability, reason string) error {
	args := m.Called(ctx, a, reason)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishStockReserved(ctx context.Context, res *domain.Reservation) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishStockReleased(ctx context.Context, res *domain.Reservation) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishStockLow(ctx context.Context, v *domain.Variant, available int) error {
	args := m.Called(ctx, v, available)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

type mockReservationManager struct {
	mock.Mock
}

func (m *mockReservationManager) Create(ctx context.Context, in CreateReservationInput) (*domain.Reservation, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationManager) Validate(ctx context.Context, id string) (*domain.ValidationResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ValidationResult), args.Error(1)
}

func (m *mockReservationManager) Confirm(ctx context.Context, id, orderID string) error {
	args := m.Called(ctx, id, orderID)
	return args.Error(0)
}

func (m *mockReservationManager) Release(ctx context.Context, ref domain.ReservationRef) {
	m.Called(ctx, ref)
}

func (m *mockReservationManager) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

type mockStockLedger struct {
	mock.Mock
}

func (m *mockStockLedger) AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error) {
	args := m.Called(ctx, variantID, delta, reason, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockMovement), args.Error(1)
}

func (m *mockStockLedger) Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VariantAvailability), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetVariant(ctx context.Context, productID, variantID string) (*catalog.VariantInfo, error) {
	args := m.Called(ctx, productID, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.VariantInfo), args.Error(1)
}
