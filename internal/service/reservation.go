package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/repository"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// DefaultReservationTTL is used when a caller does not specify a TTL.
const DefaultReservationTTL = 15 * time.Minute

// EventPublisher is the subset of the event producer the services need.
// Satisfied by *event.Producer.
type EventPublisher interface {
	PublishStockUpdated(ctx context.Context, a *domain.VariantAvailability, reason string) error
	PublishStockReserved(ctx context.Context, res *domain.Reservation) error
	PublishStockReleased(ctx context.Context, res *domain.Reservation) error
	PublishStockLow(ctx context.Context, v *domain.Variant, available int) error
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
}

// transientRetries bounds how often a transient store error is retried before
// being reported as a failure.
const transientRetries = 3

// retryTransient runs fn up to transientRetries times with a short backoff.
// Typed application errors (insufficient stock, not found, state conflicts)
// are never retried; only raw store errors are considered transient.
func retryTransient(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < transientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrInsufficientStock) {
			return err
		}
	}
	return err
}

// CreateReservationInput carries the parameters for a new reservation. When
// VariantID is empty, the active variant of ProductID with the highest
// available stock is selected.
type CreateReservationInput struct {
	VariantID string
	ProductID string
	Quantity  int
	UserID    string
	SessionID string
	TTL       time.Duration
}

// ReservationService implements the reservation lifecycle: create, extend,
// validate, confirm, release, and the expiration sweep.
type ReservationService struct {
	reservations repository.ReservationRepository
	events       EventPublisher
	logger       *slog.Logger
	defaultTTL   time.Duration
}

// NewReservationService creates a new reservation service.
func NewReservationService(
	reservations repository.ReservationRepository,
	events EventPublisher,
	logger *slog.Logger,
	defaultTTL time.Duration,
) *ReservationService {
	if defaultTTL <= 0 {
		defaultTTL = DefaultReservationTTL
	}
	return &ReservationService{
		reservations: reservations,
		events:       events,
		logger:       logger,
		defaultTTL:   defaultTTL,
	}
}

// Create atomically verifies availability and inserts an active reservation.
// Insufficient stock comes back as a typed 409; transient store errors are
// retried a bounded number of times before being reported.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (*domain.Reservation, error) {
	if in.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be > 0")
	}
	if in.VariantID == "" && in.ProductID == "" {
		return nil, apperrors.InvalidInput("variant_id or product_id is required")
	}
	if in.TTL <= 0 {
		in.TTL = s.defaultTTL
	}

	variantID := in.VariantID
	productID := in.ProductID

	// Variant selection by product: the active variant with the highest
	// derived availability.
	if variantID == "" {
		variant, err := s.reservations.BestVariantForProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.InsufficientStock(fmt.Sprintf("no active variant for product %s", productID))
			}
			return nil, fmt.Errorf("select variant for product: %w", err)
		}
		variantID = variant.ID
	}

	res, err := domain.NewReservation(variantID, productID, in.Quantity, in.UserID, in.SessionID, time.Now().UTC().Add(in.TTL))
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	err = retryTransient(ctx, func() error {
		return s.reservations.CreateReserving(ctx, res)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientStock) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	if err := s.events.PublishStockReserved(ctx, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.reserved event",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "reservation created",
		slog.String("reservation_id", res.ID),
		slog.String("variant_id", res.VariantID),
		slog.Int("quantity", res.Quantity),
		slog.Time("expires_at", res.ExpiresAt),
	)

	return res, nil
}

// Extend pushes an active reservation's expiration forward by ttl. Terminal or
// already-expired reservations fail with a typed 409; unknown ids with a 404.
func (s *ReservationService) Extend(ctx context.Context, id string, ttl time.Duration) (*domain.Reservation, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	expiresAt := time.Now().UTC().Add(ttl)
	ok, err := s.reservations.Extend(ctx, id, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("extend reservation: %w", err)
	}
	if !ok {
		return nil, s.stateError(ctx, id)
	}

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation after extend: %w", err)
	}

	s.logger.InfoContext(ctx, "reservation extended",
		slog.String("reservation_id", id),
		slog.Time("expires_at", res.ExpiresAt),
	)

	return res, nil
}

// Validate is a read-only check: valid iff status is active and expiration is
// in the future. Safe to call at polling frequency; it never mutates state.
func (s *ReservationService) Validate(ctx context.Context, id string) (*domain.ValidationResult, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonNotFound}, nil
		}
		return nil, fmt.Errorf("validate reservation: %w", err)
	}

	if !res.IsActive() {
		return &domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonWrongStatus, Status: res.Status}, nil
	}
	if res.IsExpired() {
		return &domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonExpired}, nil
	}

	return &domain.ValidationResult{Valid: true}, nil
}

// Release transitions active -> released, best-effort. It is idempotent,
// no-ops on simulated refs, and swallows store errors: release is advisory
// cleanup and must never block the user-facing action that triggered it. The
// expiration sweep is the backstop.
func (s *ReservationService) Release(ctx context.Context, ref domain.ReservationRef) {
	if ref.Simulated || ref.IsZero() {
		return
	}

	ok, err := s.reservations.Release(ctx, ref.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "reservation release failed, sweep will reclaim the hold",
			slog.String("reservation_id", ref.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		// Already terminal; releasing twice is a no-op, not an error.
		return
	}

	if res, err := s.reservations.GetByID(ctx, ref.ID); err == nil {
		if err := s.events.PublishStockReleased(ctx, res); err != nil {
			s.logger.WarnContext(ctx, "failed to publish stock.released event",
				slog.String("reservation_id", ref.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "reservation released",
		slog.String("reservation_id", ref.ID),
	)
}

// Confirm transitions active -> confirmed and stores the order reference. The
// precondition check is atomic with the transition, so a concurrent
// sweep-expire and confirm produce exactly one winner; the loser fails closed.
func (s *ReservationService) Confirm(ctx context.Context, id, orderID string) error {
	if orderID == "" {
		return apperrors.InvalidInput("order reference is required")
	}

	ok, err := s.reservations.Confirm(ctx, id, orderID)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}
	if !ok {
		return s.stateError(ctx, id)
	}

	s.logger.InfoContext(ctx, "reservation confirmed",
		slog.String("reservation_id", id),
		slog.String("order_id", orderID),
	)

	return nil
}

// ExpireStale sweeps all active reservations past expiration into the expired
// status. Set-based and idempotent; a concurrent sweep finds nothing left.
func (s *ReservationService) ExpireStale(ctx context.Context) (int64, error) {
	count, err := s.reservations.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire stale reservations: %w", err)
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "expired stale reservations",
			slog.Int64("count", count),
		)
	}

	return count, nil
}

// Get retrieves a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// stateError inspects a reservation whose conditional transition matched no
// rows and returns the appropriate typed error.
func (s *ReservationService) stateError(ctx context.Context, id string) error {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("reservation", id)
		}
		return fmt.Errorf("inspect reservation state: %w", err)
	}

	if res.Status == domain.ReservationStatusExpired || (res.IsActive() && res.IsExpired()) {
		return apperrors.ReservationExpired(id)
	}
	return apperrors.ReservationState(id, res.Status)
}
