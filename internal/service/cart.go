package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lacehub/storefront/internal/catalog"
	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/repository"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// cartReserver is the slice of the reservation service the cart uses.
// Satisfied by *ReservationService.
type cartReserver interface {
	Create(ctx context.Context, in CreateReservationInput) (*domain.Reservation, error)
	Validate(ctx context.Context, id string) (*domain.ValidationResult, error)
	Release(ctx context.Context, ref domain.ReservationRef)
}

// ProductCatalog supplies the frozen display fields for a cart line.
// Satisfied by *catalog.Client.
type ProductCatalog interface {
	GetVariant(ctx context.Context, productID, variantID string) (*catalog.VariantInfo, error)
}

// availabilityChecker is the slice of the stock service the revalidation
// watcher uses. Satisfied by *StockService.
type availabilityChecker interface {
	Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error)
}

// AddItemInput describes one add-to-cart request.
type AddItemInput struct {
	CartID    string
	UserID    string
	SessionID string
	ProductID string
	VariantID string
	Quantity  int
}

// CartService manages shopper carts. Every mutation follows reserve-first
// semantics: stock is held before the cart line changes, so a cart line with a
// real reservation ref is always backed by a hold.
type CartService struct {
	carts        repository.CartRepository
	reservations cartReserver
	stock        availabilityChecker
	catalog      ProductCatalog
	logger       *slog.Logger
}

// NewCartService creates a new cart service.
func NewCartService(
	carts repository.CartRepository,
	reservations cartReserver,
	stock availabilityChecker,
	productCatalog ProductCatalog,
	log *slog.Logger,
) *CartService {
	return &CartService{
		carts:        carts,
		reservations: reservations,
		stock:        stock,
		catalog:      productCatalog,
		logger:       log,
	}
}

// Get retrieves a cart by id.
func (s *CartService) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("cart", cartID)
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// AddItem adds a variant to the cart, reserving stock first. If the
// reservation fails the cart is left untouched and the stock error is
// returned as-is, so the shopper sees the real availability failure.
func (s *CartService) AddItem(ctx context.Context, in AddItemInput) (*domain.Cart, error) {
	if in.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}
	if in.ProductID == "" || in.VariantID == "" {
		return nil, apperrors.InvalidInput("product_id and variant_id are required")
	}

	cart, err := s.getOrCreate(ctx, in.CartID, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}

	if idx := cart.FindItemIndex(in.VariantID); idx >= 0 {
		// Same variant already in the cart: treat as a quantity update so the
		// old hold is replaced, not stacked.
		return s.UpdateQuantity(ctx, cart.ID, in.VariantID, cart.Items[idx].Quantity+in.Quantity)
	}

	info, err := s.catalog.GetVariant(ctx, in.ProductID, in.VariantID)
	if err != nil {
		return nil, fmt.Errorf("lookup variant: %w", err)
	}
	if !info.Active {
		return nil, apperrors.InvalidInput("variant is not available for sale")
	}

	// Reserve before mutating the cart.
	res, err := s.reservations.Create(ctx, CreateReservationInput{
		VariantID: in.VariantID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		UserID:    cart.UserID,
		SessionID: cart.SessionID,
	})
	if err != nil {
		return nil, err
	}

	cart.Items = append(cart.Items, domain.CartItem{
		ProductID:   in.ProductID,
		VariantID:   in.VariantID,
		Name:        info.Name,
		SKU:         info.SKU,
		Price:       info.Price,
		Quantity:    in.Quantity,
		Reservation: domain.RealRef(res.ID),
	})
	if cart.Currency == "" {
		cart.Currency = info.Currency
	}

	if err := s.save(ctx, cart); err != nil {
		// The hold would leak until the sweep; release it eagerly.
		s.reservations.Release(ctx, domain.RealRef(res.ID))
		return nil, err
	}

	return cart, nil
}

// UpdateQuantity changes a line's quantity by releasing the old hold and
// creating a fresh one for the new quantity. If the new reservation fails,
// the previous line is restored unchanged: a failed resize never costs the
// shopper the quantity they already had, beyond re-reserving it.
func (s *CartService) UpdateQuantity(ctx context.Context, cartID, variantID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive; use remove to delete a line")
	}

	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	idx := cart.FindItemIndex(variantID)
	if idx < 0 {
		return nil, apperrors.NotFound("cart item", variantID)
	}

	prev := cart.Items[idx]
	s.reservations.Release(ctx, prev.Reservation)

	res, err := s.reservations.Create(ctx, CreateReservationInput{
		VariantID: variantID,
		ProductID: prev.ProductID,
		Quantity:  quantity,
		UserID:    cart.UserID,
		SessionID: cart.SessionID,
	})
	if err != nil {
		// Restore the previous hold for the old quantity. If even that falls
		// through the line stays in the cart without a live hold; the
		// revalidation watcher will catch up with it.
		restored, restoreErr := s.reservations.Create(ctx, CreateReservationInput{
			VariantID: variantID,
			ProductID: prev.ProductID,
			Quantity:  prev.Quantity,
			UserID:    cart.UserID,
			SessionID: cart.SessionID,
		})
		if restoreErr != nil {
			s.logger.WarnContext(ctx, "failed to restore hold after quantity update failure",
				slog.String("cart_id", cartID),
				slog.String("variant_id", variantID),
				slog.Int("quantity", prev.Quantity),
				slog.String("error", restoreErr.Error()),
			)
		} else {
			cart.Items[idx].Reservation = domain.RealRef(restored.ID)
			if saveErr := s.save(ctx, cart); saveErr != nil {
				s.logger.WarnContext(ctx, "failed to persist restored cart line",
					slog.String("cart_id", cartID),
					slog.String("error", saveErr.Error()),
				)
			}
		}
		return nil, err
	}

	cart.Items[idx].Quantity = quantity
	cart.Items[idx].Reservation = domain.RealRef(res.ID)

	if err := s.save(ctx, cart); err != nil {
		s.reservations.Release(ctx, domain.RealRef(res.ID))
		return nil, err
	}

	return cart, nil
}

// RemoveItem deletes a line from the cart. The hold is released best-effort
// first; removal succeeds even when the release fails, since the sweep will
// reclaim an orphaned hold anyway.
func (s *CartService) RemoveItem(ctx context.Context, cartID, variantID string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	idx := cart.FindItemIndex(variantID)
	if idx < 0 {
		return nil, apperrors.NotFound("cart item", variantID)
	}

	s.reservations.Release(ctx, cart.Items[idx].Reservation)
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear releases every hold in the cart and deletes it.
func (s *CartService) Clear(ctx context.Context, cartID string) error {
	cart, err := s.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	for _, ref := range cart.ReservationRefs() {
		s.reservations.Release(ctx, ref)
	}
	if err := s.carts.Delete(ctx, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// Revalidate reconciles a cart against current availability and against the
// reservations backing its lines. Lines whose variant has zero availability
// are removed; lines whose quantity exceeds what is available are clamped down
// and re-reserved at the lower quantity; lines whose hold has expired are
// re-reserved at whatever quantity still fits (a dead hold no longer counts in
// the reserved sum, so its quantity is never credited back). The returned
// issues describe every silent correction so the storefront can surface them
// to the shopper.
func (s *CartService) Revalidate(ctx context.Context, cartID string) (*domain.Cart, []domain.CartIssue, error) {
	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}

	var issues []domain.CartIssue
	kept := cart.Items[:0]
	changed := false

	for _, item := range cart.Items {
		avail, err := s.stock.Availability(ctx, item.VariantID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				// Variant delisted: drop the line.
				s.reservations.Release(ctx, item.Reservation)
				issues = append(issues, domain.CartIssue{
					VariantID:   item.VariantID,
					Name:        item.Name,
					Kind:        domain.CartIssueRemoved,
					OldQuantity: item.Quantity,
				})
				changed = true
				continue
			}
			// Availability unknown: keep the line as-is rather than punish
			// the shopper for a transient read failure.
			kept = append(kept, item)
			continue
		}

		// An active hold counts its own quantity inside the reserved sum, so
		// a line whose hold is verified active can keep what is available plus
		// what it already holds. An expired or otherwise dead hold contributes
		// nothing: the stock it once held is up for grabs again.
		realRef := item.Reservation.ID != "" && !item.Reservation.Simulated
		holdActive := false
		if realRef {
			check, vErr := s.reservations.Validate(ctx, item.Reservation.ID)
			if vErr != nil {
				// Hold state unknown: keep the line as-is rather than punish
				// the shopper for a transient read failure.
				kept = append(kept, item)
				continue
			}
			holdActive = check.Valid
		}

		capacity := avail.Available
		if holdActive {
			capacity += item.Quantity
		}

		if realRef && !holdActive && capacity >= item.Quantity {
			// Dead hold but the full quantity still fits: re-reserve at the
			// same quantity so checkout does not abort on an expired ref.
			res, resErr := s.reservations.Create(ctx, CreateReservationInput{
				VariantID: item.VariantID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UserID:    cart.UserID,
				SessionID: cart.SessionID,
			})
			if resErr != nil {
				issues = append(issues, domain.CartIssue{
					VariantID:   item.VariantID,
					Name:        item.Name,
					Kind:        domain.CartIssueRemoved,
					OldQuantity: item.Quantity,
				})
				changed = true
				continue
			}
			item.Reservation = domain.RealRef(res.ID)
			kept = append(kept, item)
			changed = true
			continue
		}

		switch {
		case capacity <= 0:
			s.reservations.Release(ctx, item.Reservation)
			issues = append(issues, domain.CartIssue{
				VariantID:   item.VariantID,
				Name:        item.Name,
				Kind:        domain.CartIssueRemoved,
				OldQuantity: item.Quantity,
			})
			changed = true

		case capacity < item.Quantity:
			s.reservations.Release(ctx, item.Reservation)
			res, resErr := s.reservations.Create(ctx, CreateReservationInput{
				VariantID: item.VariantID,
				ProductID: item.ProductID,
				Quantity:  capacity,
				UserID:    cart.UserID,
				SessionID: cart.SessionID,
			})
			if resErr != nil {
				// Could not hold even the clamped quantity: drop the line.
				issues = append(issues, domain.CartIssue{
					VariantID:   item.VariantID,
					Name:        item.Name,
					Kind:        domain.CartIssueRemoved,
					OldQuantity: item.Quantity,
				})
				changed = true
				continue
			}
			issues = append(issues, domain.CartIssue{
				VariantID:   item.VariantID,
				Name:        item.Name,
				Kind:        domain.CartIssueAdjusted,
				OldQuantity: item.Quantity,
				NewQuantity: capacity,
			})
			item.Quantity = capacity
			item.Reservation = domain.RealRef(res.ID)
			kept = append(kept, item)
			changed = true

		default:
			kept = append(kept, item)
		}
	}

	cart.Items = kept
	if changed {
		if len(cart.Items) == 0 {
			if err := s.carts.Delete(ctx, cart.ID); err != nil {
				return nil, issues, fmt.Errorf("delete emptied cart: %w", err)
			}
		} else if err := s.save(ctx, cart); err != nil {
			return nil, issues, err
		}
	}

	return cart, issues, nil
}

func (s *CartService) getOrCreate(ctx context.Context, cartID, userID, sessionID string) (*domain.Cart, error) {
	if cartID != "" {
		cart, err := s.Get(ctx, cartID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	if (userID == "") == (sessionID == "") {
		return nil, apperrors.InvalidInput("cart requires exactly one owner: user or session")
	}

	now := time.Now().UTC()
	return &domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	if err := s.carts.Save(ctx, cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
