package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lacehub/storefront/internal/domain"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// CartRevalidator is the slice of the cart service the watcher needs.
// Satisfied by *service.CartService.
type CartRevalidator interface {
	Revalidate(ctx context.Context, cartID string) (*domain.Cart, []domain.CartIssue, error)
}

// CartIDLister lists the carts currently stored. Satisfied by the cart
// repository.
type CartIDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// CartWatcher periodically revalidates every stored cart against live
// availability, so a shopper who walks away from an open cart still sees
// honest quantities when they come back. Carts that revalidate to empty are
// deleted by the cart service; sessions that ended simply age out of the
// store via TTL, which also ends their watching.
type CartWatcher struct {
	carts    CartIDLister
	cartSvc  CartRevalidator
	interval time.Duration
	logger   *slog.Logger
}

// NewCartWatcher creates a watcher with the given interval.
func NewCartWatcher(carts CartIDLister, cartSvc CartRevalidator, interval time.Duration, logger *slog.Logger) *CartWatcher {
	return &CartWatcher{
		carts:    carts,
		cartSvc:  cartSvc,
		interval: interval,
		logger:   logger,
	}
}

// Run revalidates all carts on the configured interval until the context is
// cancelled.
func (w *CartWatcher) Run(ctx context.Context) {
	w.logger.Info("cart revalidation watcher started",
		slog.Duration("interval", w.interval),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cart revalidation watcher stopped")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *CartWatcher) pass(ctx context.Context) {
	ids, err := w.carts.ListIDs(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "cart revalidation pass failed to list carts",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		_, issues, err := w.cartSvc.Revalidate(ctx, id)
		if err != nil {
			// A cart can expire between the listing and the revalidation.
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			w.logger.WarnContext(ctx, "cart revalidation failed",
				slog.String("cart_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, issue := range issues {
			w.logger.InfoContext(ctx, "cart line corrected during revalidation",
				slog.String("cart_id", id),
				slog.String("variant_id", issue.VariantID),
				slog.String("kind", issue.Kind),
				slog.Int("old_quantity", issue.OldQuantity),
				slog.Int("new_quantity", issue.NewQuantity),
			)
		}
	}
}
