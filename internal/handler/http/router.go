package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lacehub/storefront/pkg/health"
	"github.com/lacehub/storefront/pkg/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Stock       *StockHandler
	Reservation *ReservationHandler
	Cart        *CartHandler
	Checkout    *CheckoutHandler
	Health      *health.Handler
}

// NewRouter builds the chi router with the full middleware stack and all API
// routes mounted under /api/v1.
func NewRouter(h Handlers, cors middleware.CORSConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.CORS(cors))

	r.Get("/healthz", h.Health.LivenessHandler())
	r.Get("/readyz", h.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stock", func(r chi.Router) {
			r.Post("/variants", h.Stock.Create)
			r.Get("/variants/{variantID}", h.Stock.Get)
			r.Get("/variants/{variantID}/availability", h.Stock.Availability)
			r.Post("/variants/{variantID}/adjust", h.Stock.Adjust)
			r.Get("/variants/{variantID}/movements", h.Stock.Movements)
			r.Post("/check", h.Stock.Check)
			r.Get("/low", h.Stock.LowStock)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reservation.Create)
			r.Post("/bulk", h.Reservation.CreateBulk)
			r.Post("/expire-stale", h.Reservation.ExpireStale)
			r.Get("/{reservationID}", h.Reservation.Get)
			r.Get("/{reservationID}/validate", h.Reservation.Validate)
			r.Post("/{reservationID}/extend", h.Reservation.Extend)
			r.Post("/{reservationID}/release", h.Reservation.Release)
			r.Post("/{reservationID}/confirm", h.Reservation.Confirm)
		})

		r.Route("/carts", func(r chi.Router) {
			r.Post("/items", h.Cart.AddItem)
			r.Get("/{cartID}", h.Cart.Get)
			r.Delete("/{cartID}", h.Cart.Clear)
			r.Put("/{cartID}/items/{variantID}", h.Cart.UpdateItem)
			r.Delete("/{cartID}/items/{variantID}", h.Cart.RemoveItem)
			r.Post("/{cartID}/revalidate", h.Cart.Revalidate)
			r.Post("/{cartID}/checkout-metadata", h.Checkout.Metadata)
		})

		r.Post("/payments/webhook", h.Checkout.PaymentWebhook)
		r.Get("/orders/{orderID}", h.Checkout.GetOrder)
	})

	return r
}
