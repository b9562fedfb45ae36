package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/service"
	"github.com/lacehub/storefront/pkg/httputil"
	"github.com/lacehub/storefront/pkg/validator"
)

// CheckoutHandler serves the payment webhook and order endpoints. The webhook
// is the HTTP twin of the Kafka payment consumer, for gateways that deliver
// over HTTP instead.
type CheckoutHandler struct {
	checkout *service.CheckoutService
	carts    *service.CartService
	logger   *slog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(checkout *service.CheckoutService, carts *service.CartService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, carts: carts, logger: logger}
}

type paymentWebhookRequest struct {
	TransactionID string                  `json:"transaction_id" validate:"required"`
	Succeeded     bool                    `json:"succeeded"`
	AmountCents   int64                   `json:"amount_cents" validate:"gte=0"`
	Currency      string                  `json:"currency,omitempty"`
	Cart          domain.Cart             `json:"cart" validate:"required"`
	Reservations  []domain.ReservationRef `json:"reservations,omitempty"`
}

// PaymentWebhook handles POST /api/v1/payments/webhook.
func (h *CheckoutHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ev := &domain.PaymentEvent{
		TransactionID: req.TransactionID,
		Succeeded:     req.Succeeded,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Cart:          req.Cart,
		Reservations:  req.Reservations,
	}

	if !ev.Succeeded {
		h.checkout.HandlePaymentFailed(r.Context(), ev)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result, err := h.checkout.HandlePaymentSucceeded(r.Context(), ev)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

type checkoutMetadataResponse struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// Metadata handles POST /api/v1/carts/{cartID}/checkout-metadata: the payload
// the storefront hands to the payment gateway when starting a checkout.
func (h *CheckoutHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Get(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	meta, err := service.BuildGatewayMetadata(cart)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: checkoutMetadataResponse{
		AmountCents: cart.TotalAmount(),
		Currency:    cart.Currency,
		Metadata:    meta,
	}})
}
