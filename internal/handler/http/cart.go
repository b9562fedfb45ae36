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

// CartHandler serves the cart endpoints.
type CartHandler struct {
	carts  *service.CartService
	logger *slog.Logger
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(carts *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, logger: logger}
}

// Get handles GET /api/v1/carts/{cartID}.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Get(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

type addItemRequest struct {
	CartID    string `json:"cart_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// AddItem handles POST /api/v1/carts/items. The cart is created on the first
// add; subsequent requests carry the returned cart id.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.carts.AddItem(r.Context(), service.AddItemInput{
		CartID:    req.CartID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

// UpdateItem handles PUT /api/v1/carts/{cartID}/items/{variantID}.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.carts.UpdateQuantity(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "variantID"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem handles DELETE /api/v1/carts/{cartID}/items/{variantID}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemoveItem(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "variantID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// Clear handles DELETE /api/v1/carts/{cartID}.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), chi.URLParam(r, "cartID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type revalidateResponse struct {
	Cart   *domain.Cart       `json:"cart"`
	Issues []domain.CartIssue `json:"issues"`
}

// Revalidate handles POST /api/v1/carts/{cartID}/revalidate.
func (h *CartHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	cart, issues, err := h.carts.Revalidate(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if issues == nil {
		issues = []domain.CartIssue{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: revalidateResponse{Cart: cart, Issues: issues}})
}
