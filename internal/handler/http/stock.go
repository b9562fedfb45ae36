// Package http exposes the storefront's REST API.
package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/service"
	"github.com/lacehub/storefront/pkg/httputil"
	"github.com/lacehub/storefront/pkg/validator"
)

// StockHandler serves the stock ledger endpoints.
type StockHandler struct {
	stock  *service.StockService
	logger *slog.Logger
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(stock *service.StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{stock: stock, logger: logger}
}

type initializeVariantRequest struct {
	ProductID         string `json:"product_id" validate:"required"`
	Name              string `json:"name" validate:"required,max=255"`
	SKU               string `json:"sku" validate:"required,max=64"`
	Price             int64  `json:"price" validate:"gte=0"`
	OnHand            int    `json:"on_hand" validate:"gte=0"`
	LowStockThreshold int    `json:"low_stock_threshold" validate:"gte=0"`
}

// Create handles POST /api/v1/stock/variants.
func (h *StockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req initializeVariantRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	variant, err := h.stock.InitializeVariant(r.Context(), &domain.Variant{
		ProductID:         req.ProductID,
		Name:              req.Name,
		SKU:               req.SKU,
		Price:             req.Price,
		OnHand:            req.OnHand,
		Active:            true,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: variant})
}

// Get handles GET /api/v1/stock/variants/{variantID}.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	variant, err := h.stock.GetVariant(r.Context(), chi.URLParam(r, "variantID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: variant})
}

// Availability handles GET /api/v1/stock/variants/{variantID}/availability.
func (h *StockHandler) Availability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.stock.Availability(r.Context(), chi.URLParam(r, "variantID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: avail})
}

type stockCheckRequest struct {
	Items []struct {
		VariantID string `json:"variant_id" validate:"required"`
		Quantity  int    `json:"quantity" validate:"gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

type stockCheckResponse struct {
	Results      []domain.StockCheckResult `json:"results"`
	AllAvailable bool                      `json:"all_available"`
}

// Check handles POST /api/v1/stock/check.
func (h *StockHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req stockCheckRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]domain.StockCheckItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.StockCheckItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}

	results, all, err := h.stock.CheckAvailability(r.Context(), items)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stockCheckResponse{
		Results:      results,
		AllAvailable: all,
	}})
}

type adjustStockRequest struct {
	Delta   int    `json:"delta" validate:"required"`
	Reason  string `json:"reason" validate:"required,oneof=order_fulfillment manual_adjustment reservation_release restock"`
	OrderID string `json:"order_id,omitempty"`
}

// Adjust handles POST /api/v1/stock/variants/{variantID}/adjust.
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	var orderID *string
	if req.OrderID != "" {
		orderID = &req.OrderID
	}

	movement, err := h.stock.AdjustOnHand(r.Context(), chi.URLParam(r, "variantID"), req.Delta, req.Reason, orderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: movement})
}

// LowStock handles GET /api/v1/stock/low.
func (h *StockHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	page, perPage := paginationParams(r)

	variants, total, err := h.stock.ListLowStock(r.Context(), page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(variants, total, page, perPage))
}

// Movements handles GET /api/v1/stock/variants/{variantID}/movements.
func (h *StockHandler) Movements(w http.ResponseWriter, r *http.Request) {
	page, perPage := paginationParams(r)

	movements, total, err := h.stock.ListMovements(r.Context(), chi.URLParam(r, "variantID"), page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(movements, total, page, perPage))
}

func paginationParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	return page, perPage
}
