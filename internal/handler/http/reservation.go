package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/service"
	"github.com/lacehub/storefront/pkg/httputil"
	"github.com/lacehub/storefront/pkg/validator"
)

// ReservationHandler serves the reservation endpoints.
type ReservationHandler struct {
	reservations *service.ReservationService
	logger       *slog.Logger
}

// NewReservationHandler creates a new reservation handler.
func NewReservationHandler(reservations *service.ReservationService, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{reservations: reservations, logger: logger}
}

type createReservationRequest struct {
	VariantID  string `json:"variant_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	UserID     string `json:"user_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" validate:"gte=0,lte=3600"`
}

func (req *createReservationRequest) toInput() service.CreateReservationInput {
	return service.CreateReservationInput{
		VariantID: req.VariantID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	}
}

// Create handles POST /api/v1/reservations.
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.reservations.Create(r.Context(), req.toInput())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: res})
}

type bulkReservationRequest struct {
	Reservations []createReservationRequest `json:"reservations" validate:"required,min=1,max=50,dive"`
}

type bulkReservationOutcome struct {
	Index         int    `json:"index"`
	ReservationID string `json:"reservation_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type bulkReservationResponse struct {
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Results   []bulkReservationOutcome `json:"results"`
}

// CreateBulk handles POST /api/v1/reservations/bulk. Each line is attempted
// independently: 201 when all succeed, 207 on a mixed outcome, 409 when every
// line fails. Already-created holds are kept on partial failure; the caller
// decides whether to release them.
func (h *ReservationHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkReservationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	resp := bulkReservationResponse{Results: make([]bulkReservationOutcome, 0, len(req.Reservations))}
	for i, line := range req.Reservations {
		res, err := h.reservations.Create(r.Context(), line.toInput())
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, bulkReservationOutcome{Index: i, Error: err.Error()})
			continue
		}
		resp.Succeeded++
		resp.Results = append(resp.Results, bulkReservationOutcome{Index: i, ReservationID: res.ID})
	}

	status := http.StatusCreated
	switch {
	case resp.Succeeded == 0:
		status = http.StatusConflict
	case resp.Failed > 0:
		status = http.StatusMultiStatus
	}

	httputil.WriteJSON(w, status, httputil.Response{Data: resp})
}

// Get handles GET /api/v1/reservations/{reservationID}.
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Get(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// Validate handles GET /api/v1/reservations/{reservationID}/validate.
func (h *ReservationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	check, err := h.reservations.Validate(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: check})
}

type extendReservationRequest struct {
	TTLSeconds int `json:"ttl_seconds,omitempty" validate:"gte=0,lte=3600"`
}

// Extend handles POST /api/v1/reservations/{reservationID}/extend.
func (h *ReservationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendReservationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.reservations.Extend(r.Context(), chi.URLParam(r, "reservationID"), time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// Release handles POST /api/v1/reservations/{reservationID}/release. Release
// is best-effort and idempotent, so this always answers 204.
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.reservations.Release(r.Context(), domain.RealRef(chi.URLParam(r, "reservationID")))
	w.WriteHeader(http.StatusNoContent)
}

type confirmReservationRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// Confirm handles POST /api/v1/reservations/{reservationID}/confirm.
func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReservationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.reservations.Confirm(r.Context(), chi.URLParam(r, "reservationID"), req.OrderID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.reservations.Get(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

type expireStaleResponse struct {
	Expired int64 `json:"expired"`
}

// ExpireStale handles POST /api/v1/reservations/expire-stale. It runs the same
// sweep the background worker runs, for operators who need it immediately.
func (h *ReservationHandler) ExpireStale(w http.ResponseWriter, r *http.Request) {
	count, err := h.reservations.ExpireStale(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: expireStaleResponse{Expired: count}})
}
