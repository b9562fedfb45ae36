package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reservation status constants.
const (
	ReservationStatusActive    = "active"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusReleased  = "released"
	ReservationStatusExpired   = "expired"
)

// Reservation is a time-boxed claim against a variant's stock. Exactly one of
// UserID / SessionID identifies the owner. Reservations are never deleted;
// terminal rows stay for audit.
type Reservation struct {
	ID        string    `json:"id"`
	VariantID string    `json:"variant_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status"`
	OrderID   string    `json:"order_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewReservation builds an active reservation after validating owner and
// quantity invariants. ownerUserID and ownerSessionID are mutually exclusive.
func NewReservation(variantID, productID string, quantity int, ownerUserID, ownerSessionID string, expiresAt time.Time) (*Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be > 0, got %d", quantity)
	}
	if (ownerUserID == "") == (ownerSessionID == "") {
		return nil, fmt.Errorf("reservation requires exactly one owner: user or session")
	}
	return &Reservation{
		VariantID: variantID,
		ProductID: productID,
		Quantity:  quantity,
		UserID:    ownerUserID,
		SessionID: ownerSessionID,
		Status:    ReservationStatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IsActive returns true if the reservation is in the active status.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationStatusActive
}

// IsExpired returns true if the reservation has passed its expiration time.
func (r *Reservation) IsExpired() bool {
	return time.Now().UTC().After(r.ExpiresAt)
}

// Holding reports whether this reservation currently counts toward reserved
// stock: status active and not yet past its expiration.
func (r *Reservation) Holding() bool {
	return r.IsActive() && !r.IsExpired()
}

// ReservationTransitions defines the monotone status machine: active rows can
// move to any terminal status, terminal rows never move again.
func ReservationTransitions() map[string][]string {
	return map[string][]string{
		ReservationStatusActive:    {ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired},
		ReservationStatusConfirmed: {},
		ReservationStatusReleased:  {},
		ReservationStatusExpired:   {},
	}
}

// CanTransitionTo checks whether the reservation may move to the target status.
func (r *Reservation) CanTransitionTo(target string) bool {
	allowed, ok := ReservationTransitions()[r.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// ValidReservationStatuses returns the set of valid reservation statuses.
func ValidReservationStatuses() []string {
	return []string{ReservationStatusActive, ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired}
}

// IsValidReservationStatus checks whether the given status is valid.
func IsValidReservationStatus(status string) bool {
	for _, s := range ValidReservationStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// ValidationReason classifies why a reservation failed validation.
type ValidationReason string

const (
	ValidationReasonNotFound    ValidationReason = "not_found"
	ValidationReasonWrongStatus ValidationReason = "wrong_status"
	ValidationReasonExpired     ValidationReason = "expired"
)

// ValidationResult is the outcome of a read-only reservation check.
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Reason ValidationReason `json:"reason,omitempty"`
	// Status carries the actual status when Reason is wrong_status.
	Status string `json:"status,omitempty"`
}

// ReservationRef identifies a reservation held by a cart line. A simulated ref
// is handed out when the reservation store is unreachable and the cart
// proceeds in fallback mode; release and confirm paths switch on the tag
// instead of inspecting the identifier string.
type ReservationRef struct {
	ID        string
	Simulated bool
}

// RealRef returns a reference to a stored reservation.
func RealRef(id string) ReservationRef {
	return ReservationRef{ID: id}
}

// SimulatedRef returns a fallback reference that holds no stored reservation.
func SimulatedRef() ReservationRef {
	return ReservationRef{Simulated: true}
}

// IsZero reports whether the ref is unset (no reservation at all).
func (r ReservationRef) IsZero() bool {
	return !r.Simulated && r.ID == ""
}

type reservationRefJSON struct {
	ID        string `json:"id,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

// MarshalJSON encodes the ref with an explicit tag.
func (r ReservationRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(reservationRefJSON{ID: r.ID, Simulated: r.Simulated})
}

// UnmarshalJSON decodes the tagged form and rejects refs that claim to be both
// simulated and stored.
func (r *ReservationRef) UnmarshalJSON(data []byte) error {
	var raw reservationRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Simulated && raw.ID != "" {
		return fmt.Errorf("reservation ref cannot be both simulated and carry id %q", raw.ID)
	}
	r.ID = raw.ID
	r.Simulated = raw.Simulated
	return nil
}
