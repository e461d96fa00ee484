package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrRevertWindowExpired   = errors.New("revert window expired")
	ErrRevertTooFarBack      = errors.New("revert too far back")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrPaymentNotVerified    = errors.New("payment not verified")
	ErrCodNotEligible        = errors.New("cash on delivery not available for address")
	ErrRefundAlreadyRecorded = errors.New("refund already recorded")

	ErrOrderNotFound          = errors.New("order not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrInvalidSelection       = errors.New("invalid variant selection")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrForbidden              = errors.New("forbidden")
	ErrConcurrentUpdate       = errors.New("concurrent update")
	ErrReconciliationRequired = errors.New("stock reconciliation required")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrReconciliationRequired, "reconciliation_required"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrRevertWindowExpired, "revert_window_expired"},
	{ErrRevertTooFarBack, "revert_too_far_back"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrPaymentNotVerified, "payment_not_verified"},
	{ErrCodNotEligible, "cod_not_eligible"},
	{ErrRefundAlreadyRecorded, "refund_already_recorded"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrProductNotFound, "product_not_found"},
	{ErrInvalidSelection, "invalid_selection"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrForbidden, "forbidden"},
	{ErrConcurrentUpdate, "concurrent_update"},
}

// Kind returns the stable machine-readable name of the taxonomy error wrapped
// by err, or "internal" for anything else.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// Retryable reports whether the caller may resubmit the same request after
// refreshing its view of the catalog or the order.
func Retryable(err error) bool {
	if errors.Is(err, ErrReconciliationRequired) {
		return false
	}
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrConcurrentUpdate)
}

// Error attaches the offending entity and a user-facing message to one of the
// sentinel errors above.
type Error struct {
	Err      error
	EntityID string
	Message  string
}

func NewError(err error, entityID, message string) *Error {
	return &Error{Err: err, EntityID: entityID, Message: message}
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = e.Message
	}
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s", e.EntityID, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

type StockShortfall struct {
	ProductID string     `json:"product_id"`
	Variant   VariantKey `json:"variant"`
	Requested int        `json:"requested"`
	Available int        `json:"available"`
}

// InsufficientStockError names every cart line that could not be satisfied.
type InsufficientStockError struct {
	Shortfalls []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (%s): requested %d, available %d", s.ProductID, s.Variant, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// EntityID returns the id most relevant to err, if one was attached.
func EntityID(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.EntityID
	}
	var se *InsufficientStockError
	if errors.As(err, &se) && len(se.Shortfalls) > 0 {
		return se.Shortfalls[0].ProductID
	}
	return ""
}
