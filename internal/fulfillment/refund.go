package fulfillment

import (
	"fmt"
	"strings"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

// Cancel moves a non-terminal order to cancelled. It releases no stock and
// records no refund.
func (m *Machine) Cancel(o *domain.Order, reason string) error {
	if o.Status.Terminal() {
		return domain.NewError(domain.ErrInvalidTransition, o.ID, fmt.Sprintf("cannot cancel an order that is %s", o.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.NewError(domain.ErrInvalidRequest, o.ID, "cancellation reason is required")
	}

	m.setStatus(o, domain.OrderStatusCancelled)
	o.CancelReason = &reason
	return nil
}

// RefundEligible reports whether a refund reference may be attached to o.
func RefundEligible(o *domain.Order) bool {
	switch o.Status {
	case domain.OrderStatusDelivered:
		return true
	case domain.OrderStatusCancelled:
		return o.PaymentMethod != domain.PaymentMethodCOD
	}
	return false
}

// RecordRefund annotates a delivered order, or a cancelled prepaid order,
// with the gateway refund reference. The status is left as is.
func (m *Machine) RecordRefund(o *domain.Order, transactionRef string) error {
	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return domain.NewError(domain.ErrInvalidRequest, o.ID, "refund transaction reference is required")
	}
	if o.RefundTransactionID != nil {
		return domain.NewError(domain.ErrRefundAlreadyRecorded, o.ID, fmt.Sprintf("refund %s already recorded", *o.RefundTransactionID))
	}
	if !RefundEligible(o) {
		return domain.NewError(domain.ErrInvalidTransition, o.ID, fmt.Sprintf("refund not allowed for %s %s order", o.Status, o.PaymentMethod))
	}

	o.RefundTransactionID = &transactionRef
	o.UpdatedAt = m.now()
	return nil
}
