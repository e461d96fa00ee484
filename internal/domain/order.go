package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out-for-delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Rank returns the position of s on the fulfillment path
// pending < shipped < out-for-delivery < delivered. Cancelled is a side
// state and has no rank.
func (s OrderStatus) Rank() (int, bool) {
	switch s {
	case OrderStatusPending:
		return 0, true
	case OrderStatusShipped:
		return 1, true
	case OrderStatusOutForDelivery:
		return 2, true
	case OrderStatusDelivered:
		return 3, true
	}
	return 0, false
}

func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := s.Rank()
	return ok
}

// Terminal reports whether no further status transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "cod"
	PaymentMethodRazorpay PaymentMethod = "razorpay"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodRazorpay
}

type Address struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

func (a Address) Validate() error {
	switch {
	case a.Name == "":
		return NewError(ErrInvalidRequest, "", "address name is required")
	case a.Line1 == "":
		return NewError(ErrInvalidRequest, "", "address line1 is required")
	case a.City == "":
		return NewError(ErrInvalidRequest, "", "address city is required")
	case a.State == "":
		return NewError(ErrInvalidRequest, "", "address state is required")
	case a.Pincode == "":
		return NewError(ErrInvalidRequest, "", "address pincode is required")
	}
	return nil
}

// OrderItem is the purchase-time snapshot of one cart line. UnitPrice is
// captured at checkout and never re-read from the catalog.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	RAM       *string `json:"ram,omitempty"`
	Storage   *string `json:"storage,omitempty"`
	Warranty  *string `json:"warranty,omitempty"`
	Color     *string `json:"color,omitempty"`
}

func (i OrderItem) Key() VariantKey {
	return VariantKey{RAM: i.RAM, Storage: i.Storage}
}

type Order struct {
	ID                  string        `json:"id"`
	CustomerID          string        `json:"customer_id"`
	Items               []OrderItem   `json:"items"`
	Address             Address       `json:"address"`
	PaymentMethod       PaymentMethod `json:"payment_method"`
	Status              OrderStatus   `json:"status"`
	Total               int64         `json:"total"`
	CancelReason        *string       `json:"cancel_reason,omitempty"`
	RefundTransactionID *string       `json:"refund_transaction_id,omitempty"`
	RazorpayOrderID     *string       `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID   *string       `json:"razorpay_payment_id,omitempty"`
	BillURL             *string       `json:"bill_url,omitempty"`
	Version             int           `json:"version"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	StatusChangedAt     time.Time     `json:"status_changed_at"`
}

// LastTransitionAt is the server-side time of the most recent status change,
// falling back to UpdatedAt for rows written before status_changed_at existed.
func (o *Order) LastTransitionAt() time.Time {
	if o.StatusChangedAt.IsZero() {
		return o.UpdatedAt
	}
	return o.StatusChangedAt
}

func (o *Order) String() string {
	return fmt.Sprintf("order %s (%s)", o.ID, o.Status)
}
