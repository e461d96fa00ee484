package payment

import (
	"errors"
	"testing"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

func TestVerify(t *testing.T) {
	v, err := NewVerifier("s3cr3t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := v.Sign("order_abc", "pay_123")

	t.Run("accepts a valid signature", func(t *testing.T) {
		verified, err := v.Verify("order_abc", "pay_123", sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if verified.GatewayOrderID() != "order_abc" || verified.PaymentID() != "pay_123" {
			t.Errorf("unexpected proof: %+v", verified)
		}
	})

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
	}{
		{"tampered payment id", "order_abc", "pay_124", sig},
		{"tampered order id", "order_abd", "pay_123", sig},
		{"garbage signature", "order_abc", "pay_123", "deadbeef"},
		{"missing signature", "order_abc", "pay_123", ""},
		{"missing payment id", "order_abc", "", sig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verified, err := v.Verify(tt.orderID, tt.paymentID, tt.signature)
			if !errors.Is(err, domain.ErrPaymentNotVerified) {
				t.Fatalf("expected ErrPaymentNotVerified, got %v", err)
			}
			if verified != nil {
				t.Error("expected no proof on failure")
			}
		})
	}

	t.Run("signature from another secret is rejected", func(t *testing.T) {
		other, _ := NewVerifier("other")
		if _, err := v.Verify("order_abc", "pay_123", other.Sign("order_abc", "pay_123")); !errors.Is(err, domain.ErrPaymentNotVerified) {
			t.Fatalf("expected ErrPaymentNotVerified, got %v", err)
		}
	})
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
