// Package payment checks payment gateway callbacks before an order is
// accepted as paid.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

// Verified is proof that a gateway signature checked out. It can only be
// obtained from Verifier.Verify.
type Verified struct {
	orderID   string
	paymentID string
}

func (v *Verified) GatewayOrderID() string {
	return v.orderID
}

func (v *Verified) PaymentID() string {
	return v.paymentID
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("payment key secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks signature against hex(HMAC-SHA256(secret, orderID|paymentID)).
func (v *Verifier) Verify(gatewayOrderID, paymentID, signature string) (*Verified, error) {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return nil, domain.NewError(domain.ErrPaymentNotVerified, gatewayOrderID, "gateway order id, payment id and signature are required")
	}

	expected := v.Sign(gatewayOrderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, domain.NewError(domain.ErrPaymentNotVerified, gatewayOrderID, "payment signature mismatch")
	}
	return &Verified{orderID: gatewayOrderID, paymentID: paymentID}, nil
}

// Sign returns the signature the gateway is expected to send.
func (v *Verifier) Sign(gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
