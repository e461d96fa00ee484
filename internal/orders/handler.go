package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-fulfillment/internal/checkout"
	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/payment"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderActorRole      = "X-Actor-Role"
	ActorRoleAdmin       = "admin"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*domain.Order, error)
}

type PaymentVerifier interface {
	Verify(gatewayOrderID, paymentID, signature string) (*payment.Verified, error)
}

// Idempotency remembers the order placed for a client supplied key.
type Idempotency interface {
	Begin(ctx context.Context, customerID, key string) (orderID string, acquired bool, err error)
	Complete(ctx context.Context, customerID, key, orderID string) error
	Abort(ctx context.Context, customerID, key string) error
}

type Handler struct {
	service     *Service
	checkout    Checkouter
	verifier    PaymentVerifier
	idempotency Idempotency
	logger      *slog.Logger
}

// NewHandler builds the orders HTTP handler. idempotency may be nil, in which
// case Idempotency-Key headers are ignored.
func NewHandler(service *Service, checkout Checkouter, verifier PaymentVerifier, idempotency Idempotency, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		checkout:    checkout,
		verifier:    verifier,
		idempotency: idempotency,
		logger:      logger,
	}
}

type paymentProof struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

type checkoutRequest struct {
	CustomerID    string               `json:"customer_id"`
	Items         []domain.CartLine    `json:"items"`
	Address       domain.Address       `json:"address"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Payment       *paymentProof        `json:"payment,omitempty"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, "", "invalid request body"))
		return
	}

	cr := checkout.Request{
		CustomerID:    req.CustomerID,
		Lines:         req.Items,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
	}

	if req.PaymentMethod == domain.PaymentMethodRazorpay && req.Payment != nil {
		verified, err := h.verifier.Verify(req.Payment.RazorpayOrderID, req.Payment.RazorpayPaymentID, req.Payment.RazorpaySignature)
		if err != nil {
			h.logger.Warn("payment verification failed", "customer_id", req.CustomerID, "razorpay_order_id", req.Payment.RazorpayOrderID)
			h.writeError(w, err)
			return
		}
		cr.Payment = verified
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.idempotency != nil && req.CustomerID != "" {
		orderID, acquired, err := h.idempotency.Begin(r.Context(), req.CustomerID, key)
		switch {
		case err != nil:
			h.logger.Warn("idempotency store unavailable", "error", err, "customer_id", req.CustomerID)
			key = ""
		case orderID != "":
			h.replay(w, r, orderID)
			return
		case !acquired:
			h.writeError(w, domain.NewError(domain.ErrConcurrentUpdate, req.CustomerID, "a checkout with this idempotency key is already in progress"))
			return
		}
	} else {
		key = ""
	}

	order, err := h.checkout.Checkout(r.Context(), cr)
	if err != nil {
		if key != "" {
			if aerr := h.idempotency.Abort(r.Context(), req.CustomerID, key); aerr != nil {
				h.logger.Warn("failed to release idempotency key", "error", aerr, "customer_id", req.CustomerID)
			}
		}
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("checkout failed", "error", err, "customer_id", req.CustomerID)
		}
		h.writeError(w, err)
		return
	}

	if key != "" {
		if err := h.idempotency.Complete(r.Context(), req.CustomerID, key, order.ID); err != nil {
			h.logger.Warn("failed to record idempotency key", "error", err, "order_id", order.ID)
		}
	}

	h.writeJSON(w, http.StatusCreated, h.view(order))
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := h.service.Get(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to load replayed order", "error", err, "order_id", orderID)
		h.writeError(w, err)
		return
	}

	h.logger.Info("checkout replayed", "order_id", orderID)
	w.Header().Set("Idempotent-Replayed", "true")
	h.writeJSON(w, http.StatusOK, h.view(order))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("failed to get order", "error", err, "id", id)
		}
		h.writeError(w, err)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, h.view(order))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context(), r.URL.Query().Get("customer_id"))
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = h.view(&orders[i])
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	isAdmin := r.Header.Get(HeaderActorRole) == ActorRoleAdmin
	order, err := h.service.TransitionStatus(r.Context(), id, req.Status, isAdmin)
	if err != nil {
		h.logCommandFailure("failed to update order status", err, id)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(order))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id, req.Reason)
	if err != nil {
		h.logCommandFailure("failed to cancel order", err, id)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(order))
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	order, err := h.service.RecordRefund(r.Context(), id, req.TransactionID)
	if err != nil {
		h.logCommandFailure("failed to record refund", err, id)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(order))
}

// orderResponse is an order as served to clients, with the revert hint the
// admin console uses to offer an undo.
type orderResponse struct {
	*domain.Order
	CanRevert bool `json:"can_revert"`
}

func (h *Handler) view(order *domain.Order) orderResponse {
	return orderResponse{Order: order, CanRevert: h.service.CanRevert(order)}
}

func (h *Handler) logCommandFailure(msg string, err error, orderID string) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "order_id", orderID)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error      string                  `json:"error"`
	Kind       string                  `json:"kind"`
	EntityID   string                  `json:"entity_id,omitempty"`
	Retryable  bool                    `json:"retryable"`
	Shortfalls []domain.StockShortfall `json:"shortfalls,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Kind:      domain.Kind(err),
		EntityID:  domain.EntityID(err),
		Retryable: domain.Retryable(err),
	}

	switch {
	case errors.Is(err, domain.ErrReconciliationRequired):
		resp.Error = "order could not be placed and stock needs reconciliation"
	case resp.Kind == "internal":
		resp.Error = "internal server error"
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Shortfalls = stockErr.Shortfalls
	}
	h.writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrReconciliationRequired):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPaymentNotVerified):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRevertWindowExpired),
		errors.Is(err, domain.ErrRevertTooFarBack),
		errors.Is(err, domain.ErrRefundAlreadyRecorded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCodNotEligible):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
