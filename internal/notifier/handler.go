// Package notifier turns order lifecycle events into customer emails.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/messaging"
)

// Deduplicator remembers which events were already notified.
type Deduplicator interface {
	Seen(ctx context.Context, service, eventID string) (bool, error)
	Mark(ctx context.Context, service, eventID string) error
}

const dedupService = "notifier"

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	dedup           Deduplicator
	logger          *slog.Logger
}

// NewNotificationHandler builds the handler. dedup may be nil, in which case
// redelivered events are emailed again.
func NewNotificationHandler(emailServiceURL string, client *http.Client, dedup Deduplicator, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		dedup:           dedup,
		logger:          logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, d messaging.Delivery) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		h.logger.Error("discarding malformed order event", "error", err, "key", d.Key)
		return nil
	}

	logger := h.logger.With("order_id", event.OrderID, "event_id", event.EventID, "type", event.Type)

	if event.Email == "" {
		logger.Info("no email on order, skipping notification")
		return nil
	}

	msg, ok := compose(event)
	if !ok {
		logger.Info("no notification for event type")
		return nil
	}

	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, dedupService, event.EventID)
		if err != nil {
			logger.Warn("dedup store unavailable", "error", err)
		} else if seen {
			logger.Info("duplicate event, skipping notification")
			return nil
		}
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		logger.Error("failed to send email", "error", err)
		return fmt.Errorf("send %s email: %w", event.Type, err)
	}

	if h.dedup != nil {
		if err := h.dedup.Mark(ctx, dedupService, event.EventID); err != nil {
			logger.Warn("failed to record notified event", "error", err)
		}
	}

	logger.Info("customer notified", "subject", msg.Subject)
	return nil
}

func compose(event domain.OrderEvent) (email, bool) {
	msg := email{To: event.Email}

	switch event.Type {
	case domain.EventOrderPlaced:
		msg.Subject = "Order Confirmation: " + event.OrderID
		msg.Body = fmt.Sprintf("Your order %s has been placed with %d items. Total: %s.",
			event.OrderID, countUnits(event.Items), formatAmount(event.Total))
	case domain.EventOrderStatusChanged:
		msg.Subject = "Order Update: " + event.OrderID
		msg.Body = fmt.Sprintf("Your order %s is now %s.", event.OrderID, event.Status)
	case domain.EventOrderCancelled:
		msg.Subject = "Order Cancelled: " + event.OrderID
		msg.Body = fmt.Sprintf("Your order %s has been cancelled. Reason: %s.", event.OrderID, event.CancelReason)
	case domain.EventOrderRefunded:
		msg.Subject = "Refund Processed: " + event.OrderID
		msg.Body = fmt.Sprintf("A refund of %s for order %s has been issued (reference %s).",
			formatAmount(event.Total), event.OrderID, event.RefundTransactionID)
	default:
		return email{}, false
	}

	return msg, true
}

func countUnits(items []domain.OrderItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

// formatAmount renders minor units as a rupee amount.
func formatAmount(minor int64) string {
	return fmt.Sprintf("₹%d.%02d", minor/100, minor%100)
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg email) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
