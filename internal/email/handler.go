// Package email is the outbound mail sink used by the notifier. It validates
// and logs messages; delivery to a real provider is out of scope.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"
)

type Handler struct {
	logger *slog.Logger
	delay  time.Duration
	sent   atomic.Int64
}

// NewHandler builds the handler. delay simulates provider latency and may be
// zero.
func NewHandler(logger *slog.Logger, delay time.Duration) *Handler {
	return &Handler{
		logger: logger,
		delay:  delay,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	if h.delay > 0 {
		select {
		case <-r.Context().Done():
			h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		case <-time.After(h.delay):
		}
	}

	id := h.sent.Add(1)
	h.logger.Info("email sent", "id", id, "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", ID: id})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
