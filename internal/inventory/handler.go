package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/stock"
)

type Store interface {
	ListAll(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	Upsert(ctx context.Context, p *domain.Product) error
	// Reserve and Release report the level left after their own write, so a
	// committed mutation is never answered with a failure.
	Reserve(ctx context.Context, productID string, key domain.VariantKey, quantity int) (domain.StockLevel, error)
	Release(ctx context.Context, productID string, key domain.VariantKey, quantity int) (domain.StockLevel, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, err)
		return
	}

	h.logger.Info("products listed", "count", len(products))
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.logFailure("failed to get product", err, id)
		h.writeError(w, err)
		return
	}

	h.logger.Info("product retrieved", "product_id", id)
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var p domain.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}
	p.ID = id

	if err := h.store.Upsert(r.Context(), &p); err != nil {
		h.logFailure("failed to upsert product", err, id)
		h.writeError(w, err)
		return
	}

	h.logger.Info("product upserted", "product_id", id, "variants", p.HasVariants())
	h.writeJSON(w, http.StatusOK, p)
}

// HandleGetStock answers how many units of one configuration can be sold.
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := domain.NewVariantKey(r.URL.Query().Get("ram"), r.URL.Query().Get("storage"))

	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.logFailure("failed to get product", err, id)
		h.writeError(w, err)
		return
	}

	resolved, err := stock.Resolve(p, key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, domain.StockLevel{
		ProductID: id,
		Variant:   resolved,
		Available: stock.Available(p, resolved),
	})
}

type availabilityRequest struct {
	RAM     *string           `json:"ram,omitempty"`
	Storage *string           `json:"storage,omitempty"`
	Cart    []domain.CartLine `json:"cart"`
}

// HandleAvailability returns the cart reservation view: ledger stock minus
// what the caller's cart already holds, plus a RAM suggestion when the
// selected bucket is empty.
func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	key := domain.VariantKey{RAM: req.RAM, Storage: req.Storage}
	if key.RAM != nil && key.Storage == nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidSelection, id, "ram selected without storage"))
		return
	}

	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.logFailure("failed to get product", err, id)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stock.View(p, key, req.Cart))
}

type stockRequest struct {
	Quantity int     `json:"quantity"`
	RAM      *string `json:"ram,omitempty"`
	Storage  *string `json:"storage,omitempty"`
}

func (req stockRequest) key() domain.VariantKey {
	return domain.VariantKey{RAM: req.RAM, Storage: req.Storage}
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	level, err := h.store.Reserve(r.Context(), id, req.key(), req.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			h.logger.Info("reservation rejected", "product_id", id, "variant", req.key().String(), "quantity", req.Quantity)
		} else {
			h.logFailure("failed to reserve stock", err, id)
		}
		h.writeError(w, err)
		return
	}

	h.logger.Info("stock reserved", "product_id", id, "variant", level.Variant.String(), "quantity", req.Quantity, "available", level.Available)
	h.writeJSON(w, http.StatusOK, level)
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewError(domain.ErrInvalidRequest, id, "invalid request body"))
		return
	}

	level, err := h.store.Release(r.Context(), id, req.key(), req.Quantity)
	if err != nil {
		h.logFailure("failed to release stock", err, id)
		h.writeError(w, err)
		return
	}

	h.logger.Info("stock released", "product_id", id, "variant", level.Variant.String(), "quantity", req.Quantity, "available", level.Available)
	h.writeJSON(w, http.StatusOK, level)
}

func (h *Handler) logFailure(msg string, err error, productID string) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "product_id", productID)
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
	Shortfalls []domain.StockShortfall `json:"shortfalls,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:    err.Error(),
		Kind:     domain.Kind(err),
		EntityID: domain.EntityID(err),
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Shortfalls = stockErr.Shortfalls
	}
	h.writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSelection), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
