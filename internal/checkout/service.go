// Package checkout turns a cart into a committed order. Every line is checked
// against the live ledger, payment or COD eligibility is confirmed server
// side, and stock is reserved for all lines or none before the order is
// persisted.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/payment"
	"github.com/joao-fontenele/storefront-fulfillment/internal/stock"
)

type Ledger interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	Reserve(ctx context.Context, productID string, key domain.VariantKey, quantity int) error
	Release(ctx context.Context, productID string, key domain.VariantKey, quantity int) error
}

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
}

type RegionChecker interface {
	IsCODEligible(state, city string) bool
}

type Publisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

type Request struct {
	CustomerID    string
	Lines         []domain.CartLine
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
	Payment       *payment.Verified
}

type Service struct {
	ledger    Ledger
	orders    OrderStore
	regions   RegionChecker
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	checkouts       metric.Int64Counter
	reconciliations metric.Int64Counter
}

// NewService wires the orchestrator. publisher may be nil when no broker is
// configured.
func NewService(ledger Ledger, orders OrderStore, regions RegionChecker, publisher Publisher, logger *slog.Logger) (*Service, error) {
	meter := otel.Meter("github.com/joao-fontenele/storefront-fulfillment/internal/checkout")

	checkouts, err := meter.Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create checkout counter: %w", err)
	}

	reconciliations, err := meter.Int64Counter("checkout.reconciliation_failures",
		metric.WithDescription("Compensating stock releases that failed and need manual reconciliation"))
	if err != nil {
		return nil, fmt.Errorf("create reconciliation counter: %w", err)
	}

	return &Service{
		ledger:          ledger,
		orders:          orders,
		regions:         regions,
		publisher:       publisher,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		checkouts:       checkouts,
		reconciliations: reconciliations,
	}, nil
}

type reservedLine struct {
	productID string
	key       domain.VariantKey
	quantity  int
}

func (s *Service) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	order, err := s.checkout(ctx, req)
	s.checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
		attribute.String("outcome", outcome(err)),
	))
	return order, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*domain.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	products, err := s.loadProducts(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	keys, err := resolveKeys(products, req.Lines)
	if err != nil {
		return nil, err
	}

	if err := checkAvailability(products, keys, req.Lines); err != nil {
		s.logger.Info("checkout rejected", "customer_id", req.CustomerID, "error", err)
		return nil, err
	}

	if err := s.checkPayment(req); err != nil {
		s.logger.Info("checkout rejected", "customer_id", req.CustomerID, "payment_method", req.PaymentMethod, "error", err)
		return nil, err
	}

	items, total, err := snapshot(products, keys, req.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		CustomerID:      req.CustomerID,
		Items:           items,
		Address:         req.Address,
		PaymentMethod:   req.PaymentMethod,
		Status:          domain.OrderStatusPending,
		Total:           total,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
	if req.Payment != nil {
		gatewayOrderID, paymentID := req.Payment.GatewayOrderID(), req.Payment.PaymentID()
		order.RazorpayOrderID = &gatewayOrderID
		order.RazorpayPaymentID = &paymentID
	}

	reserved, err := s.reserve(ctx, keys, req.Lines)
	if err != nil {
		if rerr := s.release(ctx, reserved); rerr != nil {
			return nil, s.reconciliationRequired(ctx, err, rerr, reserved)
		}
		s.logger.Info("checkout lost stock race", "customer_id", req.CustomerID, "error", err)
		return nil, err
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("failed to persist order", "error", err, "customer_id", req.CustomerID)
		if rerr := s.release(ctx, reserved); rerr != nil {
			return nil, s.reconciliationRequired(ctx, err, rerr, reserved)
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.publish(ctx, order)

	s.logger.Info("order placed",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"payment_method", order.PaymentMethod,
		"total", order.Total,
		"items", len(order.Items),
	)
	return order, nil
}

func validate(req Request) error {
	if req.CustomerID == "" {
		return domain.NewError(domain.ErrInvalidRequest, "", "customer id is required")
	}
	if len(req.Lines) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, "", "cart is empty")
	}
	for _, line := range req.Lines {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	if !req.PaymentMethod.Valid() {
		return domain.NewError(domain.ErrInvalidRequest, "", fmt.Sprintf("unknown payment method %q", req.PaymentMethod))
	}
	return req.Address.Validate()
}

func (s *Service) loadProducts(ctx context.Context, lines []domain.CartLine) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(lines))
	for _, line := range lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		p, err := s.ledger.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		products[line.ProductID] = p
	}
	return products, nil
}

func resolveKeys(products map[string]*domain.Product, lines []domain.CartLine) ([]domain.VariantKey, error) {
	keys := make([]domain.VariantKey, len(lines))
	for i, line := range lines {
		key, err := stock.Resolve(products[line.ProductID], line.Key())
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// checkAvailability replays every line against a copy of the ledger so lines
// sharing a bucket are counted together. All shortfalls are reported at once.
func checkAvailability(products map[string]*domain.Product, keys []domain.VariantKey, lines []domain.CartLine) error {
	scratch := make(map[string]*domain.Product, len(products))
	for id, p := range products {
		scratch[id] = p.Clone()
	}

	var shortfalls []domain.StockShortfall
	for i, line := range lines {
		err := stock.Reserve(scratch[line.ProductID], keys[i], line.Quantity)
		if err == nil {
			continue
		}
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			return err
		}
		shortfalls = append(shortfalls, stockErr.Shortfalls...)
	}

	if len(shortfalls) > 0 {
		return &domain.InsufficientStockError{Shortfalls: shortfalls}
	}
	return nil
}

func (s *Service) checkPayment(req Request) error {
	if req.PaymentMethod == domain.PaymentMethodCOD {
		if !s.regions.IsCODEligible(req.Address.State, req.Address.City) {
			return domain.NewError(domain.ErrCodNotEligible, req.Address.Pincode,
				fmt.Sprintf("cash on delivery is not available in %s, %s", req.Address.City, req.Address.State))
		}
		return nil
	}
	if req.Payment == nil {
		return domain.NewError(domain.ErrPaymentNotVerified, "", "a verified payment is required")
	}
	return nil
}

func snapshot(products map[string]*domain.Product, keys []domain.VariantKey, lines []domain.CartLine) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var total int64

	for i, line := range lines {
		p := products[line.ProductID]
		key := keys[i]

		price := p.BasePrice
		if key.RAM != nil {
			if opt, ok := p.RAM(*key.RAM); ok {
				price += opt.PriceDelta
			}
		}
		if key.Storage != nil {
			if opt, ok := p.Storage(*key.Storage); ok {
				price += opt.PriceDelta
			}
		}
		if line.Warranty != nil {
			w, ok := p.Warranty(*line.Warranty)
			if !ok {
				return nil, 0, domain.NewError(domain.ErrInvalidSelection, p.ID, fmt.Sprintf("unknown warranty %q", *line.Warranty))
			}
			price += w.Price
		}

		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: price,
			Quantity:  line.Quantity,
			RAM:       key.RAM,
			Storage:   key.Storage,
			Warranty:  line.Warranty,
			Color:     line.Color,
		})
		total += price * int64(line.Quantity)
	}

	return items, total, nil
}

func (s *Service) reserve(ctx context.Context, keys []domain.VariantKey, lines []domain.CartLine) ([]reservedLine, error) {
	var reserved []reservedLine

	for i, line := range lines {
		if err := s.ledger.Reserve(ctx, line.ProductID, keys[i], line.Quantity); err != nil {
			return reserved, err
		}
		reserved = append(reserved, reservedLine{productID: line.ProductID, key: keys[i], quantity: line.Quantity})
	}

	return reserved, nil
}

// release gives back everything in reserved, attempting every line even after
// a failure. The joined error lists the lines that could not be returned.
func (s *Service) release(ctx context.Context, reserved []reservedLine) error {
	var errs []error
	for _, line := range reserved {
		if err := s.ledger.Release(ctx, line.productID, line.key, line.quantity); err != nil {
			s.logger.Error("failed to release stock",
				"error", err,
				"product_id", line.productID,
				"variant", line.key.String(),
				"quantity", line.quantity,
			)
			errs = append(errs, fmt.Errorf("release %s (%s) x%d: %w", line.productID, line.key, line.quantity, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) reconciliationRequired(ctx context.Context, cause, releaseErr error, reserved []reservedLine) error {
	s.reconciliations.Add(ctx, 1)
	s.logger.Error("reconciliation required",
		"alert", true,
		"error", releaseErr,
		"cause", cause,
		"reserved_lines", len(reserved),
	)
	return fmt.Errorf("%w (%v): %w", domain.ErrReconciliationRequired, releaseErr, cause)
}

func (s *Service) publish(ctx context.Context, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	event := domain.NewOrderEvent(domain.EventOrderPlaced, order, order.CreatedAt)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
	}
}

func outcome(err error) string {
	if err == nil {
		return "placed"
	}
	return domain.Kind(err)
}
