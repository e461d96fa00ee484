package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/fulfillment"
)

type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, customerID string) ([]domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

// Restocker returns cancelled units to the ledger.
type Restocker interface {
	Release(ctx context.Context, productID string, key domain.VariantKey, quantity int) error
}

type ServiceOption func(*Service)

// WithRestockOnCancel makes CancelOrder give the order's units back to the
// ledger. Without it cancellation never touches stock.
func WithRestockOnCancel(r Restocker) ServiceOption {
	return func(s *Service) {
		s.restocker = r
	}
}

// Service applies staff lifecycle commands to stored orders.
type Service struct {
	store     Store
	machine   *fulfillment.Machine
	publisher Publisher
	restocker Restocker
	logger    *slog.Logger
}

func NewService(store Store, machine *fulfillment.Machine, publisher Publisher, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		machine:   machine,
		publisher: publisher,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, customerID string) ([]domain.Order, error) {
	return s.store.List(ctx, customerID)
}

// CanRevert reports whether an admin may still move order one step back.
func (s *Service) CanRevert(order *domain.Order) bool {
	return s.machine.CanRevert(order)
}

func (s *Service) TransitionStatus(ctx context.Context, id string, to domain.OrderStatus, actorIsAdmin bool) (*domain.Order, error) {
	if !actorIsAdmin {
		return nil, domain.NewError(domain.ErrForbidden, id, "only admins may change order status")
	}

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := order.Status
	if err := s.machine.Transition(order, to); err != nil {
		s.logger.Info("status transition rejected", "order_id", id, "from", previous, "to", to, "error", err)
		return nil, err
	}

	if err := s.store.Update(ctx, order); err != nil {
		return nil, err
	}

	event := domain.NewOrderEvent(domain.EventOrderStatusChanged, order, order.UpdatedAt)
	event.PreviousStatus = previous
	s.publish(ctx, event)

	s.logger.Info("order status updated", "order_id", order.ID, "from", previous, "status", order.Status)
	return order, nil
}

func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := order.Status
	if err := s.machine.Cancel(order, reason); err != nil {
		s.logger.Info("cancellation rejected", "order_id", id, "status", previous, "error", err)
		return nil, err
	}

	if err := s.store.Update(ctx, order); err != nil {
		return nil, err
	}

	if s.restocker != nil {
		s.restock(ctx, order)
	}

	event := domain.NewOrderEvent(domain.EventOrderCancelled, order, order.UpdatedAt)
	event.PreviousStatus = previous
	s.publish(ctx, event)

	s.logger.Info("order cancelled", "order_id", order.ID, "from", previous, "reason", *order.CancelReason)
	return order, nil
}

func (s *Service) RecordRefund(ctx context.Context, id, transactionRef string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.machine.RecordRefund(order, transactionRef); err != nil {
		s.logger.Info("refund rejected", "order_id", id, "status", order.Status, "error", err)
		return nil, err
	}

	if err := s.store.Update(ctx, order); err != nil {
		return nil, err
	}

	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderRefunded, order, order.UpdatedAt))

	s.logger.Info("refund recorded", "order_id", order.ID, "transaction_id", *order.RefundTransactionID)
	return order, nil
}

// restock is best effort: the cancellation is already committed, so a failed
// release is logged for reconciliation instead of failing the command.
func (s *Service) restock(ctx context.Context, order *domain.Order) {
	for _, item := range order.Items {
		if err := s.restocker.Release(ctx, item.ProductID, item.Key(), item.Quantity); err != nil {
			s.logger.Error("reconciliation required",
				"alert", true,
				"error", fmt.Errorf("restock cancelled order: %w", err),
				"order_id", order.ID,
				"product_id", item.ProductID,
				"variant", item.Key().String(),
				"quantity", item.Quantity,
			)
		}
	}
}

func (s *Service) publish(ctx context.Context, event domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "order_id", event.OrderID, "type", event.Type)
	}
}
