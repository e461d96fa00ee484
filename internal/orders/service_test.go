package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/fulfillment"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemStore(orders ...*domain.Order) *memStore {
	s := &memStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = *o
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NewError(domain.ErrOrderNotFound, id, "order not found")
	}
	return &o, nil
}

func (s *memStore) List(_ context.Context, customerID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if customerID == "" || o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[order.ID]
	if !ok {
		return domain.NewError(domain.ErrOrderNotFound, order.ID, "order not found")
	}
	if stored.Version != order.Version {
		return domain.NewError(domain.ErrConcurrentUpdate, order.ID, "order was modified concurrently")
	}
	order.Version++
	s.orders[order.ID] = *order
	return nil
}

type recordingPublisher struct {
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

type recordingRestocker struct {
	released map[string]int
}

func (r *recordingRestocker) Release(_ context.Context, productID string, _ domain.VariantKey, quantity int) error {
	r.released[productID] += quantity
	return nil
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func storedOrder(status domain.OrderStatus, changedAgo time.Duration) *domain.Order {
	changedAt := testNow.Add(-changedAgo)
	ram, storage := "8GB", "512GB"
	return &domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		PaymentMethod: domain.PaymentMethodRazorpay,
		Status:        status,
		Items: []domain.OrderItem{
			{ProductID: "laptop", Name: "Ultrabook 14", UnitPrice: 54000, Quantity: 1, RAM: &ram, Storage: &storage},
		},
		Address:         domain.Address{Email: "asha@example.com"},
		Total:           54000,
		Version:         1,
		CreatedAt:       changedAt.Add(-time.Hour),
		UpdatedAt:       changedAt,
		StatusChangedAt: changedAt,
	}
}

func newTestService(store Store, publisher Publisher, opts ...ServiceOption) *Service {
	machine := fulfillment.NewMachine(fulfillment.WithClock(func() time.Time { return testNow }))
	return NewService(store, machine, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestService_TransitionStatus(t *testing.T) {
	t.Run("admin moves the order forward", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusPending, time.Hour))
		publisher := &recordingPublisher{}
		svc := newTestService(store, publisher)

		order, err := svc.TransitionStatus(context.Background(), "order-1", domain.OrderStatusShipped, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusShipped || order.Version != 2 {
			t.Errorf("unexpected order: status %s version %d", order.Status, order.Version)
		}
		if !store.orders["order-1"].StatusChangedAt.Equal(testNow) {
			t.Error("expected status change time to be persisted")
		}
		if len(publisher.events) != 1 || publisher.events[0].PreviousStatus != domain.OrderStatusPending {
			t.Errorf("unexpected events: %+v", publisher.events)
		}
	})

	t.Run("non admin is forbidden", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusPending, time.Hour))
		svc := newTestService(store, nil)

		_, err := svc.TransitionStatus(context.Background(), "order-1", domain.OrderStatusShipped, false)
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if store.orders["order-1"].Status != domain.OrderStatusPending {
			t.Error("expected order untouched")
		}
	})

	t.Run("revert after the window is refused", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusShipped, 6*time.Minute))
		svc := newTestService(store, nil)

		_, err := svc.TransitionStatus(context.Background(), "order-1", domain.OrderStatusPending, true)
		if !errors.Is(err, domain.ErrRevertWindowExpired) {
			t.Fatalf("expected ErrRevertWindowExpired, got %v", err)
		}
		if store.orders["order-1"].Version != 1 {
			t.Error("expected no write")
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := newTestService(newMemStore(), nil)

		_, err := svc.TransitionStatus(context.Background(), "missing", domain.OrderStatusShipped, true)
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestService_CancelOrder(t *testing.T) {
	t.Run("does not restock by default", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusShipped, time.Hour))
		publisher := &recordingPublisher{}
		svc := newTestService(store, publisher)

		order, err := svc.CancelOrder(context.Background(), "order-1", "customer request")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
		if len(publisher.events) != 1 || publisher.events[0].Type != domain.EventOrderCancelled {
			t.Errorf("unexpected events: %+v", publisher.events)
		}
		if publisher.events[0].CancelReason != "customer request" {
			t.Errorf("expected reason on event, got %q", publisher.events[0].CancelReason)
		}
	})

	t.Run("restocks when enabled", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusPending, time.Hour))
		restocker := &recordingRestocker{released: make(map[string]int)}
		svc := newTestService(store, nil, WithRestockOnCancel(restocker))

		if _, err := svc.CancelOrder(context.Background(), "order-1", "duplicate order"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if restocker.released["laptop"] != 1 {
			t.Errorf("expected 1 laptop restocked, got %d", restocker.released["laptop"])
		}
	})

	t.Run("delivered orders cannot be cancelled", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusDelivered, time.Minute))
		svc := newTestService(store, nil)

		_, err := svc.CancelOrder(context.Background(), "order-1", "too late")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
	t.Run("delivered order without reason reports the transition", func(t *testing.T) {
		store := newMemStore(storedOrder(domain.OrderStatusDelivered, time.Minute))
		svc := newTestService(store, nil)

		_, err := svc.CancelOrder(context.Background(), "order-1", "")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestService_RecordRefund(t *testing.T) {
	store := newMemStore(storedOrder(domain.OrderStatusDelivered, time.Hour))
	publisher := &recordingPublisher{}
	svc := newTestService(store, publisher)

	order, err := svc.RecordRefund(context.Background(), "order-1", "TXN1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Errorf("expected delivered, got %s", order.Status)
	}

	_, err = svc.RecordRefund(context.Background(), "order-1", "TXN2")
	if !errors.Is(err, domain.ErrRefundAlreadyRecorded) {
		t.Fatalf("expected ErrRefundAlreadyRecorded, got %v", err)
	}
	if ref := store.orders["order-1"].RefundTransactionID; ref == nil || *ref != "TXN1" {
		t.Errorf("expected TXN1 to stay, got %v", ref)
	}
	if len(publisher.events) != 1 || publisher.events[0].RefundTransactionID != "TXN1" {
		t.Errorf("unexpected events: %+v", publisher.events)
	}
}

func TestService_ConcurrentUpdate(t *testing.T) {
	store := newMemStore(storedOrder(domain.OrderStatusPending, time.Hour))
	svc := newTestService(store, nil)

	stale, _ := store.GetByID(context.Background(), "order-1")
	if _, err := svc.TransitionStatus(context.Background(), "order-1", domain.OrderStatusShipped, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale.Status = domain.OrderStatusDelivered
	err := store.Update(context.Background(), stale)
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Error("expected concurrent update to be retryable")
	}
}
