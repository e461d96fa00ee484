package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/payment"
	"github.com/joao-fontenele/storefront-fulfillment/internal/region"
	"github.com/joao-fontenele/storefront-fulfillment/internal/stock"
)

type fakeLedger struct {
	mu         sync.Mutex
	products   map[string]*domain.Product
	reserveErr map[string]error
	releaseErr error
	reserves   int
	releases   int
}

func newFakeLedger(products ...*domain.Product) *fakeLedger {
	l := &fakeLedger{products: make(map[string]*domain.Product), reserveErr: make(map[string]error)}
	for _, p := range products {
		l.products[p.ID] = p
	}
	return l
}

func (l *fakeLedger) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[id]
	if !ok {
		return nil, domain.NewError(domain.ErrProductNotFound, id, "")
	}
	return p.Clone(), nil
}

func (l *fakeLedger) Reserve(_ context.Context, productID string, key domain.VariantKey, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reserveErr[productID]; err != nil {
		return err
	}
	l.reserves++
	return stock.Reserve(l.products[productID], key, quantity)
}

func (l *fakeLedger) Release(_ context.Context, productID string, key domain.VariantKey, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.releaseErr != nil {
		return l.releaseErr
	}
	l.releases++
	return stock.Release(l.products[productID], key, quantity)
}

type fakeOrderStore struct {
	err    error
	orders []*domain.Order
}

func (s *fakeOrderStore) Create(_ context.Context, order *domain.Order) error {
	if s.err != nil {
		return s.err
	}
	order.ID = "order-1"
	order.Version = 1
	s.orders = append(s.orders, order)
	return nil
}

type fakePublisher struct {
	events []domain.OrderEvent
}

func (p *fakePublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

func strPtr(s string) *string { return &s }

func laptop() *domain.Product {
	return &domain.Product{
		ID:         "laptop",
		Name:       "Ultrabook 14",
		BasePrice:  50000,
		RAMOptions: []domain.VariantOption{{Size: "8GB", Quantity: 3}, {Size: "16GB", PriceDelta: 6000, Quantity: 2}},
		StorageOptions: []domain.VariantOption{
			{Size: "256GB", Quantity: 1},
			{Size: "512GB", PriceDelta: 4000, Quantity: 5},
		},
		Warranties: []domain.WarrantyOption{{Label: "2 years", Price: 2500}},
	}
}

func address() domain.Address {
	return domain.Address{
		Name:    "Asha",
		Email:   "asha@example.com",
		Line1:   "12 MG Road",
		City:    "Pune",
		State:   "Maharashtra",
		Pincode: "411001",
	}
}

type fixture struct {
	ledger    *fakeLedger
	store     *fakeOrderStore
	publisher *fakePublisher
	service   *Service
	verified  *payment.Verified
}

func newFixture(t *testing.T, products ...*domain.Product) *fixture {
	t.Helper()

	f := &fixture{
		ledger:    newFakeLedger(products...),
		store:     &fakeOrderStore{},
		publisher: &fakePublisher{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(f.ledger, f.store, region.Parse("Maharashtra/Pune"), f.publisher, logger)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	f.service = svc

	verifier, err := payment.NewVerifier("secret")
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}
	f.verified, err = verifier.Verify("order_gw", "pay_1", verifier.Sign("order_gw", "pay_1"))
	if err != nil {
		t.Fatalf("failed to verify payment: %v", err)
	}
	return f
}

func (f *fixture) prepaid(lines ...domain.CartLine) Request {
	return Request{
		CustomerID:    "customer-1",
		Lines:         lines,
		Address:       address(),
		PaymentMethod: domain.PaymentMethodRazorpay,
		Payment:       f.verified,
	}
}

func TestCheckoutPlacesOrder(t *testing.T) {
	f := newFixture(t, laptop(), &domain.Product{ID: "mouse", Name: "Mouse", BasePrice: 900, Quantity: 10})

	order, err := f.service.Checkout(context.Background(), f.prepaid(
		domain.CartLine{ProductID: "laptop", Quantity: 1, RAM: strPtr("16GB"), Storage: strPtr("512GB"), Warranty: strPtr("2 years"), Color: strPtr("silver")},
		domain.CartLine{ProductID: "mouse", Quantity: 2},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected pending, got %s", order.Status)
	}
	if got := order.Items[0].UnitPrice; got != 50000+6000+4000+2500 {
		t.Errorf("unexpected laptop unit price %d", got)
	}
	if order.Total != 62500+2*900 {
		t.Errorf("unexpected total %d", order.Total)
	}
	if order.RazorpayPaymentID == nil || *order.RazorpayPaymentID != "pay_1" {
		t.Errorf("expected payment reference to be recorded, got %v", order.RazorpayPaymentID)
	}
	if order.StatusChangedAt.IsZero() {
		t.Error("expected status change time to be set")
	}

	p := f.ledger.products["laptop"]
	if p.RAMOptions[1].Quantity != 1 || p.StorageOptions[1].Quantity != 4 {
		t.Errorf("expected 16GB and 512GB decremented, got %+v %+v", p.RAMOptions, p.StorageOptions)
	}
	if f.ledger.products["mouse"].Quantity != 8 {
		t.Errorf("expected mouse at 8, got %d", f.ledger.products["mouse"].Quantity)
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != domain.EventOrderPlaced {
		t.Errorf("expected one order placed event, got %+v", f.publisher.events)
	}
}

func TestCheckoutSnapshotIsImmutable(t *testing.T) {
	f := newFixture(t, &domain.Product{ID: "mouse", Name: "Mouse", BasePrice: 900, Quantity: 10})

	order, err := f.service.Checkout(context.Background(), f.prepaid(domain.CartLine{ProductID: "mouse", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.ledger.products["mouse"].BasePrice = 1500
	if order.Items[0].UnitPrice != 900 {
		t.Errorf("expected captured price 900, got %d", order.Items[0].UnitPrice)
	}
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	f := newFixture(t,
		&domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5},
		&domain.Product{ID: "B", Name: "B", BasePrice: 100, Quantity: 3},
	)

	_, err := f.service.Checkout(context.Background(), f.prepaid(
		domain.CartLine{ProductID: "A", Quantity: 2},
		domain.CartLine{ProductID: "B", Quantity: 10},
	))

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(stockErr.Shortfalls) != 1 || stockErr.Shortfalls[0].ProductID != "B" {
		t.Errorf("expected shortfall for B only, got %+v", stockErr.Shortfalls)
	}
	if !domain.Retryable(err) {
		t.Error("expected insufficient stock to be retryable")
	}
	if f.ledger.products["A"].Quantity != 5 {
		t.Errorf("expected A untouched at 5, got %d", f.ledger.products["A"].Quantity)
	}
	if f.ledger.reserves != 0 {
		t.Errorf("expected no reservation attempts, got %d", f.ledger.reserves)
	}
	if len(f.store.orders) != 0 {
		t.Error("expected no order persisted")
	}
}

func TestCheckoutCountsSharedBuckets(t *testing.T) {
	f := newFixture(t, laptop())

	// Both lines draw from the 8GB bucket, which holds 3.
	_, err := f.service.Checkout(context.Background(), f.prepaid(
		domain.CartLine{ProductID: "laptop", Quantity: 1, RAM: strPtr("8GB"), Storage: strPtr("256GB")},
		domain.CartLine{ProductID: "laptop", Quantity: 3, RAM: strPtr("8GB"), Storage: strPtr("512GB")},
	))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if f.ledger.products["laptop"].RAMOptions[0].Quantity != 3 {
		t.Error("expected ledger untouched")
	}
}

func TestCheckoutCompensatesLostRace(t *testing.T) {
	f := newFixture(t,
		&domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5},
		&domain.Product{ID: "B", Name: "B", BasePrice: 100, Quantity: 5},
	)
	f.ledger.reserveErr["B"] = &domain.InsufficientStockError{Shortfalls: []domain.StockShortfall{{ProductID: "B", Requested: 1}}}

	_, err := f.service.Checkout(context.Background(), f.prepaid(
		domain.CartLine{ProductID: "A", Quantity: 2},
		domain.CartLine{ProductID: "B", Quantity: 1},
	))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if f.ledger.products["A"].Quantity != 5 {
		t.Errorf("expected A restored to 5, got %d", f.ledger.products["A"].Quantity)
	}
	if f.ledger.releases != 1 {
		t.Errorf("expected one compensating release, got %d", f.ledger.releases)
	}
}

func TestCheckoutReleasesWhenPersistFails(t *testing.T) {
	f := newFixture(t, &domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5})
	f.store.err = errors.New("connection reset")

	_, err := f.service.Checkout(context.Background(), f.prepaid(domain.CartLine{ProductID: "A", Quantity: 2}))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrReconciliationRequired) {
		t.Fatalf("did not expect reconciliation, got %v", err)
	}
	if f.ledger.products["A"].Quantity != 5 {
		t.Errorf("expected A restored to 5, got %d", f.ledger.products["A"].Quantity)
	}
}

func TestCheckoutReconciliationRequired(t *testing.T) {
	f := newFixture(t, &domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5})
	persistErr := errors.New("connection reset")
	f.store.err = persistErr
	f.ledger.releaseErr = errors.New("inventory unavailable")

	_, err := f.service.Checkout(context.Background(), f.prepaid(domain.CartLine{ProductID: "A", Quantity: 2}))

	if !errors.Is(err, domain.ErrReconciliationRequired) {
		t.Fatalf("expected ErrReconciliationRequired, got %v", err)
	}
	if !errors.Is(err, persistErr) {
		t.Error("expected the original error to stay wrapped")
	}
	if domain.Kind(err) != "reconciliation_required" {
		t.Errorf("unexpected kind %s", domain.Kind(err))
	}
	if domain.Retryable(err) {
		t.Error("expected reconciliation to be fatal")
	}
}

func TestCheckoutCashOnDelivery(t *testing.T) {
	t.Run("eligible address", func(t *testing.T) {
		f := newFixture(t, &domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5})

		order, err := f.service.Checkout(context.Background(), Request{
			CustomerID:    "customer-1",
			Lines:         []domain.CartLine{{ProductID: "A", Quantity: 1}},
			Address:       address(),
			PaymentMethod: domain.PaymentMethodCOD,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.RazorpayPaymentID != nil {
			t.Error("expected no payment reference on cod order")
		}
	})

	t.Run("address outside the allow list", func(t *testing.T) {
		f := newFixture(t, &domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5})
		addr := address()
		addr.City = "Nagpur"

		_, err := f.service.Checkout(context.Background(), Request{
			CustomerID:    "customer-1",
			Lines:         []domain.CartLine{{ProductID: "A", Quantity: 1}},
			Address:       addr,
			PaymentMethod: domain.PaymentMethodCOD,
		})
		if !errors.Is(err, domain.ErrCodNotEligible) {
			t.Fatalf("expected ErrCodNotEligible, got %v", err)
		}
		if f.ledger.products["A"].Quantity != 5 || len(f.store.orders) != 0 {
			t.Error("expected no stock reserved and no order created")
		}
	})
}

func TestCheckoutRequiresVerifiedPayment(t *testing.T) {
	f := newFixture(t, &domain.Product{ID: "A", Name: "A", BasePrice: 100, Quantity: 5})
	req := f.prepaid(domain.CartLine{ProductID: "A", Quantity: 1})
	req.Payment = nil

	_, err := f.service.Checkout(context.Background(), req)
	if !errors.Is(err, domain.ErrPaymentNotVerified) {
		t.Fatalf("expected ErrPaymentNotVerified, got %v", err)
	}
	if f.ledger.products["A"].Quantity != 5 || len(f.store.orders) != 0 {
		t.Error("expected no stock reserved and no order created")
	}
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		lines   []domain.CartLine
		wantErr error
	}{
		{"empty cart", nil, domain.ErrInvalidRequest},
		{"zero quantity", []domain.CartLine{{ProductID: "laptop", Quantity: 0}}, domain.ErrInvalidRequest},
		{"ram without storage", []domain.CartLine{{ProductID: "laptop", Quantity: 1, RAM: strPtr("8GB")}}, domain.ErrInvalidSelection},
		{"unknown storage", []domain.CartLine{{ProductID: "laptop", Quantity: 1, RAM: strPtr("8GB"), Storage: strPtr("4TB")}}, domain.ErrInvalidSelection},
		{"unknown warranty", []domain.CartLine{{ProductID: "laptop", Quantity: 1, RAM: strPtr("8GB"), Storage: strPtr("512GB"), Warranty: strPtr("lifetime")}}, domain.ErrInvalidSelection},
		{"unknown product", []domain.CartLine{{ProductID: "ghost", Quantity: 1}}, domain.ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, laptop())

			_, err := f.service.Checkout(context.Background(), f.prepaid(tt.lines...))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if f.ledger.reserves != 0 {
				t.Error("expected no reservation attempts")
			}
		})
	}
}
