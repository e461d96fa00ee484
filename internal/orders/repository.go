package orders

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, customer_id, status, payment_method, total,
	ship_name, ship_email, ship_phone, ship_line1, ship_line2, ship_city, ship_state, ship_pincode,
	cancel_reason, refund_transaction_id, razorpay_order_id, razorpay_payment_id, bill_url,
	version, created_at, updated_at, status_changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, o *domain.Order) error {
	return row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.PaymentMethod, &o.Total,
		&o.Address.Name, &o.Address.Email, &o.Address.Phone, &o.Address.Line1, &o.Address.Line2,
		&o.Address.City, &o.Address.State, &o.Address.Pincode,
		&o.CancelReason, &o.RefundTransactionID, &o.RazorpayOrderID, &o.RazorpayPaymentID, &o.BillURL,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.StatusChangedAt,
	)
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	order.Version = 1

	a := order.Address
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, status, payment_method, total,
			ship_name, ship_email, ship_phone, ship_line1, ship_line2, ship_city, ship_state, ship_pincode,
			razorpay_order_id, razorpay_payment_id, bill_url,
			version, created_at, updated_at, status_changed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, order.ID, order.CustomerID, order.Status, order.PaymentMethod, order.Total,
		a.Name, a.Email, a.Phone, a.Line1, a.Line2, a.City, a.State, a.Pincode,
		order.RazorpayOrderID, order.RazorpayPaymentID, order.BillURL,
		order.Version, order.CreatedAt, order.UpdatedAt, order.StatusChangedAt)
	if err != nil {
		return err
	}

	for i, item := range order.Items {
		itemID := uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, name, unit_price, quantity, ram, storage, warranty, color)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, itemID, order.ID, i, item.ProductID, item.Name, item.UnitPrice, item.Quantity,
			item.RAM, item.Storage, item.Warranty, item.Color)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewError(domain.ErrOrderNotFound, id, "order not found")
	}

	order := &domain.Order{}
	err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.ErrOrderNotFound, id, "order not found")
		}
		return nil, err
	}

	orders := map[string]*domain.Order{id: order}
	if err := r.loadItems(ctx, orders, []string{id}); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns orders newest first, optionally restricted to one customer.
// Items are loaded with a single batched query.
func (r *OrderRepository) List(ctx context.Context, customerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE $1::text = '' OR customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders map[string]*domain.Order, ids []string) error {
	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity, ram, storage, warranty, color
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity,
			&item.RAM, &item.Storage, &item.Warranty, &item.Color); err != nil {
			return err
		}
		order := orders[orderID]
		order.Items = append(order.Items, item)
	}

	return itemRows.Err()
}

// Update persists the mutable lifecycle fields of order if nobody else has
// written it since it was read. On success order.Version is advanced.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
			cancel_reason = $4,
			refund_transaction_id = $5,
			bill_url = $6,
			updated_at = $7,
			status_changed_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, order.ID, order.Version, order.Status, order.CancelReason, order.RefundTransactionID,
		order.BillURL, order.UpdatedAt, order.StatusChangedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.NewError(domain.ErrOrderNotFound, order.ID, "order not found")
		}
		return domain.NewError(domain.ErrConcurrentUpdate, order.ID, "order was modified concurrently, reload and retry")
	}

	order.Version++
	return nil
}
