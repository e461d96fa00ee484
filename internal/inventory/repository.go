package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/stock"
)

// ProductRepository is the authoritative stock ledger. Every decrement is a
// conditional UPDATE that only matches while the bucket still holds enough,
// so concurrent reservations can never drive a bucket negative.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, base_price, quantity
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	productMap := make(map[string]*domain.Product)
	var productIDs []string

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.BasePrice, &p.Quantity); err != nil {
			return nil, err
		}
		productMap[p.ID] = &p
		productIDs = append(productIDs, p.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(productIDs) == 0 {
		return []domain.Product{}, nil
	}

	if err := loadOptions(ctx, r.db, productMap, productIDs); err != nil {
		return nil, err
	}
	if err := loadWarranties(ctx, r.db, productMap, productIDs); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		products = append(products, *productMap[id])
	}

	return products, nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, r.db, id)
}

func getProduct(ctx context.Context, q queryer, id string) (*domain.Product, error) {
	p := &domain.Product{}

	err := q.QueryRowContext(ctx, `
		SELECT id, name, base_price, quantity
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.BasePrice, &p.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.ErrProductNotFound, id, "product not found")
		}
		return nil, err
	}

	products := map[string]*domain.Product{id: p}
	if err := loadOptions(ctx, q, products, []string{id}); err != nil {
		return nil, err
	}
	if err := loadWarranties(ctx, q, products, []string{id}); err != nil {
		return nil, err
	}

	return p, nil
}

func loadOptions(ctx context.Context, q queryer, products map[string]*domain.Product, ids []string) error {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, axis, size, price_delta, quantity
		FROM product_variant_options
		WHERE product_id = ANY($1)
		ORDER BY product_id, axis, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var productID string
		var axis domain.VariantAxis
		var opt domain.VariantOption
		if err := rows.Scan(&productID, &axis, &opt.Size, &opt.PriceDelta, &opt.Quantity); err != nil {
			return err
		}
		p := products[productID]
		switch axis {
		case domain.AxisRAM:
			p.RAMOptions = append(p.RAMOptions, opt)
		case domain.AxisStorage:
			p.StorageOptions = append(p.StorageOptions, opt)
		}
	}

	return rows.Err()
}

func loadWarranties(ctx context.Context, q queryer, products map[string]*domain.Product, ids []string) error {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, label, price
		FROM product_warranties
		WHERE product_id = ANY($1)
		ORDER BY product_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var productID string
		var w domain.WarrantyOption
		if err := rows.Scan(&productID, &w.Label, &w.Price); err != nil {
			return err
		}
		products[productID].Warranties = append(products[productID].Warranties, w)
	}

	return rows.Err()
}

// Upsert replaces the catalog entry for p, including its variant buckets.
func (r *ProductRepository) Upsert(ctx context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, base_price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, base_price = EXCLUDED.base_price, quantity = EXCLUDED.quantity, updated_at = NOW()
	`, p.ID, p.Name, p.BasePrice, p.Quantity)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_variant_options WHERE product_id = $1`, p.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_warranties WHERE product_id = $1`, p.ID); err != nil {
		return err
	}

	axes := []struct {
		axis domain.VariantAxis
		opts []domain.VariantOption
	}{
		{domain.AxisRAM, p.RAMOptions},
		{domain.AxisStorage, p.StorageOptions},
	}
	for _, a := range axes {
		for i, opt := range a.opts {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO product_variant_options (product_id, axis, position, size, price_delta, quantity)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, a.axis, i, opt.Size, opt.PriceDelta, opt.Quantity)
			if err != nil {
				return err
			}
		}
	}

	for i, w := range p.Warranties {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_warranties (product_id, position, label, price)
			VALUES ($1, $2, $3, $4)
		`, p.ID, i, w.Label, w.Price)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type bucket struct {
	axis domain.VariantAxis
	size string
}

func buckets(key domain.VariantKey) []bucket {
	var bs []bucket
	if key.RAM != nil {
		bs = append(bs, bucket{axis: domain.AxisRAM, size: *key.RAM})
	}
	if key.Storage != nil {
		bs = append(bs, bucket{axis: domain.AxisStorage, size: *key.Storage})
	}
	return bs
}

// Reserve decrements every bucket the configuration draws from inside one
// transaction. If any bucket is short nothing is committed. The returned level
// is read back from the updated rows.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, key domain.VariantKey, quantity int) (domain.StockLevel, error) {
	if quantity <= 0 {
		return domain.StockLevel{}, domain.NewError(domain.ErrInvalidRequest, productID, "quantity must be positive")
	}
	return r.mutate(ctx, productID, key, -quantity)
}

func (r *ProductRepository) Release(ctx context.Context, productID string, key domain.VariantKey, quantity int) (domain.StockLevel, error) {
	if quantity <= 0 {
		return domain.StockLevel{}, domain.NewError(domain.ErrInvalidRequest, productID, "quantity must be positive")
	}
	return r.mutate(ctx, productID, key, quantity)
}

// mutate applies delta to the selected configuration. Negative deltas only
// match rows that still hold -delta units.
func (r *ProductRepository) mutate(ctx context.Context, productID string, key domain.VariantKey, delta int) (domain.StockLevel, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockLevel{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := getProduct(ctx, tx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}

	key, err = stock.Resolve(p, key)
	if err != nil {
		return domain.StockLevel{}, err
	}

	before := stock.Available(p, key)
	shortfall := func() error {
		return &domain.InsufficientStockError{Shortfalls: []domain.StockShortfall{{
			ProductID: productID,
			Variant:   key,
			Requested: -delta,
			Available: before,
		}}}
	}

	if !p.HasVariants() {
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = NOW()
			WHERE id = $1 AND quantity + $2 >= 0
			RETURNING quantity
		`, productID, delta).Scan(&p.Quantity)
		switch {
		case errors.Is(err, sql.ErrNoRows) && delta < 0:
			return domain.StockLevel{}, shortfall()
		case err != nil:
			return domain.StockLevel{}, err
		}
	} else {
		for _, b := range buckets(key) {
			opt, ok := p.RAM(b.size)
			if b.axis == domain.AxisStorage {
				opt, ok = p.Storage(b.size)
			}
			if !ok {
				return domain.StockLevel{}, fmt.Errorf("%s %s bucket %s: bucket missing", productID, b.axis, b.size)
			}

			err := tx.QueryRowContext(ctx, `
				UPDATE product_variant_options
				SET quantity = quantity + $4
				WHERE product_id = $1 AND axis = $2 AND size = $3 AND quantity + $4 >= 0
				RETURNING quantity
			`, productID, b.axis, b.size, delta).Scan(&opt.Quantity)
			switch {
			case errors.Is(err, sql.ErrNoRows) && delta < 0:
				return domain.StockLevel{}, shortfall()
			case errors.Is(err, sql.ErrNoRows):
				return domain.StockLevel{}, fmt.Errorf("%s %s bucket %s: bucket missing", productID, b.axis, b.size)
			case err != nil:
				return domain.StockLevel{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StockLevel{}, err
	}

	return domain.StockLevel{
		ProductID: productID,
		Variant:   key,
		Available: stock.Available(p, key),
	}, nil
}
