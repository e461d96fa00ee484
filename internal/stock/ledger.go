// Package stock implements the variant-aware stock arithmetic shared by the
// inventory store and the cart availability view.
//
// A variant product keeps one bucket per RAM size and one per Storage size.
// A configuration (ram=X, storage=Y) is limited by the smaller of the two
// buckets, and buying it takes n units out of both, leaving every other
// bucket untouched.
package stock

import (
	"fmt"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

// Available returns how many units of the configuration selected by key can
// be sold right now. An unresolved axis does not constrain the result.
// Unknown sizes yield 0.
func Available(p *domain.Product, key domain.VariantKey) int {
	if !p.HasVariants() {
		return max(p.Quantity, 0)
	}
	if key.IsZero() {
		key = DefaultKey(p)
	}

	qty := -1
	if key.RAM != nil {
		opt, ok := p.RAM(*key.RAM)
		if !ok {
			return 0
		}
		qty = opt.Quantity
	}
	if key.Storage != nil {
		opt, ok := p.Storage(*key.Storage)
		if !ok {
			return 0
		}
		if qty < 0 || opt.Quantity < qty {
			qty = opt.Quantity
		}
	}
	return max(qty, 0)
}

// Resolve validates key against the product and fills in the default
// selection when a variant product is requested without one.
func Resolve(p *domain.Product, key domain.VariantKey) (domain.VariantKey, error) {
	if !p.HasVariants() {
		if !key.IsZero() {
			return domain.VariantKey{}, domain.NewError(domain.ErrInvalidSelection, p.ID, "product has no variants")
		}
		return key, nil
	}
	if key.IsZero() {
		return DefaultKey(p), nil
	}
	if key.RAM != nil && key.Storage == nil {
		return domain.VariantKey{}, domain.NewError(domain.ErrInvalidSelection, p.ID, "ram selected without storage")
	}
	if key.RAM != nil {
		if _, ok := p.RAM(*key.RAM); !ok {
			return domain.VariantKey{}, domain.NewError(domain.ErrInvalidSelection, p.ID, fmt.Sprintf("unknown ram size %q", *key.RAM))
		}
	}
	if _, ok := p.Storage(*key.Storage); !ok {
		return domain.VariantKey{}, domain.NewError(domain.ErrInvalidSelection, p.ID, fmt.Sprintf("unknown storage size %q", *key.Storage))
	}
	return key, nil
}

// DefaultKey picks the first in-stock bucket on each axis, or the first
// bucket when an axis is sold out.
func DefaultKey(p *domain.Product) domain.VariantKey {
	var key domain.VariantKey
	if size, ok := firstInStock(p.RAMOptions); ok {
		key.RAM = &size
	}
	if size, ok := firstInStock(p.StorageOptions); ok {
		key.Storage = &size
	}
	return key
}

func firstInStock(opts []domain.VariantOption) (string, bool) {
	for _, opt := range opts {
		if opt.Quantity > 0 {
			return opt.Size, true
		}
	}
	if len(opts) > 0 {
		return opts[0].Size, true
	}
	return "", false
}

// Reserve takes n units of the selected configuration out of p. It fails
// without touching p when fewer than n units are available.
func Reserve(p *domain.Product, key domain.VariantKey, n int) error {
	if n <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, p.ID, "quantity must be positive")
	}
	key, err := Resolve(p, key)
	if err != nil {
		return err
	}
	if available := Available(p, key); available < n {
		return &domain.InsufficientStockError{Shortfalls: []domain.StockShortfall{{
			ProductID: p.ID, Variant: key, Requested: n, Available: available,
		}}}
	}
	apply(p, key, -n)
	return nil
}

// Release puts n units of the selected configuration back. It is the
// compensating action for a reservation whose order was never committed.
func Release(p *domain.Product, key domain.VariantKey, n int) error {
	if n <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, p.ID, "quantity must be positive")
	}
	key, err := Resolve(p, key)
	if err != nil {
		return err
	}
	apply(p, key, n)
	return nil
}

func apply(p *domain.Product, key domain.VariantKey, delta int) {
	if !p.HasVariants() {
		p.Quantity += delta
		return
	}
	if key.RAM != nil {
		opt, _ := p.RAM(*key.RAM)
		opt.Quantity += delta
	}
	if key.Storage != nil {
		opt, _ := p.Storage(*key.Storage)
		opt.Quantity += delta
	}
}
