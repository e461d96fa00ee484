package stock

import "github.com/joao-fontenele/storefront-fulfillment/internal/domain"

// EffectiveAvailable subtracts what the cart already holds for the same
// product configuration from the ledger availability. It never goes below
// zero and never locks anything: checkout re-validates at commit time.
func EffectiveAvailable(p *domain.Product, key domain.VariantKey, cart []domain.CartLine) int {
	key = resolveOrKeep(p, key)

	held := 0
	for _, line := range cart {
		if line.ProductID != p.ID || line.Quantity <= 0 {
			continue
		}
		if resolveOrKeep(p, line.Key()).Equal(key) {
			held += line.Quantity
		}
	}
	return max(Available(p, key)-held, 0)
}

// SuggestRAM steers the shopper away from an empty RAM bucket: when the
// selected size is sold out it returns the first listed size that still has
// stock. It returns nil when no change is needed or nothing is left.
func SuggestRAM(p *domain.Product, key domain.VariantKey) *string {
	if key.RAM == nil {
		return nil
	}
	if opt, ok := p.RAM(*key.RAM); ok && opt.Quantity > 0 {
		return nil
	}
	for _, opt := range p.RAMOptions {
		if opt.Quantity > 0 {
			size := opt.Size
			return &size
		}
	}
	return nil
}

// View builds the availability projection returned to storefront clients.
func View(p *domain.Product, key domain.VariantKey, cart []domain.CartLine) domain.Availability {
	resolved := resolveOrKeep(p, key)
	return domain.Availability{
		ProductID:          p.ID,
		Variant:            resolved,
		Available:          Available(p, resolved),
		EffectiveAvailable: EffectiveAvailable(p, resolved, cart),
		SuggestedRAM:       SuggestRAM(p, resolved),
	}
}

func resolveOrKeep(p *domain.Product, key domain.VariantKey) domain.VariantKey {
	if resolved, err := Resolve(p, key); err == nil {
		return resolved
	}
	return key
}
