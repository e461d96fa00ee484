package domain

import "fmt"

// VariantAxis names one configurable dimension of a product.
type VariantAxis string

const (
	AxisRAM     VariantAxis = "ram"
	AxisStorage VariantAxis = "storage"
)

type VariantOption struct {
	Size       string `json:"size"`
	PriceDelta int64  `json:"price_delta"`
	Quantity   int    `json:"quantity"`
}

type WarrantyOption struct {
	Label string `json:"label"`
	Price int64  `json:"price"`
}

type Product struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	BasePrice      int64            `json:"base_price"`
	Quantity       int              `json:"quantity"`
	RAMOptions     []VariantOption  `json:"ram_options,omitempty"`
	StorageOptions []VariantOption  `json:"storage_options,omitempty"`
	Warranties     []WarrantyOption `json:"warranties,omitempty"`
}

// HasVariants reports whether stock is tracked per RAM/Storage bucket
// instead of the flat Quantity.
func (p *Product) HasVariants() bool {
	return len(p.RAMOptions) > 0 || len(p.StorageOptions) > 0
}

func (p *Product) RAM(size string) (*VariantOption, bool) {
	return findOption(p.RAMOptions, size)
}

func (p *Product) Storage(size string) (*VariantOption, bool) {
	return findOption(p.StorageOptions, size)
}

func (p *Product) Warranty(label string) (*WarrantyOption, bool) {
	for i := range p.Warranties {
		if p.Warranties[i].Label == label {
			return &p.Warranties[i], true
		}
	}
	return nil, false
}

func findOption(opts []VariantOption, size string) (*VariantOption, bool) {
	for i := range opts {
		if opts[i].Size == size {
			return &opts[i], true
		}
	}
	return nil, false
}

// Validate checks the catalog invariants a product must hold before it is
// stored: RAM options are always paired with Storage options, sizes are
// unique per axis and no bucket is negative.
func (p *Product) Validate() error {
	if p.ID == "" {
		return NewError(ErrInvalidRequest, "", "product id is required")
	}
	if p.Name == "" {
		return NewError(ErrInvalidRequest, p.ID, "product name is required")
	}
	if p.BasePrice < 0 {
		return NewError(ErrInvalidRequest, p.ID, "base price cannot be negative")
	}
	if p.Quantity < 0 {
		return NewError(ErrInvalidRequest, p.ID, "quantity cannot be negative")
	}
	if len(p.RAMOptions) > 0 && len(p.StorageOptions) == 0 {
		return NewError(ErrInvalidRequest, p.ID, "ram options require storage options")
	}
	for _, axis := range []struct {
		name VariantAxis
		opts []VariantOption
	}{{AxisRAM, p.RAMOptions}, {AxisStorage, p.StorageOptions}} {
		seen := make(map[string]bool, len(axis.opts))
		for _, opt := range axis.opts {
			if opt.Size == "" {
				return NewError(ErrInvalidRequest, p.ID, fmt.Sprintf("%s option without size", axis.name))
			}
			if seen[opt.Size] {
				return NewError(ErrInvalidRequest, p.ID, fmt.Sprintf("duplicate %s size %q", axis.name, opt.Size))
			}
			if opt.Quantity < 0 {
				return NewError(ErrInvalidRequest, p.ID, fmt.Sprintf("%s %s quantity cannot be negative", axis.name, opt.Size))
			}
			seen[opt.Size] = true
		}
	}
	return nil
}

// Clone returns a deep copy so callers can apply ledger arithmetic without
// mutating a shared snapshot.
func (p *Product) Clone() *Product {
	c := *p
	c.RAMOptions = append([]VariantOption(nil), p.RAMOptions...)
	c.StorageOptions = append([]VariantOption(nil), p.StorageOptions...)
	c.Warranties = append([]WarrantyOption(nil), p.Warranties...)
	return &c
}

// VariantKey selects one configuration of a product. Both fields are nil for
// products without variants.
type VariantKey struct {
	RAM     *string `json:"ram,omitempty"`
	Storage *string `json:"storage,omitempty"`
}

func NewVariantKey(ram, storage string) VariantKey {
	var k VariantKey
	if ram != "" {
		k.RAM = &ram
	}
	if storage != "" {
		k.Storage = &storage
	}
	return k
}

func (k VariantKey) IsZero() bool {
	return k.RAM == nil && k.Storage == nil
}

func (k VariantKey) RAMSize() string {
	if k.RAM == nil {
		return ""
	}
	return *k.RAM
}

func (k VariantKey) StorageSize() string {
	if k.Storage == nil {
		return ""
	}
	return *k.Storage
}

func (k VariantKey) Equal(o VariantKey) bool {
	return k.RAMSize() == o.RAMSize() && k.StorageSize() == o.StorageSize()
}

func (k VariantKey) String() string {
	if k.IsZero() {
		return "default"
	}
	return fmt.Sprintf("ram=%s storage=%s", k.RAMSize(), k.StorageSize())
}
