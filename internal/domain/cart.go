package domain

// CartLine is a client-held cart entry. It is a hold signal for the
// availability view, never authoritative stock.
type CartLine struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	RAM       *string `json:"ram,omitempty"`
	Storage   *string `json:"storage,omitempty"`
	Warranty  *string `json:"warranty,omitempty"`
	Color     *string `json:"color,omitempty"`
}

func (l CartLine) Key() VariantKey {
	return VariantKey{RAM: l.RAM, Storage: l.Storage}
}

// Validate rejects lines that cannot describe a purchasable configuration.
func (l CartLine) Validate() error {
	if l.ProductID == "" {
		return NewError(ErrInvalidRequest, "", "product id is required")
	}
	if l.Quantity <= 0 {
		return NewError(ErrInvalidRequest, l.ProductID, "quantity must be positive")
	}
	if l.RAM != nil && l.Storage == nil {
		return NewError(ErrInvalidSelection, l.ProductID, "ram selected without storage")
	}
	return nil
}
