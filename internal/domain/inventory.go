package domain

// StockLevel answers GetAvailableStock for one product configuration.
type StockLevel struct {
	ProductID string     `json:"product_id"`
	Variant   VariantKey `json:"variant"`
	Available int        `json:"available"`
}

// Availability is the cart reservation view for one configuration.
type Availability struct {
	ProductID          string     `json:"product_id"`
	Variant            VariantKey `json:"variant"`
	Available          int        `json:"available"`
	EffectiveAvailable int        `json:"effective_available"`
	SuggestedRAM       *string    `json:"suggested_ram,omitempty"`
}
