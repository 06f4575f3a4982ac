package api

// InstrumentsResponse from GET /instruments
type InstrumentsResponse struct {
	Instruments []APIInstrument `json:"instruments"`
	Cursor      string          `json:"cursor"`
}

// APIInstrument is one listed instrument. Numeric fields are decimal
// strings so no precision is lost in transit.
type APIInstrument struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Type       string `json:"type"`   // spot, perpetual, future, option
	Status     string `json:"status"` // trading, halted, delisted

	TickSize     string `json:"tick_size"`
	LotSize      string `json:"lot_size"`
	ContractSize string `json:"contract_size,omitempty"`

	// Derivatives
	Expiry     string `json:"expiry,omitempty"` // ISO 8601
	Strike     string `json:"strike,omitempty"`
	OptionType string `json:"option_type,omitempty"`
	Underlying string `json:"underlying,omitempty"`
}

// GetInstrumentsOptions filters GET /instruments.
type GetInstrumentsOptions struct {
	Venue  string
	Status string
	Limit  int
	Cursor string
}
