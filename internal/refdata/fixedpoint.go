package refdata

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketlake/internal/model"
)

// fixedPointDigits is the number of decimal places kept when comparing numerics.
const fixedPointDigits = 10

// FixedPoint returns round(x * 1e10) as an exact integer decimal. Values
// that differ only by float representation noise map to the same integer.
// The result is not bounded by int64. x must be finite.
func FixedPoint(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Shift(fixedPointDigits).Round(0)
}

func equalFixed(a, b float64) bool {
	return FixedPoint(a).Equal(FixedPoint(b))
}

func equalOptFixed(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return equalFixed(*a, *b)
}

func equalOptInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AttrsEqual reports whether two attribute sets describe the same version.
// Numerics compare in fixed point, strings and enums exactly, optional
// fields by presence and value.
func AttrsEqual(a, b model.InstrumentAttrs) bool {
	return a.BaseAsset == b.BaseAsset &&
		a.QuoteAsset == b.QuoteAsset &&
		a.Kind == b.Kind &&
		equalFixed(a.TickSize, b.TickSize) &&
		equalFixed(a.LotSize, b.LotSize) &&
		equalFixed(a.ContractSize, b.ContractSize) &&
		equalOptInt(a.Expiry, b.Expiry) &&
		equalOptFixed(a.Strike, b.Strike) &&
		a.OptionType == b.OptionType &&
		a.Underlying == b.Underlying
}
