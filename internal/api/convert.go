package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/marketlake/internal/model"
)

// ParseTimestamp parses an ISO 8601 timestamp to microseconds since epoch.
// Returns 0 for empty or invalid input.
func ParseTimestamp(iso string) int64 {
	if iso == "" {
		return 0
	}

	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return 0
		}
	}

	return t.UnixMicro()
}

// ParseKind maps a vendor instrument type onto InstrumentKind.
func ParseKind(s string) (model.InstrumentKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return model.KindSpot, true
	case "perpetual", "perp", "swap":
		return model.KindPerpetual, true
	case "future", "futures":
		return model.KindFuture, true
	case "option", "options":
		return model.KindOption, true
	}
	return "", false
}

// IsListed reports whether the instrument belongs in a snapshot.
// Delisted instruments are left out so the next diff closes them.
func (i *APIInstrument) IsListed() bool {
	switch strings.ToLower(i.Status) {
	case "delisted", "settled", "expired", "closed":
		return false
	}
	return true
}

// ToRecord converts the instrument to a snapshot record for venue.
func (i *APIInstrument) ToRecord(venue int16) (model.InstrumentRecord, error) {
	kind, ok := ParseKind(i.Type)
	if !ok {
		return model.InstrumentRecord{}, fmt.Errorf("instrument %s: unknown type %q", i.Symbol, i.Type)
	}

	a := model.InstrumentAttrs{
		BaseAsset:    i.BaseAsset,
		QuoteAsset:   i.QuoteAsset,
		Kind:         kind,
		ContractSize: 1,
		OptionType:   strings.ToLower(i.OptionType),
		Underlying:   i.Underlying,
	}

	var err error
	if a.TickSize, err = parseDecimal("tick_size", i.TickSize); err != nil {
		return model.InstrumentRecord{}, fmt.Errorf("instrument %s: %w", i.Symbol, err)
	}
	if a.LotSize, err = parseDecimal("lot_size", i.LotSize); err != nil {
		return model.InstrumentRecord{}, fmt.Errorf("instrument %s: %w", i.Symbol, err)
	}
	if i.ContractSize != "" {
		if a.ContractSize, err = parseDecimal("contract_size", i.ContractSize); err != nil {
			return model.InstrumentRecord{}, fmt.Errorf("instrument %s: %w", i.Symbol, err)
		}
	}
	if i.Strike != "" {
		strike, err := parseDecimal("strike", i.Strike)
		if err != nil {
			return model.InstrumentRecord{}, fmt.Errorf("instrument %s: %w", i.Symbol, err)
		}
		a.Strike = &strike
	}
	if ts := ParseTimestamp(i.Expiry); ts != 0 {
		a.Expiry = &ts
	}

	return model.InstrumentRecord{
		Key:   model.NaturalKey{VenueID: venue, VenueSymbol: i.Symbol},
		Attrs: a,
	}, nil
}

func parseDecimal(field, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return f, nil
}
