package refsource

import (
	"fmt"
	"math"
	"strings"

	"github.com/rickgao/marketlake/internal/model"
)

// instrumentRow is the flat layout shared by CSV and Parquet inputs.
type instrumentRow struct {
	VenueID      int32    `parquet:"venue_id"`
	VenueSymbol  string   `parquet:"venue_symbol"`
	BaseAsset    string   `parquet:"base_asset,optional"`
	QuoteAsset   string   `parquet:"quote_asset,optional"`
	Kind         string   `parquet:"kind"`
	TickSize     float64  `parquet:"tick_size"`
	LotSize      float64  `parquet:"lot_size"`
	ContractSize *float64 `parquet:"contract_size,optional"`
	Expiry       *int64   `parquet:"expiry,optional"`
	Strike       *float64 `parquet:"strike,optional"`
	OptionType   string   `parquet:"option_type,optional"`
	Underlying   string   `parquet:"underlying,optional"`
	ValidFrom    *int64   `parquet:"valid_from,optional"`
}

func (r instrumentRow) record() (model.InstrumentRecord, error) {
	if r.VenueID < math.MinInt16 || r.VenueID > math.MaxInt16 {
		return model.InstrumentRecord{}, fmt.Errorf("venue_id %d out of range", r.VenueID)
	}
	symbol := strings.TrimSpace(r.VenueSymbol)
	if symbol == "" {
		return model.InstrumentRecord{}, fmt.Errorf("empty venue_symbol")
	}

	a := model.InstrumentAttrs{
		BaseAsset:    r.BaseAsset,
		QuoteAsset:   r.QuoteAsset,
		Kind:         model.InstrumentKind(strings.ToLower(strings.TrimSpace(r.Kind))),
		TickSize:     r.TickSize,
		LotSize:      r.LotSize,
		ContractSize: 1,
		Expiry:       r.Expiry,
		Strike:       r.Strike,
		OptionType:   strings.ToLower(r.OptionType),
		Underlying:   r.Underlying,
	}
	if r.ContractSize != nil {
		a.ContractSize = *r.ContractSize
	}

	return model.InstrumentRecord{
		Key:   model.NaturalKey{VenueID: int16(r.VenueID), VenueSymbol: symbol},
		Attrs: a,
	}, nil
}

func (r instrumentRow) history() (model.HistoryRow, error) {
	rec, err := r.record()
	if err != nil {
		return model.HistoryRow{}, err
	}
	if r.ValidFrom == nil {
		return model.HistoryRow{}, fmt.Errorf("%s: missing valid_from", rec.Key)
	}
	return model.HistoryRow{Key: rec.Key, Attrs: rec.Attrs, ValidFrom: *r.ValidFrom}, nil
}
