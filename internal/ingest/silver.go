package ingest

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
)

// Silver table names.
const (
	TableTrades            = "silver_trades"
	TableQuotes            = "silver_quotes"
	TableBookSnapshots     = "silver_book_snapshots"
	TableDerivativeTickers = "silver_derivative_tickers"
)

// SilverTable returns the silver table for a bronze data type.
func SilverTable(dataType string) (string, bool) {
	switch dataType {
	case model.DataTypeTrades:
		return TableTrades, true
	case model.DataTypeQuotes:
		return TableQuotes, true
	case model.DataTypeBookSnapshot:
		return TableBookSnapshots, true
	case model.DataTypeDerivativeTicker:
		return TableDerivativeTickers, true
	}
	return "", false
}

var (
	maxUnits = decimal.NewFromInt(math.MaxInt64)
	minUnits = decimal.NewFromInt(math.MinInt64)
)

// toUnits converts a vendor value into integer multiples of unit,
// rounding half away from zero. ok is false when v or unit is not finite,
// unit is not positive, or the result does not fit in an int64.
func toUnits(v, unit float64) (n int64, ok bool) {
	if !isFinite(v) || !isFinite(unit) || unit <= 0 {
		return 0, false
	}
	d := decimal.NewFromFloat(v).Div(decimal.NewFromFloat(unit)).Round(0)
	if d.GreaterThan(maxUnits) || d.LessThan(minUnits) {
		return 0, false
	}
	return d.IntPart(), true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// unitEncoder runs toUnits and remembers whether any conversion failed.
type unitEncoder struct {
	failed bool
}

func (u *unitEncoder) units(v, unit float64) int64 {
	n, ok := toUnits(v, unit)
	if !ok {
		u.failed = true
	}
	return n
}

func sideCode(side string) int8 {
	switch side {
	case "buy":
		return 1
	case "sell":
		return -1
	}
	return 0
}

var headerColumns = []lake.Column{
	{Name: "exchange", Type: lake.TypeString},
	{Name: "date", Type: lake.TypeString},
	{Name: "file_id", Type: lake.TypeInt32},
	{Name: "instance_id", Type: lake.TypeInt64},
}

var partitionColumns = []string{"exchange", "date", "file_id"}

func silverDef(name string, cols ...lake.Column) lake.TableDef {
	all := make([]lake.Column, 0, len(headerColumns)+len(cols))
	all = append(all, headerColumns...)
	all = append(all, cols...)
	return lake.TableDef{Name: name, Columns: all, PartitionBy: partitionColumns}
}

func encodeHeader(h model.SilverHeader) lake.Row {
	return lake.Row{h.Exchange, h.Date, h.FileID, h.InstanceID}
}

func decodeHeader(rr *lake.RowReader) model.SilverHeader {
	return model.SilverHeader{
		Exchange:   rr.String(),
		Date:       rr.String(),
		FileID:     rr.Int32(),
		InstanceID: rr.Int64(),
	}
}

// partitionOf is the commit predicate for one file's rows.
func partitionOf(h model.SilverHeader) lake.Predicate {
	return lake.Predicate{
		{Column: "exchange", Value: h.Exchange},
		{Column: "date", Value: h.Date},
		{Column: "file_id", Value: h.FileID},
	}
}

// TradesSchema maps SilverTrade onto silver_trades.
var TradesSchema = lake.Schema[model.SilverTrade]{
	TableDef: silverDef(TableTrades,
		lake.Column{Name: "ts", Type: lake.TypeInt64},
		lake.Column{Name: "local_ts", Type: lake.TypeInt64},
		lake.Column{Name: "trade_id", Type: lake.TypeString},
		lake.Column{Name: "side", Type: lake.TypeInt8},
		lake.Column{Name: "price_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "qty_lots", Type: lake.TypeInt64},
	),
	Encode: func(t model.SilverTrade) lake.Row {
		return append(encodeHeader(t.SilverHeader), t.Ts, t.LocalTs, t.TradeID, t.Side, t.PriceTicks, t.QtyLots)
	},
	Decode: func(r lake.Row) (model.SilverTrade, error) {
		rr := lake.NewRowReader(r)
		t := model.SilverTrade{SilverHeader: decodeHeader(rr)}
		t.Ts = rr.Int64()
		t.LocalTs = rr.Int64()
		t.TradeID = rr.String()
		t.Side = rr.Int8()
		t.PriceTicks = rr.Int64()
		t.QtyLots = rr.Int64()
		return t, rr.Err()
	},
}

// QuotesSchema maps SilverQuote onto silver_quotes.
var QuotesSchema = lake.Schema[model.SilverQuote]{
	TableDef: silverDef(TableQuotes,
		lake.Column{Name: "ts", Type: lake.TypeInt64},
		lake.Column{Name: "local_ts", Type: lake.TypeInt64},
		lake.Column{Name: "bid_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "bid_lots", Type: lake.TypeInt64},
		lake.Column{Name: "ask_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "ask_lots", Type: lake.TypeInt64},
	),
	Encode: func(q model.SilverQuote) lake.Row {
		return append(encodeHeader(q.SilverHeader), q.Ts, q.LocalTs, q.BidTicks, q.BidLots, q.AskTicks, q.AskLots)
	},
	Decode: func(r lake.Row) (model.SilverQuote, error) {
		rr := lake.NewRowReader(r)
		q := model.SilverQuote{SilverHeader: decodeHeader(rr)}
		q.Ts = rr.Int64()
		q.LocalTs = rr.Int64()
		q.BidTicks = rr.Int64()
		q.BidLots = rr.Int64()
		q.AskTicks = rr.Int64()
		q.AskLots = rr.Int64()
		return q, rr.Err()
	},
}

// BookSnapshotsSchema maps SilverBookSnapshot onto silver_book_snapshots.
var BookSnapshotsSchema = lake.Schema[model.SilverBookSnapshot]{
	TableDef: silverDef(TableBookSnapshots,
		lake.Column{Name: "ts", Type: lake.TypeInt64},
		lake.Column{Name: "local_ts", Type: lake.TypeInt64},
		lake.Column{Name: "bids", Type: lake.TypeString},
		lake.Column{Name: "asks", Type: lake.TypeString},
		lake.Column{Name: "best_bid_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "best_ask_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "depth", Type: lake.TypeInt32},
	),
	Encode: func(b model.SilverBookSnapshot) lake.Row {
		return append(encodeHeader(b.SilverHeader), b.Ts, b.LocalTs, b.Bids, b.Asks, b.BestBid, b.BestAsk, b.Depth)
	},
	Decode: func(r lake.Row) (model.SilverBookSnapshot, error) {
		rr := lake.NewRowReader(r)
		b := model.SilverBookSnapshot{SilverHeader: decodeHeader(rr)}
		b.Ts = rr.Int64()
		b.LocalTs = rr.Int64()
		b.Bids = rr.String()
		b.Asks = rr.String()
		b.BestBid = rr.Int64()
		b.BestAsk = rr.Int64()
		b.Depth = rr.Int32()
		return b, rr.Err()
	},
}

// DerivativeTickersSchema maps SilverDerivativeTicker onto silver_derivative_tickers.
var DerivativeTickersSchema = lake.Schema[model.SilverDerivativeTicker]{
	TableDef: silverDef(TableDerivativeTickers,
		lake.Column{Name: "ts", Type: lake.TypeInt64},
		lake.Column{Name: "local_ts", Type: lake.TypeInt64},
		lake.Column{Name: "funding_rate", Type: lake.TypeFloat64},
		lake.Column{Name: "funding_ts", Type: lake.TypeInt64},
		lake.Column{Name: "mark_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "index_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "last_ticks", Type: lake.TypeInt64},
		lake.Column{Name: "open_interest", Type: lake.TypeFloat64},
	),
	Encode: func(d model.SilverDerivativeTicker) lake.Row {
		return append(encodeHeader(d.SilverHeader), d.Ts, d.LocalTs, d.FundingRate, d.FundingTs,
			d.MarkTicks, d.IndexTicks, d.LastTicks, d.OpenInterest)
	},
	Decode: func(r lake.Row) (model.SilverDerivativeTicker, error) {
		rr := lake.NewRowReader(r)
		d := model.SilverDerivativeTicker{SilverHeader: decodeHeader(rr)}
		d.Ts = rr.Int64()
		d.LocalTs = rr.Int64()
		d.FundingRate = rr.Float64()
		d.FundingTs = rr.Int64()
		d.MarkTicks = rr.Int64()
		d.IndexTicks = rr.Int64()
		d.LastTicks = rr.Int64()
		d.OpenInterest = rr.Float64()
		return d, rr.Err()
	},
}

func encodeTrade(h model.SilverHeader, e model.TradeEvent, a model.InstrumentAttrs) (model.SilverTrade, bool) {
	var u unitEncoder
	t := model.SilverTrade{
		SilverHeader: h,
		Ts:           e.Ts,
		LocalTs:      e.LocalTs,
		TradeID:      e.TradeID,
		Side:         sideCode(e.Side),
		PriceTicks:   u.units(e.Price, a.TickSize),
		QtyLots:      u.units(e.Amount, a.LotSize),
	}
	return t, !u.failed
}

func encodeQuote(h model.SilverHeader, e model.QuoteEvent, a model.InstrumentAttrs) (model.SilverQuote, bool) {
	var u unitEncoder
	q := model.SilverQuote{
		SilverHeader: h,
		Ts:           e.Ts,
		LocalTs:      e.LocalTs,
		BidTicks:     u.units(e.BidPrice, a.TickSize),
		BidLots:      u.units(e.BidAmount, a.LotSize),
		AskTicks:     u.units(e.AskPrice, a.TickSize),
		AskLots:      u.units(e.AskAmount, a.LotSize),
	}
	return q, !u.failed
}

func encodeBook(h model.SilverHeader, e model.BookSnapshotEvent, a model.InstrumentAttrs) (model.SilverBookSnapshot, bool) {
	var u unitEncoder
	bids := u.levels(e.Bids, a)
	asks := u.levels(e.Asks, a)
	b := model.SilverBookSnapshot{
		SilverHeader: h,
		Ts:           e.Ts,
		LocalTs:      e.LocalTs,
		Bids:         levelsJSON(bids),
		Asks:         levelsJSON(asks),
		Depth:        int32(max(len(bids), len(asks))),
	}
	if len(bids) > 0 {
		b.BestBid = bids[0][0]
	}
	if len(asks) > 0 {
		b.BestAsk = asks[0][0]
	}
	return b, !u.failed
}

func (u *unitEncoder) levels(levels []model.PriceLevel, a model.InstrumentAttrs) [][2]int64 {
	out := make([][2]int64, len(levels))
	for i, l := range levels {
		out[i] = [2]int64{u.units(l.Price, a.TickSize), u.units(l.Amount, a.LotSize)}
	}
	return out
}

func levelsJSON(levels [][2]int64) string {
	b, _ := json.Marshal(levels) // [][2]int64 always marshals
	return string(b)
}

func encodeTicker(h model.SilverHeader, e model.DerivativeTickerEvent, a model.InstrumentAttrs) (model.SilverDerivativeTicker, bool) {
	var u unitEncoder
	d := model.SilverDerivativeTicker{
		SilverHeader: h,
		Ts:           e.Ts,
		LocalTs:      e.LocalTs,
		FundingRate:  e.FundingRate,
		FundingTs:    e.FundingTs,
		MarkTicks:    u.units(e.MarkPrice, a.TickSize),
		IndexTicks:   u.units(e.IndexPrice, a.TickSize),
		LastTicks:    u.units(e.LastPrice, a.TickSize),
		OpenInterest: e.OpenInterest,
	}
	return d, !u.failed
}
