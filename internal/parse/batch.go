package parse

import (
	"fmt"

	"github.com/rickgao/marketlake/internal/discovery"
	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/model"
)

// Batch holds the rows of one bronze file. Exactly one slice is populated,
// selected by DataType.
type Batch struct {
	DataType string
	Trades   []model.TradeEvent
	Quotes   []model.QuoteEvent
	Books    []model.BookSnapshotEvent
	Tickers  []model.DerivativeTickerEvent
}

// Len returns the number of rows.
func (b Batch) Len() int {
	return len(b.Trades) + len(b.Quotes) + len(b.Books) + len(b.Tickers)
}

// Events returns the rows as the Event interface, in file order.
func (b Batch) Events() []model.Event {
	out := make([]model.Event, 0, b.Len())
	for _, e := range b.Trades {
		out = append(out, e)
	}
	for _, e := range b.Quotes {
		out = append(out, e)
	}
	for _, e := range b.Books {
		out = append(out, e)
	}
	for _, e := range b.Tickers {
		out = append(out, e)
	}
	return out
}

// TsRange returns the min and max event timestamps. ok is false for an
// empty batch.
func (b Batch) TsRange() (minTs, maxTs int64, ok bool) {
	for _, e := range b.Events() {
		ts := e.EventTs()
		if !ok {
			minTs, maxTs, ok = ts, ts, true
			continue
		}
		minTs = min(minTs, ts)
		maxTs = max(maxTs, ts)
	}
	return minTs, maxTs, ok
}

// Options controls parsing.
type Options struct {
	MaxBookLevels int // Levels kept per side; 0 keeps all
}

// File parses the bronze file at path as dataType.
func File(path, dataType string, opts Options) (Batch, error) {
	const op = "parse.file"
	format := discovery.FormatOf(path)

	var (
		b   Batch
		err error
	)
	switch format {
	case discovery.FormatCSV, discovery.FormatCSVGzip:
		b, err = parseCSVFile(path, format == discovery.FormatCSVGzip, dataType, opts)
	case discovery.FormatParquet:
		b, err = parseParquetFile(path, dataType, opts)
	default:
		return Batch{}, errs.E(errs.UserInput, op, "unsupported file format %s", path)
	}
	if err != nil {
		if errs.KindOf(err) != errs.Unknown {
			return Batch{}, err
		}
		return Batch{}, errs.Wrap(errs.DataQuality, op, fmt.Errorf("%s: %w", path, err))
	}
	return b, nil
}

func unsupportedType(dataType string) error {
	return errs.E(errs.UserInput, "parse.file", "unsupported data type %q", dataType)
}

// normalizeSide maps vendor side strings to buy, sell or empty.
func normalizeSide(s string) string {
	switch s {
	case "buy", "BUY", "Buy", "b", "bid":
		return "buy"
	case "sell", "SELL", "Sell", "s", "ask":
		return "sell"
	default:
		return ""
	}
}

func truncateLevels(levels []model.PriceLevel, maxLevels int) []model.PriceLevel {
	if maxLevels > 0 && len(levels) > maxLevels {
		return levels[:maxLevels]
	}
	return levels
}
