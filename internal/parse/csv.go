package parse

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rickgao/marketlake/internal/model"
)

func parseCSVFile(path string, gzipped bool, dataType string, opts Options) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return Batch{}, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return CSV(r, dataType, opts)
}

// CSV parses CSV rows of dataType from r. The first record is the header.
func CSV(r io.Reader, dataType string, opts Options) (Batch, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Batch{DataType: dataType}, nil
	}
	if err != nil {
		return Batch{}, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	b := Batch{DataType: dataType}
	var decode func(*record) error
	switch dataType {
	case model.DataTypeTrades:
		decode = func(rec *record) error {
			e := model.TradeEvent{
				Ts:      rec.reqInt("timestamp"),
				LocalTs: rec.optInt("local_timestamp"),
				TradeID: rec.optString("id"),
				Side:    normalizeSide(rec.optString("side")),
				Price:   rec.reqFloat("price"),
				Amount:  rec.reqFloat("amount"),
			}
			b.Trades = append(b.Trades, e)
			return rec.err
		}
	case model.DataTypeQuotes:
		decode = func(rec *record) error {
			e := model.QuoteEvent{
				Ts:        rec.reqInt("timestamp"),
				LocalTs:   rec.optInt("local_timestamp"),
				BidPrice:  rec.reqFloat("bid_price"),
				BidAmount: rec.reqFloat("bid_amount"),
				AskPrice:  rec.reqFloat("ask_price"),
				AskAmount: rec.reqFloat("ask_amount"),
			}
			b.Quotes = append(b.Quotes, e)
			return rec.err
		}
	case model.DataTypeBookSnapshot:
		depth := bookDepth(cols)
		decode = func(rec *record) error {
			e := model.BookSnapshotEvent{
				Ts:      rec.reqInt("timestamp"),
				LocalTs: rec.optInt("local_timestamp"),
				Bids:    truncateLevels(rec.levels("bids", depth), opts.MaxBookLevels),
				Asks:    truncateLevels(rec.levels("asks", depth), opts.MaxBookLevels),
			}
			b.Books = append(b.Books, e)
			return rec.err
		}
	case model.DataTypeDerivativeTicker:
		decode = func(rec *record) error {
			e := model.DerivativeTickerEvent{
				Ts:           rec.reqInt("timestamp"),
				LocalTs:      rec.optInt("local_timestamp"),
				FundingRate:  rec.optFloat("funding_rate"),
				FundingTs:    rec.optInt("funding_timestamp"),
				MarkPrice:    rec.optFloat("mark_price"),
				IndexPrice:   rec.optFloat("index_price"),
				LastPrice:    rec.optFloat("last_price"),
				OpenInterest: rec.optFloat("open_interest"),
			}
			b.Tickers = append(b.Tickers, e)
			return rec.err
		}
	default:
		return Batch{}, unsupportedType(dataType)
	}

	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("read: %w", err)
		}
		rec := &record{cols: cols, fields: fields}
		if err := decode(rec); err != nil {
			return Batch{}, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return b, nil
}

// bookDepth returns the number of levels present in a book header, which
// uses columns named like "bids[0].price".
func bookDepth(cols map[string]int) int {
	depth := 0
	for {
		if _, ok := cols[levelColumn("bids", depth, "price")]; ok {
			depth++
			continue
		}
		if _, ok := cols[levelColumn("asks", depth, "price")]; ok {
			depth++
			continue
		}
		return depth
	}
}

func levelColumn(side string, i int, field string) string {
	return side + "[" + strconv.Itoa(i) + "]." + field
}

// record decodes one CSV record by column name, keeping the first error.
type record struct {
	cols   map[string]int
	fields []string
	err    error
}

func (r *record) lookup(name string, required bool) (string, bool) {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		if required && r.err == nil {
			r.err = fmt.Errorf("missing column %s", name)
		}
		return "", false
	}
	v := strings.TrimSpace(r.fields[i])
	if v == "" {
		if required && r.err == nil {
			r.err = fmt.Errorf("empty %s", name)
		}
		return "", false
	}
	return v, true
}

func (r *record) reqInt(name string) int64 {
	v, ok := r.lookup(name, true)
	if !ok {
		return 0
	}
	return r.parseInt(name, v)
}

func (r *record) optInt(name string) int64 {
	v, ok := r.lookup(name, false)
	if !ok {
		return 0
	}
	return r.parseInt(name, v)
}

func (r *record) parseInt(name, v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("parse %s: %w", name, err)
	}
	return n
}

func (r *record) reqFloat(name string) float64 {
	v, ok := r.lookup(name, true)
	if !ok {
		return 0
	}
	return r.parseFloat(name, v)
}

func (r *record) optFloat(name string) float64 {
	v, ok := r.lookup(name, false)
	if !ok {
		return 0
	}
	return r.parseFloat(name, v)
}

func (r *record) parseFloat(name, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("parse %s: %w", name, err)
	}
	return f
}

func (r *record) optString(name string) string {
	v, _ := r.lookup(name, false)
	return v
}

// levels reads up to depth levels of one side, stopping at the first
// empty price.
func (r *record) levels(side string, depth int) []model.PriceLevel {
	var out []model.PriceLevel
	for i := 0; i < depth; i++ {
		p, ok := r.lookup(levelColumn(side, i, "price"), false)
		if !ok {
			break
		}
		lvl := model.PriceLevel{
			Price:  r.parseFloat(levelColumn(side, i, "price"), p),
			Amount: r.optFloat(levelColumn(side, i, "amount")),
		}
		out = append(out, lvl)
	}
	return out
}
