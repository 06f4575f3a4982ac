package refsource

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/rickgao/marketlake/internal/discovery"
	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/model"
)

// ReadSnapshot reads a full reference-data snapshot from a CSV, gzipped
// CSV or Parquet file. A valid_from column, if present, is ignored.
func ReadSnapshot(path string) ([]model.InstrumentRecord, error) {
	const op = "refsource.read_snapshot"

	rows, err := readRows(path)
	if err != nil {
		return nil, errs.Wrap(errs.UserInput, op, err)
	}
	out := make([]model.InstrumentRecord, 0, len(rows))
	for i, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, errs.Wrap(errs.UserInput, op, fmt.Errorf("%s row %d: %w", path, i+1, err))
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadHistory reads flat history rows. Every row needs valid_from.
func ReadHistory(path string) ([]model.HistoryRow, error) {
	const op = "refsource.read_history"

	rows, err := readRows(path)
	if err != nil {
		return nil, errs.Wrap(errs.UserInput, op, err)
	}
	out := make([]model.HistoryRow, 0, len(rows))
	for i, r := range rows {
		h, err := r.history()
		if err != nil {
			return nil, errs.Wrap(errs.UserInput, op, fmt.Errorf("%s row %d: %w", path, i+1, err))
		}
		out = append(out, h)
	}
	return out, nil
}

func readRows(path string) ([]instrumentRow, error) {
	switch discovery.FormatOf(path) {
	case discovery.FormatParquet:
		rows, err := parquet.ReadFile[instrumentRow](path)
		if err != nil {
			return nil, fmt.Errorf("read parquet %s: %w", path, err)
		}
		return rows, nil
	case discovery.FormatCSV, discovery.FormatCSVGzip:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		defer f.Close()

		var r io.Reader = f
		if discovery.FormatOf(path) == discovery.FormatCSVGzip {
			zr, err := gzip.NewReader(f)
			if err != nil {
				return nil, fmt.Errorf("gzip %s: %w", path, err)
			}
			defer zr.Close()
			r = zr
		}
		rows, err := readCSV(r)
		if err != nil {
			return nil, fmt.Errorf("read csv %s: %w", path, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported reference file %s", path)
	}
}

var requiredColumns = []string{"venue_id", "venue_symbol", "kind", "tick_size", "lot_size"}

func readCSV(r io.Reader) ([]instrumentRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing column %s", c)
		}
	}

	var rows []instrumentRow
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		row, err := decodeCSV(cols, fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeCSV(cols map[string]int, fields []string) (instrumentRow, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	var row instrumentRow
	venue, err := strconv.ParseInt(get("venue_id"), 10, 16)
	if err != nil {
		return row, fmt.Errorf("parse venue_id: %w", err)
	}
	row.VenueID = int32(venue)
	row.VenueSymbol = get("venue_symbol")
	row.BaseAsset = get("base_asset")
	row.QuoteAsset = get("quote_asset")
	row.Kind = get("kind")
	row.OptionType = get("option_type")
	row.Underlying = get("underlying")

	if row.TickSize, err = strconv.ParseFloat(get("tick_size"), 64); err != nil {
		return row, fmt.Errorf("parse tick_size: %w", err)
	}
	if row.LotSize, err = strconv.ParseFloat(get("lot_size"), 64); err != nil {
		return row, fmt.Errorf("parse lot_size: %w", err)
	}
	if row.ContractSize, err = optFloat("contract_size", get("contract_size")); err != nil {
		return row, err
	}
	if row.Strike, err = optFloat("strike", get("strike")); err != nil {
		return row, err
	}
	if row.Expiry, err = optInt("expiry", get("expiry")); err != nil {
		return row, err
	}
	if row.ValidFrom, err = optInt("valid_from", get("valid_from")); err != nil {
		return row, err
	}
	return row, nil
}

func optFloat(name, v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &f, nil
}

func optInt(name, v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &n, nil
}

// File is a Source backed by a snapshot file that is re-read on every call.
type File struct {
	Path string
}

// Snapshot implements Source.
func (f File) Snapshot(ctx context.Context) ([]model.InstrumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadSnapshot(f.Path)
}

func (f File) String() string {
	return "file:" + f.Path
}
