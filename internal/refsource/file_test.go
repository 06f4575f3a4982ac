package refsource

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/model"
)

const snapshotCSV = `venue_id,venue_symbol,base_asset,quote_asset,kind,tick_size,lot_size,contract_size,expiry,strike,option_type,underlying,valid_from
2,BTCUSDT,BTC,USDT,spot,0.01,0.00001,,,,,,1000
3,BTC-27DEC24-100000-C,BTC,USD,Option,5,0.1,1,1735286400000000,100000,CALL,BTC,2000
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadSnapshot_CSV(t *testing.T) {
	recs, err := ReadSnapshot(writeFile(t, "snap.csv", []byte(snapshotCSV)))
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}

	spot := recs[0]
	if spot.Key != (model.NaturalKey{VenueID: 2, VenueSymbol: "BTCUSDT"}) {
		t.Errorf("Key = %v", spot.Key)
	}
	if spot.Attrs.Kind != model.KindSpot || spot.Attrs.TickSize != 0.01 || spot.Attrs.ContractSize != 1 {
		t.Errorf("Attrs = %+v", spot.Attrs)
	}
	if spot.Attrs.Expiry != nil || spot.Attrs.Strike != nil {
		t.Errorf("spot optional fields set: %+v", spot.Attrs)
	}

	opt := recs[1].Attrs
	if opt.Kind != model.KindOption {
		t.Errorf("Kind = %q, want option", opt.Kind)
	}
	if opt.Strike == nil || *opt.Strike != 100000 {
		t.Errorf("Strike = %v, want 100000", opt.Strike)
	}
	if opt.Expiry == nil || *opt.Expiry != 1735286400000000 {
		t.Errorf("Expiry = %v", opt.Expiry)
	}
	if opt.OptionType != "call" {
		t.Errorf("OptionType = %q, want call", opt.OptionType)
	}
}

func TestReadSnapshot_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(snapshotCSV))
	zw.Close()

	recs, err := ReadSnapshot(writeFile(t, "snap.csv.gz", buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len = %d, want 2", len(recs))
	}
}

func TestReadHistory(t *testing.T) {
	rows, err := ReadHistory(writeFile(t, "hist.csv", []byte(snapshotCSV)))
	if err != nil {
		t.Fatalf("ReadHistory failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ValidFrom != 1000 || rows[1].ValidFrom != 2000 {
		t.Errorf("rows = %+v", rows)
	}

	missing := `venue_id,venue_symbol,kind,tick_size,lot_size,valid_from
2,BTCUSDT,spot,0.01,0.001,
`
	if _, err := ReadHistory(writeFile(t, "bad.csv", []byte(missing))); !errs.Is(err, errs.UserInput) {
		t.Errorf("missing valid_from: err = %v, want user_input", err)
	}
}

func TestReadSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"missing column", "a.csv", "venue_id,venue_symbol,kind,tick_size\n2,X,spot,0.01\n"},
		{"bad venue", "b.csv", "venue_id,venue_symbol,kind,tick_size,lot_size\n99999,X,spot,0.01,1\n"},
		{"bad tick", "c.csv", "venue_id,venue_symbol,kind,tick_size,lot_size\n2,X,spot,abc,1\n"},
		{"empty symbol", "d.csv", "venue_id,venue_symbol,kind,tick_size,lot_size\n2, ,spot,0.01,1\n"},
		{"bad strike", "e.csv", "venue_id,venue_symbol,kind,tick_size,lot_size,strike\n2,X,option,0.01,1,?\n"},
		{"unsupported", "f.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSnapshot(writeFile(t, tt.file, []byte(tt.data)))
			if !errs.Is(err, errs.UserInput) {
				t.Errorf("err = %v, want user_input", err)
			}
		})
	}

	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.csv")); !errs.Is(err, errs.UserInput) {
		t.Errorf("missing file: err = %v, want user_input", err)
	}
}

func TestReadSnapshot_EmptyFile(t *testing.T) {
	recs, err := ReadSnapshot(writeFile(t, "empty.csv", nil))
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len = %d, want 0", len(recs))
	}
}

func TestReadHistory_Parquet(t *testing.T) {
	cs := 1.0
	vf1, vf2 := int64(1000), int64(5000)
	path := filepath.Join(t.TempDir(), "hist.parquet")
	rows := []instrumentRow{
		{VenueID: 2, VenueSymbol: "BTCUSDT", Kind: "spot", TickSize: 0.01, LotSize: 0.001, ContractSize: &cs, ValidFrom: &vf1},
		{VenueID: 2, VenueSymbol: "BTCUSDT", Kind: "spot", TickSize: 0.1, LotSize: 0.001, ValidFrom: &vf2},
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	got, err := ReadHistory(path)
	if err != nil {
		t.Fatalf("ReadHistory failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].ValidFrom != 5000 || got[1].Attrs.TickSize != 0.1 {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[1].Attrs.ContractSize != 1 {
		t.Errorf("ContractSize = %v, want default 1", got[1].Attrs.ContractSize)
	}
}

func TestFileSource(t *testing.T) {
	src := File{Path: writeFile(t, "snap.csv", []byte(snapshotCSV))}
	recs, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len = %d, want 2", len(recs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Snapshot(ctx); err == nil {
		t.Error("Snapshot on canceled context succeeded")
	}
}
