package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/ledger"
	"github.com/rickgao/marketlake/internal/metrics"
	"github.com/rickgao/marketlake/internal/model"
	"github.com/rickgao/marketlake/internal/notify"
	"github.com/rickgao/marketlake/internal/refdata"
)

// bootstrapTs is when BTCUSDT is first listed.
const bootstrapTs = 1000

var btc = model.NaturalKey{VenueID: 2, VenueSymbol: "BTCUSDT"}

func spot(key model.NaturalKey) model.InstrumentRecord {
	return model.InstrumentRecord{
		Key: key,
		Attrs: model.InstrumentAttrs{
			BaseAsset:    "BTC",
			QuoteAsset:   "USDT",
			Kind:         model.KindSpot,
			TickSize:     0.01,
			LotSize:      0.001,
			ContractSize: 1,
		},
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []notify.Transition
}

func (p *recordingPublisher) Publish(_ context.Context, t notify.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, t)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type harness struct {
	root   string
	lake   *lake.MemoryStore
	ledger *ledger.Ledger
	refs   *refdata.Store
	pub    *recordingPublisher
	orch   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	retry := lake.RetryConfig{MaxAttempts: 20, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	h := &harness{root: t.TempDir(), lake: lake.NewMemoryStore(), pub: &recordingPublisher{}}
	led, err := ledger.New(ledger.Config{Table: "ingestion_ledger", StateDir: t.TempDir(), Retry: retry}, h.lake, nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	h.ledger = led
	h.refs = refdata.NewStore(refdata.StoreConfig{Table: "instrument_versions", Retry: retry}, h.lake, nil)
	if _, err := h.refs.Sync(ctx, []model.InstrumentRecord{spot(btc)}, bootstrapTs); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	h.orch = New(Config{
		BronzeRoot: h.root,
		Workers:    3,
		Venues:     map[string]int16{"binance": 2},
	}, h.lake, led, h.refs, h.pub, metrics.New(), nil)
	return h
}

func (h *harness) write(t *testing.T, dataType, symbol, name, content string) string {
	t.Helper()
	rel := "vendor=tardis/data_type=" + dataType + "/exchange=binance/symbol=" + symbol + "/date=1970-01-01/" + name
	path := filepath.Join(h.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return rel
}

func (h *harness) record(t *testing.T, rel string) model.IngestionRecord {
	t.Helper()
	recs, err := h.ledger.List(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, r := range recs {
		if r.RelativePath == rel {
			return r
		}
	}
	t.Fatalf("no ledger record for %s", rel)
	return model.IngestionRecord{}
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	before := h.write(t, "trades", "BTCUSDT", "before.csv", "timestamp,price,amount\n500,65000.5,0.01\n600,65000.6,0.01\n")
	after := h.write(t, "trades", "BTCUSDT", "after.csv", "timestamp,price,amount\n2000,65000.5,0.01\n3000,65000.4,0.02\n")

	sum, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Discovered != 2 || sum.Success != 1 || sum.Quarantined != 1 || sum.RowsCommitted != 2 {
		t.Errorf("Summary = %+v, want 2 discovered, 1 success, 1 quarantined, 2 rows", sum)
	}

	q := h.record(t, before)
	if q.Status != model.StatusQuarantined || q.QuarantineReason != model.ReasonInvalidValidityWindow {
		t.Errorf("before = %s/%s, want quarantined/invalid_validity_window", q.Status, q.QuarantineReason)
	}
	if q.ErrorMessage == nil || *q.ErrorMessage == "" {
		t.Error("quarantined record has no error message")
	}

	s := h.record(t, after)
	if s.Status != model.StatusSuccess || s.RowCount != 2 || s.TsMin != 2000 || s.TsMax != 3000 {
		t.Errorf("after = %+v, want success with 2 rows over [2000, 3000]", s)
	}
	if s.RunID != sum.RunID {
		t.Errorf("RunID = %q, want %q", s.RunID, sum.RunID)
	}

	trades, _, err := lake.ReadAll(ctx, h.lake, TradesSchema)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	wantID := refdata.InstanceID(btc, bootstrapTs)
	for _, tr := range trades {
		if tr.InstanceID != wantID {
			t.Errorf("InstanceID = %d, want %d", tr.InstanceID, wantID)
		}
		if tr.FileID != s.FileID || tr.Exchange != "binance" || tr.Date != "1970-01-01" {
			t.Errorf("header = %+v", tr.SilverHeader)
		}
	}
	if trades[0].PriceTicks != 6500050 || trades[0].QtyLots != 10 {
		t.Errorf("trades[0] = %d ticks, %d lots, want 6500050, 10", trades[0].PriceTicks, trades[0].QtyLots)
	}
	if trades[1].PriceTicks != 6500040 || trades[1].QtyLots != 20 {
		t.Errorf("trades[1] = %d ticks, %d lots, want 6500040, 20", trades[1].PriceTicks, trades[1].QtyLots)
	}

	if len(h.pub.sent) != 2 {
		t.Errorf("published %d transitions, want 2", len(h.pub.sent))
	}

	// A second run skips the success and retries the quarantine.
	sum, err = h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if sum.Skipped != 1 || sum.Quarantined != 1 {
		t.Errorf("second Summary = %+v, want 1 skipped, 1 quarantined", sum)
	}
	if got := h.record(t, before); got.FileID != q.FileID || got.Attempts != 2 {
		t.Errorf("retried record = id %d attempts %d, want id %d attempts 2", got.FileID, got.Attempts, q.FileID)
	}
	trades, _, _ = lake.ReadAll(ctx, h.lake, TradesSchema)
	if len(trades) != 2 {
		t.Errorf("len(trades) after rerun = %d, want 2", len(trades))
	}
}

func TestRun_QuarantineThenListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	eth := model.NaturalKey{VenueID: 2, VenueSymbol: "ETHUSDT"}

	rel := h.write(t, "trades", "ETHUSDT", "a.csv", "timestamp,price,amount\n2000,3000.5,1\n")
	if _, err := h.orch.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	first := h.record(t, rel)
	if first.Status != model.StatusQuarantined || first.QuarantineReason != model.ReasonMissingSymbol {
		t.Fatalf("record = %s/%s, want quarantined/missing_symbol", first.Status, first.QuarantineReason)
	}

	if _, err := h.refs.Sync(ctx, []model.InstrumentRecord{spot(btc), spot(eth)}, 1500); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	sum, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Success != 1 {
		t.Errorf("Summary = %+v, want 1 success", sum)
	}
	second := h.record(t, rel)
	if second.FileID != first.FileID || second.Status != model.StatusSuccess || second.Attempts != 2 {
		t.Errorf("record = %+v, want success under file id %d after 2 attempts", second, first.FileID)
	}
	if second.QuarantineReason != model.ReasonNone || second.ErrorMessage != nil {
		t.Errorf("success kept stale failure detail: %q %v", second.QuarantineReason, second.ErrorMessage)
	}
}

func TestRun_Failures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bad := h.write(t, "trades", "BTCUSDT", "bad.csv", "timestamp,price,amount\nnot-a-number,1,1\n")
	filtered := h.write(t, "quotes", "BTCUSDT", "crossed.csv",
		"timestamp,bid_price,bid_amount,ask_price,ask_amount\n2000,101,1,100,1\n2001,102,1,101,1\n")
	unknownVenue := "vendor=tardis/data_type=trades/exchange=kraken/symbol=BTCUSDT/date=1970-01-01/x.csv"
	path := filepath.Join(h.root, filepath.FromSlash(unknownVenue))
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("timestamp,price,amount\n2000,1,1\n"), 0o644)

	sum, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Failed != 2 || sum.Quarantined != 1 {
		t.Errorf("Summary = %+v, want 2 failed, 1 quarantined", sum)
	}

	if r := h.record(t, bad); r.Status != model.StatusFailed || r.ErrorMessage == nil {
		t.Errorf("bad = %s, %v, want failed with message", r.Status, r.ErrorMessage)
	}
	r := h.record(t, filtered)
	if r.Status != model.StatusFailed || r.ErrorMessage == nil || *r.ErrorMessage != "all rows filtered by validation" {
		t.Errorf("crossed = %s, %v, want failed: all rows filtered by validation", r.Status, r.ErrorMessage)
	}
	if r.DroppedInvalid != 2 {
		t.Errorf("DroppedInvalid = %d, want 2", r.DroppedInvalid)
	}
	if r := h.record(t, unknownVenue); r.QuarantineReason != model.ReasonMissingSymbol {
		t.Errorf("unknown venue reason = %q, want missing_symbol", r.QuarantineReason)
	}
}

func TestRun_PartialDrops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rel := h.write(t, "book_snapshot", "BTCUSDT", "b.csv",
		"timestamp,bids[0].price,bids[0].amount,asks[0].price,asks[0].amount\n"+
			"2000,100,1,101,2\n"+
			"2001,102,1,101,2\n"+ // crossed
			"1999,100,1,101,2\n"+ // back in time
			"2002,100.01,1.5,100.02,0.25\n")
	if _, err := h.orch.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := h.record(t, rel)
	if r.Status != model.StatusSuccess || r.RowCount != 2 || r.DroppedInvalid != 2 {
		t.Errorf("record = %s rows %d dropped %d, want success 2 rows 2 dropped", r.Status, r.RowCount, r.DroppedInvalid)
	}

	books, _, err := lake.ReadAll(ctx, h.lake, BookSnapshotsSchema)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("len(books) = %d, want 2", len(books))
	}
	last := books[1]
	if last.BestBid != 10001 || last.BestAsk != 10002 || last.Bids != "[[10001,1500]]" || last.Depth != 1 {
		t.Errorf("book = %+v", last)
	}
}

func TestRun_DropsUnencodableValues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rel := h.write(t, "trades", "BTCUSDT", "t.csv",
		"timestamp,price,amount\n"+
			"2000,NaN,0.01\n"+
			"2500,1e18,0.01\n"+ // past int64 ticks at 0.01
			"3000,65000.4,0.02\n")
	sum, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Success != 1 {
		t.Errorf("Summary = %+v, want 1 success", sum)
	}
	r := h.record(t, rel)
	if r.Status != model.StatusSuccess || r.RowCount != 1 || r.DroppedInvalid != 2 {
		t.Errorf("record = %s rows %d dropped %d, want success 1 row 2 dropped", r.Status, r.RowCount, r.DroppedInvalid)
	}

	trades, _, err := lake.ReadAll(ctx, h.lake, TradesSchema)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(trades) != 1 || trades[0].PriceTicks != 6500040 {
		t.Errorf("trades = %+v, want one row at 6500040 ticks", trades)
	}
}

func TestProcessFile_EmptyFileUsesDayRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.write(t, "trades", "BTCUSDT", "empty.csv", "timestamp,price,amount\n")

	_, pending, err := h.orch.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Pending() = %d files, %v", len(pending), err)
	}
	// The day range starts before the listing, so the day is not covered.
	out, err := h.orch.ProcessFile(ctx, "run", pending[0])
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if out.Status != model.StatusQuarantined || out.Reason != model.ReasonInvalidValidityWindow {
		t.Errorf("Outcome = %+v, want quarantined/invalid_validity_window", out)
	}
}

type failingStore struct {
	*lake.MemoryStore
	failTable string
}

func (s failingStore) OverwritePartition(ctx context.Context, def lake.TableDef, pred lake.Predicate, rows []lake.Row) error {
	if def.Name == s.failTable {
		return os.ErrPermission
	}
	return s.MemoryStore.OverwritePartition(ctx, def, pred, rows)
}

func TestRun_CommitFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rel := h.write(t, "trades", "BTCUSDT", "a.csv", "timestamp,price,amount\n2000,1,1\n")

	orch := New(Config{BronzeRoot: h.root, Workers: 1, Venues: map[string]int16{"binance": 2}},
		failingStore{MemoryStore: h.lake, failTable: TableTrades}, h.ledger, h.refs, nil, nil, nil)
	sum, err := orch.Run(ctx)
	if !errs.Is(err, errs.Infra) {
		t.Fatalf("Run() error = %v, want infra", err)
	}
	if sum.Pending != 1 {
		t.Errorf("Pending = %d, want 1", sum.Pending)
	}
	if r := h.record(t, rel); r.Status != model.StatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
}
