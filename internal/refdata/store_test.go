package refdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
)

func newTestStore(ls lake.Store) *Store {
	return NewStore(StoreConfig{
		Table:    "instrument_versions",
		CacheTTL: time.Hour,
		Retry:    lake.RetryConfig{MaxAttempts: 20, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, ls, nil)
}

func TestStore_SyncLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(lake.NewMemoryStore())

	res, err := s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01), rec(eth, 0.01)}, 1000)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.NewListings != 2 || !res.Written || res.Versions != 2 {
		t.Errorf("bootstrap result = %+v, want 2 new listings written", res)
	}

	// Same snapshot again writes nothing.
	res, err = s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01), rec(eth, 0.010000000000000002)}, 2000)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Written || res.Unchanged != 2 {
		t.Errorf("no-op result = %+v, want unchanged 2 and nothing written", res)
	}

	res, err = s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.1)}, 3000)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Modified != 1 || res.Delisted != 1 || res.Versions != 3 {
		t.Errorf("update result = %+v, want 1 modified, 1 delisted, 3 versions", res)
	}

	set, err := s.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	v, ok := set.ResolveAt(btc, 2500)
	if !ok || v.Attrs.TickSize != 0.01 {
		t.Errorf("ResolveAt(2500) = %+v, %v, want tick 0.01", v, ok)
	}
	v, ok = set.ResolveAt(btc, 3000)
	if !ok || v.Attrs.TickSize != 0.1 {
		t.Errorf("ResolveAt(3000) = %+v, %v, want tick 0.1", v, ok)
	}
	if _, ok := set.ResolveAt(eth, 3000); ok {
		t.Error("ETH resolves after delisting")
	}
}

func TestStore_SyncForwardOnlyLeavesTableUntouched(t *testing.T) {
	ctx := context.Background()
	ls := lake.NewMemoryStore()
	s := newTestStore(ls)

	if _, err := s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01)}, 1000); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	before, _ := ls.Version(ctx, VersionsSchema("instrument_versions").TableDef)

	_, err := s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.5)}, 1000)
	if errs.KindOf(err) != errs.ForwardOnlyViolation {
		t.Fatalf("KindOf(err) = %v, want %v", errs.KindOf(err), errs.ForwardOnlyViolation)
	}
	if errs.ExitCode(err) != 1 {
		t.Errorf("ExitCode = %d, want 1", errs.ExitCode(err))
	}

	after, _ := ls.Version(ctx, VersionsSchema("instrument_versions").TableDef)
	if before != after {
		t.Errorf("table version %d -> %d after rejected sync", before, after)
	}
}

func TestStore_PersistsOptionalFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(lake.NewMemoryStore())

	opt := model.InstrumentRecord{
		Key: model.NaturalKey{VenueID: 4, VenueSymbol: "BTC-27DEC24-100000-C"},
		Attrs: model.InstrumentAttrs{
			BaseAsset:    "BTC",
			QuoteAsset:   "BTC",
			Kind:         model.KindOption,
			TickSize:     0.0005,
			LotSize:      0.1,
			ContractSize: 1,
			Expiry:       model.Int64Ptr(1735286400000000),
			Strike:       model.Float64Ptr(100000),
			OptionType:   "call",
			Underlying:   "BTC-USD",
		},
	}
	if _, err := s.Sync(ctx, []model.InstrumentRecord{opt, rec(btc, 0.01)}, 1000); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	set, _, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := set.Current(opt.Key)
	if !ok {
		t.Fatal("option not found")
	}
	if !AttrsEqual(got.Attrs, opt.Attrs) {
		t.Errorf("attrs = %+v, want %+v", got.Attrs, opt.Attrs)
	}
	spot, _ := set.Current(btc)
	if spot.Attrs.Expiry != nil || spot.Attrs.Strike != nil || spot.Attrs.OptionType != "" {
		t.Errorf("spot optional fields = %+v, want unset", spot.Attrs)
	}
}

func TestStore_ConcurrentSyncs(t *testing.T) {
	ctx := context.Background()
	ls := lake.NewMemoryStore()
	a := newTestStore(ls)
	b := newTestStore(ls)

	if _, err := a.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01)}, 1000); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// Two writers race to apply the same snapshot; the listing lands once.
	snapshot := []model.InstrumentRecord{rec(btc, 0.01), rec(eth, 0.01)}
	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = a.Sync(ctx, snapshot, 2000)
	}()
	go func() {
		defer wg.Done()
		_, errB = b.Sync(ctx, snapshot, 2000)
	}()
	wg.Wait()
	if errA != nil || errB != nil {
		t.Fatalf("Sync errors: %v, %v", errA, errB)
	}

	set, _, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (btc and eth listed once)", set.Len())
	}
	if h := set.History(eth); len(h) != 1 || h[0].ValidFrom != 2000 {
		t.Errorf("eth history = %+v, want one version from 2000", h)
	}
}

// racingStore lets another writer commit right before the first guarded overwrite.
type racingStore struct {
	lake.Store
	once  sync.Once
	race  func()
	tries int
}

func (r *racingStore) OverwriteTable(ctx context.Context, def lake.TableDef, expected int64, rows []lake.Row) error {
	r.tries++
	r.once.Do(r.race)
	return r.Store.OverwriteTable(ctx, def, expected, rows)
}

func TestStore_SyncRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	mem := lake.NewMemoryStore()
	other := newTestStore(mem)
	if _, err := other.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01)}, 1000); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	rs := &racingStore{Store: mem}
	rs.race = func() {
		if _, err := other.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.01), rec(eth, 0.01)}, 1500); err != nil {
			t.Errorf("racing Sync failed: %v", err)
		}
	}
	s := newTestStore(rs)

	res, err := s.Sync(ctx, []model.InstrumentRecord{rec(btc, 0.1), rec(eth, 0.01)}, 2000)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rs.tries != 2 {
		t.Errorf("overwrite attempts = %d, want 2", rs.tries)
	}
	// The retry diffed against the racing writer's table: eth is unchanged, not new.
	if res.Modified != 1 || res.NewListings != 0 || res.Unchanged != 1 {
		t.Errorf("result = %+v, want 1 modified, 1 unchanged", res)
	}
}

func TestStore_SyncHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(lake.NewMemoryStore())

	// Prime the cache with an empty set.
	if _, err := s.Current(ctx); err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	rows := []model.HistoryRow{
		{Key: btc, Attrs: spotAttrs(0.01), ValidFrom: 100},
		{Key: btc, Attrs: spotAttrs(0.1), ValidFrom: 200},
	}
	res, err := s.SyncHistory(ctx, rows)
	if err != nil {
		t.Fatalf("SyncHistory failed: %v", err)
	}
	if res.Versions != 2 {
		t.Errorf("Versions = %d, want 2", res.Versions)
	}

	set, err := s.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if !set.CheckCoverage(btc, 100, 1000) {
		t.Error("rebuilt history does not cover [100, 1000); cache not invalidated?")
	}
}
