package refdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
)

// VersionsSchema maps InstrumentVersion onto a lake table.
func VersionsSchema(table string) lake.Schema[model.InstrumentVersion] {
	return lake.Schema[model.InstrumentVersion]{
		TableDef: lake.TableDef{
			Name: table,
			Columns: []lake.Column{
				{Name: "venue_id", Type: lake.TypeInt16},
				{Name: "venue_symbol", Type: lake.TypeString},
				{Name: "instance_id", Type: lake.TypeInt64},
				{Name: "base_asset", Type: lake.TypeString},
				{Name: "quote_asset", Type: lake.TypeString},
				{Name: "instrument_kind", Type: lake.TypeString},
				{Name: "tick_size", Type: lake.TypeFloat64},
				{Name: "lot_size", Type: lake.TypeFloat64},
				{Name: "contract_size", Type: lake.TypeFloat64},
				{Name: "expiry", Type: lake.TypeInt64, Nullable: true},
				{Name: "strike", Type: lake.TypeFloat64, Nullable: true},
				{Name: "option_type", Type: lake.TypeString, Nullable: true},
				{Name: "underlying", Type: lake.TypeString, Nullable: true},
				{Name: "valid_from", Type: lake.TypeInt64},
				{Name: "valid_until", Type: lake.TypeInt64},
				{Name: "is_current", Type: lake.TypeBool},
			},
			PartitionBy: []string{"venue_id"},
		},
		Encode: func(v model.InstrumentVersion) lake.Row {
			return lake.Row{
				v.Key.VenueID,
				v.Key.VenueSymbol,
				v.InstanceID,
				v.Attrs.BaseAsset,
				v.Attrs.QuoteAsset,
				string(v.Attrs.Kind),
				v.Attrs.TickSize,
				v.Attrs.LotSize,
				v.Attrs.ContractSize,
				lake.Nullable(v.Attrs.Expiry),
				lake.Nullable(v.Attrs.Strike),
				emptyAsNull(v.Attrs.OptionType),
				emptyAsNull(v.Attrs.Underlying),
				v.ValidFrom,
				v.ValidUntil,
				v.IsCurrent,
			}
		},
		Decode: func(r lake.Row) (model.InstrumentVersion, error) {
			rr := lake.NewRowReader(r)
			var v model.InstrumentVersion
			v.Key.VenueID = rr.Int16()
			v.Key.VenueSymbol = rr.String()
			v.InstanceID = rr.Int64()
			v.Attrs.BaseAsset = rr.String()
			v.Attrs.QuoteAsset = rr.String()
			v.Attrs.Kind = model.InstrumentKind(rr.String())
			v.Attrs.TickSize = rr.Float64()
			v.Attrs.LotSize = rr.Float64()
			v.Attrs.ContractSize = rr.Float64()
			v.Attrs.Expiry = rr.NullInt64()
			v.Attrs.Strike = rr.NullFloat64()
			v.Attrs.OptionType = nullAsEmpty(rr.NullString())
			v.Attrs.Underlying = nullAsEmpty(rr.NullString())
			v.ValidFrom = rr.Int64()
			v.ValidUntil = rr.Int64()
			v.IsCurrent = rr.Bool()
			return v, rr.Err()
		},
	}
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullAsEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Table    string
	CacheTTL time.Duration
	Retry    lake.RetryConfig
	Now      func() time.Time // Cache clock, defaults to time.Now
}

// Store persists the version set in one lake table.
type Store struct {
	cfg    StoreConfig
	lake   lake.Store
	schema lake.Schema[model.InstrumentVersion]
	cache  *Cache
	logger *slog.Logger
}

// NewStore creates a Store over ls.
func NewStore(cfg StoreConfig, ls lake.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		cfg:    cfg,
		lake:   ls,
		schema: VersionsSchema(cfg.Table),
		logger: logger,
	}
	s.cache = NewCache(cfg.CacheTTL, cfg.Now, func(ctx context.Context) (VersionSet, error) {
		set, _, err := s.Load(ctx)
		return set, err
	})
	return s
}

// Load reads the table, bypassing the cache, and returns the table version read.
func (s *Store) Load(ctx context.Context) (VersionSet, int64, error) {
	versions, tableVersion, err := lake.ReadAll(ctx, s.lake, s.schema)
	if err != nil {
		return VersionSet{}, 0, errs.Wrap(errs.Infra, "refdata.load", err)
	}
	set, err := NewVersionSet(versions)
	if err != nil {
		return VersionSet{}, 0, err
	}
	return set, tableVersion, nil
}

// Current returns the version set through the read cache.
func (s *Store) Current(ctx context.Context) (VersionSet, error) {
	return s.cache.Get(ctx)
}

// Invalidate drops the cached version set.
func (s *Store) Invalidate() {
	s.cache.Invalidate()
}

// SyncResult summarizes one sync.
type SyncResult struct {
	NewListings int
	Modified    int
	Delisted    int
	Unchanged   int
	Versions    int  // Versions in the table after the sync
	Written     bool // False when the snapshot changed nothing
}

// Sync diffs snapshot against the current open versions and applies the
// diff at effectiveTs. The whole cycle reruns on a concurrent write.
func (s *Store) Sync(ctx context.Context, snapshot []model.InstrumentRecord, effectiveTs int64) (SyncResult, error) {
	const op = "refdata.sync"
	var res SyncResult

	err := lake.RetryConflicts(ctx, s.cfg.Retry, s.logger, op, func(ctx context.Context) error {
		set, tableVersion, err := s.Load(ctx)
		if err != nil {
			return err
		}

		var prev []model.InstrumentRecord
		if set.Len() > 0 {
			prev = set.CurrentRecords()
		}
		diff, err := ComputeDiff(prev, snapshot, effectiveTs)
		if err != nil {
			return err
		}

		res = SyncResult{
			NewListings: len(diff.NewListings),
			Modified:    len(diff.Modified),
			Delisted:    len(diff.Delisted),
			Unchanged:   diff.Unchanged,
			Versions:    set.Len(),
		}
		if diff.Empty() {
			return nil
		}

		next, err := set.Apply(diff)
		if err != nil {
			return err
		}
		if err := lake.OverwriteTable(ctx, s.lake, s.schema, tableVersion, next.Versions()); err != nil {
			return err
		}
		res.Versions = next.Len()
		res.Written = true
		return nil
	})
	if err != nil {
		return SyncResult{}, classify(op, err)
	}

	s.cache.Invalidate()
	s.logger.Info("reference data synced",
		"effective_ts", effectiveTs,
		"new", res.NewListings,
		"modified", res.Modified,
		"delisted", res.Delisted,
		"unchanged", res.Unchanged,
		"versions", res.Versions,
		"written", res.Written,
	)
	return res, nil
}

// SyncHistory replaces the table with versions rebuilt from history rows.
func (s *Store) SyncHistory(ctx context.Context, rows []model.HistoryRow) (SyncResult, error) {
	const op = "refdata.sync_history"

	next, err := RebuildFromHistory(rows)
	if err != nil {
		return SyncResult{}, err
	}

	err = lake.RetryConflicts(ctx, s.cfg.Retry, s.logger, op, func(ctx context.Context) error {
		tableVersion, err := s.lake.Version(ctx, s.schema.TableDef)
		if err != nil {
			return err
		}
		return lake.OverwriteTable(ctx, s.lake, s.schema, tableVersion, next.Versions())
	})
	if err != nil {
		return SyncResult{}, classify(op, err)
	}

	s.cache.Invalidate()
	res := SyncResult{NewListings: len(next.Keys()), Versions: next.Len(), Written: true}
	s.logger.Info("reference data rebuilt from history", "keys", res.NewListings, "versions", res.Versions)
	return res, nil
}

// classify marks unclassified storage errors as infrastructure failures.
func classify(op string, err error) error {
	if errs.KindOf(err) != errs.Unknown {
		return err
	}
	return errs.Wrap(errs.Infra, op, err)
}
