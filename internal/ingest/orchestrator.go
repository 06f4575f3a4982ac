package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketlake/internal/discovery"
	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/ledger"
	"github.com/rickgao/marketlake/internal/metrics"
	"github.com/rickgao/marketlake/internal/model"
	"github.com/rickgao/marketlake/internal/notify"
	"github.com/rickgao/marketlake/internal/parse"
	"github.com/rickgao/marketlake/internal/refdata"
	"github.com/rickgao/marketlake/internal/validate"
)

// Config configures an Orchestrator.
type Config struct {
	BronzeRoot    string
	Workers       int
	MaxBookLevels int
	Vendors       []string         // Empty means every vendor
	Venues        map[string]int16 // Exchange name to venue id
	Now           func() time.Time // Defaults to time.Now
}

// Orchestrator runs ingestion over a bronze root.
type Orchestrator struct {
	cfg     Config
	lake    lake.Store
	ledger  *ledger.Ledger
	refs    *refdata.Store
	pub     notify.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Orchestrator. pub and m may be nil.
func New(
	cfg Config,
	ls lake.Store,
	led *ledger.Ledger,
	refs *refdata.Store,
	pub notify.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:     cfg,
		lake:    ls,
		ledger:  led,
		refs:    refs,
		pub:     pub,
		metrics: m,
		logger:  logger,
	}
}

// Summary reports one run.
type Summary struct {
	RunID         string
	Discovered    int
	Skipped       int // Already ingested successfully
	Success       int
	Failed        int
	Quarantined   int
	Pending       int // Left pending by a fatal error
	RowsCommitted int64
	RowsDropped   int64
}

func (s *Summary) add(o Outcome) {
	switch o.Status {
	case model.StatusSuccess:
		s.Success++
	case model.StatusFailed:
		s.Failed++
	case model.StatusQuarantined:
		s.Quarantined++
	}
	s.RowsCommitted += o.Rows
	s.RowsDropped += o.DroppedUnresolved + o.DroppedInvalid
}

// Outcome is the terminal result of one file.
type Outcome struct {
	FileID            int32
	Status            model.FileStatus
	Reason            model.QuarantineReason
	Message           string
	Rows              int64
	DroppedUnresolved int64
	DroppedInvalid    int64
}

// Pending discovers bronze files and returns those not yet ingested
// successfully, with content hashes filled in.
func (o *Orchestrator) Pending(ctx context.Context) (discovered int, pending []model.BronzeFileMetadata, err error) {
	files, err := discovery.Discover(ctx, o.cfg.BronzeRoot, discovery.Options{
		Vendors: o.cfg.Vendors,
		Hash:    true,
	}, o.logger)
	if err != nil {
		return 0, nil, errs.Wrap(errs.Infra, "ingest.discover", err)
	}
	pending, err = o.ledger.FilterPending(ctx, files)
	if err != nil {
		return 0, nil, err
	}
	return len(files), pending, nil
}

// Run ingests every pending file under the bronze root. A fatal error
// stops scheduling new files and is returned with the partial summary;
// files not reached stay pending.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	logger := o.logger.With("run_id", sum.RunID)

	discovered, pending, err := o.Pending(ctx)
	if err != nil {
		return sum, err
	}
	sum.Discovered = discovered
	sum.Skipped = discovered - len(pending)
	logger.Info("starting ingestion run",
		"root", o.cfg.BronzeRoot,
		"discovered", discovered,
		"pending", len(pending),
		"workers", o.cfg.Workers,
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, meta := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.metrics.WorkerStarted()
			defer o.metrics.WorkerDone()

			out, err := o.ProcessFile(gctx, sum.RunID, meta)
			if err != nil {
				logger.Error("fatal error ingesting file", "path", meta.RelativePath, "err", err)
				return err
			}
			mu.Lock()
			sum.add(out)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	sum.Pending = len(pending) - sum.Success - sum.Failed - sum.Quarantined
	logger.Info("ingestion run finished",
		"success", sum.Success,
		"failed", sum.Failed,
		"quarantined", sum.Quarantined,
		"skipped", sum.Skipped,
		"pending", sum.Pending,
		"rows_committed", sum.RowsCommitted,
		"rows_dropped", sum.RowsDropped,
	)
	return sum, err
}

// ProcessFile takes one file to a terminal state. The returned error is
// fatal (storage unavailable, conflict retries exhausted); the file then
// stays pending. Per-file problems are reported in the Outcome.
func (o *Orchestrator) ProcessFile(ctx context.Context, runID string, meta model.BronzeFileMetadata) (Outcome, error) {
	start := o.cfg.Now()
	logger := o.logger.With("run_id", runID, "path", meta.RelativePath)

	if err := discovery.EnsureHash(o.cfg.BronzeRoot, &meta); err != nil {
		return Outcome{}, errs.Wrap(errs.Infra, "ingest.hash", err)
	}
	fileID, err := o.ledger.ResolveFileID(ctx, meta)
	if err != nil {
		return Outcome{}, err
	}
	logger = logger.With("file_id", fileID)

	out, err := o.ingest(ctx, fileID, meta)
	if err != nil {
		return Outcome{}, err
	}

	rec, err := o.ledger.UpdateStatus(ctx, fileID, out.Status, meta, model.IngestResult{
		RowCount:          out.Rows,
		DroppedUnresolved: out.DroppedUnresolved,
		DroppedInvalid:    out.DroppedInvalid,
		TsMin:             out.tsMin,
		TsMax:             out.tsMax,
		QuarantineReason:  out.Reason,
		ErrorMessage:      out.Message,
		RunID:             runID,
	})
	if err != nil {
		return Outcome{}, err
	}

	if err := o.pub.Publish(ctx, notify.FromRecord(rec)); err != nil {
		logger.Warn("transition not published", "err", err)
	}
	o.metrics.RecordFile(meta.DataType, string(out.Status), o.cfg.Now().Sub(start))

	switch out.Status {
	case model.StatusSuccess:
		logger.Info("file ingested", "rows", out.Rows, "dropped", out.DroppedUnresolved+out.DroppedInvalid)
	case model.StatusQuarantined:
		logger.Warn("file quarantined", "reason", out.Reason, "msg", out.Message)
	default:
		logger.Warn("file failed", "msg", out.Message)
	}
	return out.Outcome, nil
}

// result is an Outcome plus the committed timestamp range.
type result struct {
	Outcome
	tsMin int64
	tsMax int64
}

func failed(fileID int32, msg string) result {
	return result{Outcome: Outcome{FileID: fileID, Status: model.StatusFailed, Message: msg}}
}

// ingest runs parse, coverage, resolution, validation and commit for one
// file. Only fatal errors are returned.
func (o *Orchestrator) ingest(ctx context.Context, fileID int32, meta model.BronzeFileMetadata) (result, error) {
	table, ok := SilverTable(meta.DataType)
	if !ok {
		return failed(fileID, fmt.Sprintf("unsupported data type %q", meta.DataType)), nil
	}

	path := filepath.Join(o.cfg.BronzeRoot, filepath.FromSlash(meta.RelativePath))
	batch, err := parse.File(path, meta.DataType, parse.Options{MaxBookLevels: o.cfg.MaxBookLevels})
	if err != nil {
		return failed(fileID, err.Error()), nil
	}

	venue, ok := o.cfg.Venues[meta.Exchange]
	if !ok {
		return result{Outcome: Outcome{
			FileID:  fileID,
			Status:  model.StatusQuarantined,
			Reason:  model.ReasonMissingSymbol,
			Message: fmt.Sprintf("exchange %q has no venue id", meta.Exchange),
		}}, nil
	}
	key := model.NaturalKey{VenueID: venue, VenueSymbol: meta.Symbol}

	dayStart, dayEnd := meta.DateRange()
	start, end := dayStart, dayEnd
	if lo, hi, ok := batch.TsRange(); ok {
		start, end = lo, hi+1
	}

	set, err := o.refs.Current(ctx)
	if err != nil {
		return result{}, err
	}
	if cov := set.Classify(key, start, end); cov != refdata.Covered {
		return result{Outcome: Outcome{
			FileID:  fileID,
			Status:  model.StatusQuarantined,
			Reason:  cov.QuarantineReason(),
			Message: coverageMessage(cov, key, start, end),
		}}, nil
	}

	in := buildInput{
		set:    set,
		key:    key,
		window: validate.Window{Start: dayStart, End: dayEnd},
		header: model.SilverHeader{
			Exchange: meta.Exchange,
			Date:     meta.Date.Format(time.DateOnly),
			FileID:   fileID,
		},
	}
	var st staged
	switch meta.DataType {
	case model.DataTypeTrades:
		st = stage(o.lake, TradesSchema, in, batch.Trades, encodeTrade)
	case model.DataTypeQuotes:
		st = stage(o.lake, QuotesSchema, in, batch.Quotes, encodeQuote)
	case model.DataTypeBookSnapshot:
		st = stage(o.lake, BookSnapshotsSchema, in, batch.Books, encodeBook)
	case model.DataTypeDerivativeTicker:
		st = stage(o.lake, DerivativeTickersSchema, in, batch.Tickers, encodeTicker)
	}

	o.metrics.RecordRowsDropped("unresolved", st.unresolved)
	for reason, n := range st.report.Dropped {
		o.metrics.RecordRowsDropped(string(reason), n)
	}

	res := result{
		Outcome: Outcome{
			FileID:            fileID,
			DroppedUnresolved: int64(st.unresolved),
			DroppedInvalid:    int64(st.report.DroppedTotal()),
		},
		tsMin: st.tsMin,
		tsMax: st.tsMax,
	}
	if batch.Len() > 0 && st.rows == 0 {
		res.Status = model.StatusFailed
		res.Message = "all rows filtered by validation"
		return res, nil
	}

	// Commit, then mark.
	if err := st.commit(ctx, partitionOf(in.header)); err != nil {
		return result{}, errs.Wrap(errs.Infra, "ingest.commit", fmt.Errorf("%s: %w", table, err))
	}
	o.metrics.RecordRowsCommitted(table, st.rows)

	res.Status = model.StatusSuccess
	res.Rows = int64(st.rows)
	return res, nil
}

func coverageMessage(cov refdata.Coverage, key model.NaturalKey, start, end int64) string {
	if cov == refdata.MissingSymbol {
		return fmt.Sprintf("no reference data for %s", key)
	}
	return fmt.Sprintf("reference data for %s does not cover [%d, %d)", key, start, end)
}
