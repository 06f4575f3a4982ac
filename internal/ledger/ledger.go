package ledger

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
)

// Config configures a Ledger.
type Config struct {
	Table    string
	StateDir string
	Retry    lake.RetryConfig
	Now      func() time.Time // Defaults to time.Now
}

// Ledger records every bronze file ever seen and its ingestion state.
// Safe for concurrent use; writers in other processes are serialized by the
// lake's table version.
type Ledger struct {
	cfg     Config
	lake    lake.Store
	schema  lake.Schema[model.IngestionRecord]
	counter *Counter
	logger  *slog.Logger
}

// New opens the ledger in ls and its id counter in cfg.StateDir.
func New(cfg Config, ls lake.Store, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	counter, err := NewCounter(cfg.StateDir, cfg.Table)
	if err != nil {
		return nil, errs.Wrap(errs.Infra, "ledger.open", err)
	}
	return &Ledger{
		cfg:     cfg,
		lake:    ls,
		schema:  RecordsSchema(cfg.Table),
		counter: counter,
		logger:  logger,
	}, nil
}

// read returns every record and the table version read.
func (l *Ledger) read(ctx context.Context) ([]model.IngestionRecord, int64, error) {
	recs, version, err := lake.ReadAll(ctx, l.lake, l.schema)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Infra, "ledger.read", err)
	}
	return recs, version, nil
}

func maxFileID(recs []model.IngestionRecord) int32 {
	var m int32
	for _, r := range recs {
		m = max(m, r.FileID)
	}
	return m
}

// ResolveFileID returns the file id for meta's strict identity, minting one
// and persisting a pending record first if the file is new.
func (l *Ledger) ResolveFileID(ctx context.Context, meta model.BronzeFileMetadata) (int32, error) {
	const op = "ledger.resolve_file_id"
	if meta.ContentHash == "" {
		return 0, errs.E(errs.UserInput, op, "%s has no content hash", meta.RelativePath)
	}
	key := meta.Key()

	var fileID int32
	var minted int32 // Kept across retries so a conflict does not burn ids
	err := lake.RetryConflicts(ctx, l.cfg.Retry, l.logger, op, func(ctx context.Context) error {
		recs, version, err := l.read(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.Key() == key {
				fileID = r.FileID
				return nil
			}
		}

		if minted == 0 {
			minted, err = l.counter.Next(ctx, maxFileID(recs))
			if err != nil {
				return errs.Wrap(errs.Infra, op, err)
			}
		}

		rec := newPendingRecord(minted, meta, l.cfg.Now())
		if err := lake.OverwriteTable(ctx, l.lake, l.schema, version, append(recs, rec)); err != nil {
			return err
		}
		fileID = minted
		l.logger.Debug("minted file id", "file_id", minted, "path", meta.RelativePath)
		return nil
	})
	if err != nil {
		return 0, classify(op, err)
	}
	if minted != 0 && fileID != minted {
		l.logger.Info("file id lost race, using existing id",
			"path", meta.RelativePath,
			"file_id", fileID,
			"discarded", minted,
		)
	}
	return fileID, nil
}

func newPendingRecord(id int32, meta model.BronzeFileMetadata, now time.Time) model.IngestionRecord {
	return model.IngestionRecord{
		FileID:       id,
		Vendor:       meta.Vendor,
		DataType:     meta.DataType,
		RelativePath: meta.RelativePath,
		ContentHash:  meta.ContentHash,
		Size:         meta.Size,
		Mtime:        meta.Mtime,
		Exchange:     meta.Exchange,
		Symbol:       meta.Symbol,
		Date:         formatDate(meta.Date),
		Status:       model.StatusPending,
		CreatedAt:    now.UnixMicro(),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// FilterPending returns the candidates that have not been ingested
// successfully. Candidates without a content hash match on the fallback
// identity (size, mtime).
func (l *Ledger) FilterPending(ctx context.Context, candidates []model.BronzeFileMetadata) ([]model.BronzeFileMetadata, error) {
	recs, _, err := l.read(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[model.FileKey]struct{})
	doneFallback := make(map[model.FallbackKey]struct{})
	for _, r := range recs {
		if r.Status != model.StatusSuccess {
			continue
		}
		done[r.Key()] = struct{}{}
		doneFallback[r.FallbackKey()] = struct{}{}
	}

	pending := make([]model.BronzeFileMetadata, 0, len(candidates))
	for _, c := range candidates {
		if c.ContentHash != "" {
			if _, ok := done[c.Key()]; ok {
				continue
			}
		} else if _, ok := doneFallback[c.FallbackKey()]; ok {
			continue
		}
		pending = append(pending, c)
	}
	return pending, nil
}

// UpdateStatus records a terminal transition for fileID. The record is
// created from meta if it is missing. created_at is preserved and attempts
// is incremented.
func (l *Ledger) UpdateStatus(ctx context.Context, fileID int32, status model.FileStatus, meta model.BronzeFileMetadata, res model.IngestResult) (model.IngestionRecord, error) {
	const op = "ledger.update_status"
	if !status.Terminal() {
		return model.IngestionRecord{}, errs.E(errs.UserInput, op, "status %q is not terminal", status)
	}
	if status == model.StatusQuarantined && res.QuarantineReason == model.ReasonNone {
		return model.IngestionRecord{}, errs.E(errs.UserInput, op, "quarantine of file %d has no reason", fileID)
	}

	var updated model.IngestionRecord
	err := lake.RetryConflicts(ctx, l.cfg.Retry, l.logger, op, func(ctx context.Context) error {
		recs, version, err := l.read(ctx)
		if err != nil {
			return err
		}

		now := l.cfg.Now()
		idx := -1
		for i, r := range recs {
			if r.FileID == fileID {
				idx = i
				break
			}
		}
		if idx < 0 {
			recs = append(recs, newPendingRecord(fileID, meta, now))
			idx = len(recs) - 1
		}

		r := recs[idx]
		if r.Status == model.StatusSuccess && status != model.StatusSuccess {
			return errs.E(errs.UserInput, op, "file %d already succeeded, refusing %s", fileID, status)
		}
		r.Status = status
		r.QuarantineReason = res.QuarantineReason
		r.ErrorMessage = nil
		if res.ErrorMessage != "" {
			msg := res.ErrorMessage
			r.ErrorMessage = &msg
		}
		r.RowCount = res.RowCount
		r.DroppedUnresolved = res.DroppedUnresolved
		r.DroppedInvalid = res.DroppedInvalid
		r.TsMin = res.TsMin
		r.TsMax = res.TsMax
		r.RunID = res.RunID
		r.Attempts++
		r.ProcessedAt = now.UnixMicro()
		recs[idx] = r

		if err := lake.OverwriteTable(ctx, l.lake, l.schema, version, recs); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return model.IngestionRecord{}, classify(op, err)
	}
	return updated, nil
}

// Filter selects records for List. Zero fields match everything.
type Filter struct {
	Status   model.FileStatus
	Vendor   string
	DataType string
}

func (f Filter) match(r model.IngestionRecord) bool {
	return (f.Status == "" || r.Status == f.Status) &&
		(f.Vendor == "" || r.Vendor == f.Vendor) &&
		(f.DataType == "" || r.DataType == f.DataType)
}

// List returns the records matching f ordered by file id.
func (l *Ledger) List(ctx context.Context, f Filter) ([]model.IngestionRecord, error) {
	if f.Status != "" && f.Status != model.StatusPending && !f.Status.Terminal() {
		return nil, errs.E(errs.UserInput, "ledger.list", "unknown status %q", f.Status)
	}

	recs, _, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

// Get returns the record for fileID.
func (l *Ledger) Get(ctx context.Context, fileID int32) (model.IngestionRecord, bool, error) {
	recs, _, err := l.read(ctx)
	if err != nil {
		return model.IngestionRecord{}, false, err
	}
	for _, r := range recs {
		if r.FileID == fileID {
			return r, true, nil
		}
	}
	return model.IngestionRecord{}, false, nil
}

func classify(op string, err error) error {
	if errs.KindOf(err) != errs.Unknown {
		return err
	}
	return errs.Wrap(errs.Infra, op, err)
}
