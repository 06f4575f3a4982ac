package ledger

import (
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/model"
)

// RecordsSchema maps IngestionRecord onto a lake table.
func RecordsSchema(table string) lake.Schema[model.IngestionRecord] {
	return lake.Schema[model.IngestionRecord]{
		TableDef: lake.TableDef{
			Name: table,
			Columns: []lake.Column{
				{Name: "file_id", Type: lake.TypeInt32},
				{Name: "vendor", Type: lake.TypeString},
				{Name: "data_type", Type: lake.TypeString},
				{Name: "relative_path", Type: lake.TypeString},
				{Name: "content_hash", Type: lake.TypeString},
				{Name: "size", Type: lake.TypeInt64},
				{Name: "mtime", Type: lake.TypeInt64},
				{Name: "exchange", Type: lake.TypeString},
				{Name: "symbol", Type: lake.TypeString},
				{Name: "date", Type: lake.TypeString},
				{Name: "status", Type: lake.TypeString},
				{Name: "quarantine_reason", Type: lake.TypeString, Nullable: true},
				{Name: "error_message", Type: lake.TypeString, Nullable: true},
				{Name: "row_count", Type: lake.TypeInt64},
				{Name: "rows_dropped_unresolved", Type: lake.TypeInt64},
				{Name: "rows_dropped_invalid", Type: lake.TypeInt64},
				{Name: "ts_min", Type: lake.TypeInt64},
				{Name: "ts_max", Type: lake.TypeInt64},
				{Name: "attempts", Type: lake.TypeInt32},
				{Name: "run_id", Type: lake.TypeString, Nullable: true},
				{Name: "created_at", Type: lake.TypeInt64},
				{Name: "processed_at", Type: lake.TypeInt64, Nullable: true},
			},
			PartitionBy: []string{"vendor", "data_type"},
		},
		Encode: func(r model.IngestionRecord) lake.Row {
			var reason, runID, processedAt any
			if r.QuarantineReason != model.ReasonNone {
				reason = string(r.QuarantineReason)
			}
			if r.RunID != "" {
				runID = r.RunID
			}
			if r.ProcessedAt != 0 {
				processedAt = r.ProcessedAt
			}
			return lake.Row{
				r.FileID,
				r.Vendor,
				r.DataType,
				r.RelativePath,
				r.ContentHash,
				r.Size,
				r.Mtime,
				r.Exchange,
				r.Symbol,
				r.Date,
				string(r.Status),
				reason,
				lake.Nullable(r.ErrorMessage),
				r.RowCount,
				r.DroppedUnresolved,
				r.DroppedInvalid,
				r.TsMin,
				r.TsMax,
				r.Attempts,
				runID,
				r.CreatedAt,
				processedAt,
			}
		},
		Decode: func(row lake.Row) (model.IngestionRecord, error) {
			rr := lake.NewRowReader(row)
			var r model.IngestionRecord
			r.FileID = rr.Int32()
			r.Vendor = rr.String()
			r.DataType = rr.String()
			r.RelativePath = rr.String()
			r.ContentHash = rr.String()
			r.Size = rr.Int64()
			r.Mtime = rr.Int64()
			r.Exchange = rr.String()
			r.Symbol = rr.String()
			r.Date = rr.String()
			r.Status = model.FileStatus(rr.String())
			if reason := rr.NullString(); reason != nil {
				r.QuarantineReason = model.QuarantineReason(*reason)
			}
			r.ErrorMessage = rr.NullString()
			r.RowCount = rr.Int64()
			r.DroppedUnresolved = rr.Int64()
			r.DroppedInvalid = rr.Int64()
			r.TsMin = rr.Int64()
			r.TsMax = rr.Int64()
			r.Attempts = rr.Int32()
			if runID := rr.NullString(); runID != nil {
				r.RunID = *runID
			}
			r.CreatedAt = rr.Int64()
			if p := rr.NullInt64(); p != nil {
				r.ProcessedAt = *p
			}
			return r, rr.Err()
		},
	}
}
