package model

import "time"

// -----------------------------------------------------------------------------
// Ingestion Ledger Types
// -----------------------------------------------------------------------------

// FileStatus is the lifecycle state of a bronze file in the ledger.
type FileStatus string

const (
	StatusPending     FileStatus = "pending"
	StatusSuccess     FileStatus = "success"
	StatusFailed      FileStatus = "failed"
	StatusQuarantined FileStatus = "quarantined"
)

// Terminal reports whether s ends an ingestion attempt.
func (s FileStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusQuarantined
}

// QuarantineReason is the machine-matchable cause of a quarantine.
type QuarantineReason string

const (
	ReasonNone                  QuarantineReason = ""
	ReasonMissingSymbol         QuarantineReason = "missing_symbol"
	ReasonInvalidValidityWindow QuarantineReason = "invalid_validity_window"
)

// BronzeFileMetadata describes a discovered source file.
type BronzeFileMetadata struct {
	Vendor       string
	DataType     string
	RelativePath string // Slash-separated, relative to the bronze root
	Size         int64
	Mtime        int64  // Modification time (µs since epoch)
	ContentHash  string // Hex SHA-256 of raw bytes, empty until computed
	Date         time.Time
	Exchange     string
	Symbol       string
}

// FileKey is the strict identity of a bronze file.
type FileKey struct {
	Vendor       string
	DataType     string
	RelativePath string
	ContentHash  string
}

// FallbackKey identifies a file before its content hash is known.
type FallbackKey struct {
	Vendor       string
	DataType     string
	RelativePath string
	Size         int64
	Mtime        int64
}

// Key returns the strict identity.
func (m BronzeFileMetadata) Key() FileKey {
	return FileKey{
		Vendor:       m.Vendor,
		DataType:     m.DataType,
		RelativePath: m.RelativePath,
		ContentHash:  m.ContentHash,
	}
}

// FallbackKey returns the (size, mtime) identity.
func (m BronzeFileMetadata) FallbackKey() FallbackKey {
	return FallbackKey{
		Vendor:       m.Vendor,
		DataType:     m.DataType,
		RelativePath: m.RelativePath,
		Size:         m.Size,
		Mtime:        m.Mtime,
	}
}

// DateRange returns the file's date partition as [start, end) in µs.
func (m BronzeFileMetadata) DateRange() (int64, int64) {
	start := time.Date(m.Date.Year(), m.Date.Month(), m.Date.Day(), 0, 0, 0, 0, time.UTC)
	return start.UnixMicro(), start.AddDate(0, 0, 1).UnixMicro()
}

// IngestionRecord is one bronze file's ledger row.
type IngestionRecord struct {
	FileID       int32  `json:"file_id"`
	Vendor       string `json:"vendor"`
	DataType     string `json:"data_type"`
	RelativePath string `json:"relative_path"`
	ContentHash  string `json:"content_hash"`
	Size         int64  `json:"size"`
	Mtime        int64  `json:"mtime"`
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Date         string `json:"date"` // YYYY-MM-DD

	Status            FileStatus       `json:"status"`
	QuarantineReason  QuarantineReason `json:"quarantine_reason,omitempty"`
	ErrorMessage      *string          `json:"error_message,omitempty"`
	RowCount          int64            `json:"row_count"`
	DroppedUnresolved int64            `json:"dropped_unresolved"`
	DroppedInvalid    int64            `json:"dropped_invalid"`
	TsMin             int64            `json:"ts_min"`
	TsMax             int64            `json:"ts_max"`
	Attempts          int32            `json:"attempts"`
	RunID             string           `json:"run_id,omitempty"`

	CreatedAt   int64 `json:"created_at"`             // µs since epoch
	ProcessedAt int64 `json:"processed_at,omitempty"` // µs since epoch, 0 while pending
}

// Key returns the strict identity of the record.
func (r IngestionRecord) Key() FileKey {
	return FileKey{
		Vendor:       r.Vendor,
		DataType:     r.DataType,
		RelativePath: r.RelativePath,
		ContentHash:  r.ContentHash,
	}
}

// FallbackKey returns the (size, mtime) identity of the record.
func (r IngestionRecord) FallbackKey() FallbackKey {
	return FallbackKey{
		Vendor:       r.Vendor,
		DataType:     r.DataType,
		RelativePath: r.RelativePath,
		Size:         r.Size,
		Mtime:        r.Mtime,
	}
}

// IngestResult is the outcome detail of one ingestion attempt.
type IngestResult struct {
	RowCount          int64
	DroppedUnresolved int64
	DroppedInvalid    int64
	TsMin             int64
	TsMax             int64
	QuarantineReason  QuarantineReason
	ErrorMessage      string
	RunID             string
}
