package config

import (
	"path/filepath"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID      = "lakeingest"
	DefaultBackend         = BackendDuckDB
	DefaultDuckDBPath      = "lake.duckdb"
	DefaultDuckLakeCatalog = "lake"
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultWorkers         = 4
	DefaultMaxBookLevels   = 25
	DefaultLedgerTable     = "ingestion_ledger"
	DefaultStateDir        = "state"
	DefaultRefDataTable    = "instrument_versions"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxAttempts     = 8
	DefaultBaseDelay       = 50 * time.Millisecond
	DefaultMaxDelay        = 2 * time.Second
	DefaultJitterPercent   = 20
	DefaultAPITimeout      = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultRateLimit       = 5.0
	DefaultBurst           = 5
	DefaultSyncInterval    = time.Hour
	DefaultKafkaTopic      = "lake.ledger.transitions"
	DefaultKafkaTimeout    = 10 * time.Second
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Lake defaults
	if c.Lake.Backend == "" {
		c.Lake.Backend = DefaultBackend
	}
	if c.Lake.Backend == BackendDuckDB && c.Lake.DuckDBPath == "" {
		c.Lake.DuckDBPath = DefaultDuckDBPath
	}
	if c.Lake.DuckLake.Enabled && c.Lake.DuckLake.CatalogName == "" {
		c.Lake.DuckLake.CatalogName = DefaultDuckLakeCatalog
	}

	applyDBDefaults(&c.Database.Postgres)

	// Ingest defaults
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = DefaultWorkers
	}
	if c.Ingest.MaxBookLevels == 0 {
		c.Ingest.MaxBookLevels = DefaultMaxBookLevels
	}

	// Ledger defaults
	if c.Ledger.Table == "" {
		c.Ledger.Table = DefaultLedgerTable
	}
	if c.Ledger.StateDir == "" {
		c.Ledger.StateDir = DefaultStateDir
		if c.Lake.Backend == BackendDuckDB && c.Lake.DuckDBPath != "" {
			c.Ledger.StateDir = filepath.Join(filepath.Dir(c.Lake.DuckDBPath), DefaultStateDir)
		}
	}

	// Reference data defaults
	if c.RefData.Table == "" {
		c.RefData.Table = DefaultRefDataTable
	}
	if c.RefData.CacheTTL == 0 {
		c.RefData.CacheTTL = DefaultCacheTTL
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Retry.JitterPercent == 0 {
		c.Retry.JitterPercent = DefaultJitterPercent
	}

	// Reference API defaults
	if c.ReferenceAPI.Timeout == 0 {
		c.ReferenceAPI.Timeout = DefaultAPITimeout
	}
	if c.ReferenceAPI.MaxRetries == 0 {
		c.ReferenceAPI.MaxRetries = DefaultMaxRetries
	}
	if c.ReferenceAPI.RateLimit == 0 {
		c.ReferenceAPI.RateLimit = DefaultRateLimit
	}
	if c.ReferenceAPI.Burst == 0 {
		c.ReferenceAPI.Burst = DefaultBurst
	}
	if c.ReferenceAPI.SyncInterval == 0 {
		c.ReferenceAPI.SyncInterval = DefaultSyncInterval
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = DefaultKafkaTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
