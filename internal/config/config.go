package config

import "time"

// Config is the root configuration for the lake ingestion tools.
type Config struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Lake         LakeConfig         `yaml:"lake"`
	Database     DatabaseConfig     `yaml:"database"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	RefData      RefDataConfig      `yaml:"refdata"`
	Retry        RetryConfig        `yaml:"retry"`
	Venues       map[string]int16   `yaml:"venues"` // Exchange name -> venue id
	ReferenceAPI ReferenceAPIConfig `yaml:"reference_api"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// InstanceConfig identifies this process in logs and ledger run records.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// Lake backends.
const (
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// LakeConfig selects and configures the table storage backend.
type LakeConfig struct {
	Backend    string         `yaml:"backend"`
	DuckDBPath string         `yaml:"duckdb_path"`
	DuckLake   DuckLakeConfig `yaml:"ducklake"`
	Schema     string         `yaml:"schema"` // Postgres schema for lake tables
}

// DuckLakeConfig attaches a DuckLake catalog to the DuckDB backend.
type DuckLakeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CatalogPath    string `yaml:"catalog_path"`
	CatalogName    string `yaml:"catalog_name"`
	DataPath       string `yaml:"data_path"`
	MetadataSchema string `yaml:"metadata_schema"`
}

// DatabaseConfig holds the PostgreSQL connection used by the postgres backend.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// IngestConfig holds orchestrator settings.
type IngestConfig struct {
	BronzeRoot    string   `yaml:"bronze_root"`
	Workers       int      `yaml:"workers"`
	MaxBookLevels int      `yaml:"max_book_levels"`
	Vendors       []string `yaml:"vendors"` // Empty means all vendors
}

// LedgerConfig holds ingestion ledger settings.
type LedgerConfig struct {
	Table    string `yaml:"table"`
	StateDir string `yaml:"state_dir"` // Counter and lock file location
}

// RefDataConfig holds symbol version store settings.
type RefDataConfig struct {
	Table    string        `yaml:"table"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RetryConfig bounds optimistic-concurrency retries on whole-table rewrites.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterPercent int           `yaml:"jitter_percent"`
}

// ReferenceAPIConfig holds the vendor instrument listing endpoint.
type ReferenceAPIConfig struct {
	URL          string        `yaml:"url"`
	Venue        string        `yaml:"venue"` // Key into Venues
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimit    float64       `yaml:"rate_limit"` // Requests per second
	Burst        int           `yaml:"burst"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// KafkaConfig holds the ledger transition publisher. Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds slog handler settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
