package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Lake.Backend {
	case BackendDuckDB:
		if c.Lake.DuckLake.Enabled {
			if c.Lake.DuckLake.CatalogPath == "" {
				return errors.New("lake.ducklake.catalog_path is required")
			}
			if c.Lake.DuckLake.CatalogName == "" {
				return errors.New("lake.ducklake.catalog_name is required")
			}
		}
	case BackendPostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case BackendMemory:
	default:
		return fmt.Errorf("lake.backend must be one of duckdb, postgres, memory, got %q", c.Lake.Backend)
	}

	if c.Ingest.Workers < 1 {
		return errors.New("ingest.workers must be >= 1")
	}
	if c.Ingest.MaxBookLevels < 1 {
		return errors.New("ingest.max_book_levels must be >= 1")
	}

	if c.Ledger.Table == "" {
		return errors.New("ledger.table is required")
	}
	if c.Ledger.StateDir == "" {
		return errors.New("ledger.state_dir is required")
	}
	for _, dir := range c.LedgerTableDirs() {
		if samePath(c.Ledger.StateDir, dir) {
			return fmt.Errorf("ledger.state_dir must not be the ledger table directory %s", dir)
		}
	}

	if c.RefData.Table == "" {
		return errors.New("refdata.table is required")
	}
	if c.RefData.Table == c.Ledger.Table {
		return errors.New("refdata.table and ledger.table must differ")
	}
	if c.RefData.CacheTTL < 0 {
		return errors.New("refdata.cache_ttl must be >= 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.JitterPercent < 0 || c.Retry.JitterPercent > 100 {
		return fmt.Errorf("retry.jitter_percent must be between 0 and 100, got %d", c.Retry.JitterPercent)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay cannot be less than retry.base_delay")
	}

	seen := make(map[int16]string, len(c.Venues))
	for name, id := range c.Venues {
		if name == "" {
			return errors.New("venues: empty exchange name")
		}
		if id < 0 {
			return fmt.Errorf("venues.%s must be >= 0, got %d", name, id)
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("venues.%s and venues.%s share venue id %d", name, other, id)
		}
		seen[id] = name
	}

	if c.ReferenceAPI.URL != "" {
		if c.ReferenceAPI.Venue == "" {
			return errors.New("reference_api.venue is required when reference_api.url is set")
		}
		if _, ok := c.Venues[c.ReferenceAPI.Venue]; !ok {
			return fmt.Errorf("reference_api.venue %q is not in venues", c.ReferenceAPI.Venue)
		}
	}
	if c.ReferenceAPI.RateLimit < 0 {
		return errors.New("reference_api.rate_limit must be >= 0")
	}
	if c.ReferenceAPI.MaxRetries < 0 {
		return fmt.Errorf("reference_api.max_retries must be >= 0, got %d", c.ReferenceAPI.MaxRetries)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// LedgerTableDirs returns the local directories that can hold the ledger
// table's data files for this backend. Empty when tables are not
// directory-backed on the local filesystem.
func (c *Config) LedgerTableDirs() []string {
	if c.Lake.Backend != BackendDuckDB {
		return nil
	}
	if !c.Lake.DuckLake.Enabled {
		if c.Lake.DuckDBPath == "" {
			return nil
		}
		return []string{c.Lake.DuckDBPath}
	}
	dp := c.Lake.DuckLake.DataPath
	if dp == "" || strings.Contains(dp, "://") {
		return nil
	}
	return []string{
		filepath.Join(dp, c.Ledger.Table),
		filepath.Join(dp, "main", c.Ledger.Table),
	}
}

func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
