package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/marketlake/internal/api"
	"github.com/rickgao/marketlake/internal/config"
	"github.com/rickgao/marketlake/internal/database"
	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/ingest"
	"github.com/rickgao/marketlake/internal/lake"
	"github.com/rickgao/marketlake/internal/ledger"
	"github.com/rickgao/marketlake/internal/metrics"
	"github.com/rickgao/marketlake/internal/notify"
	"github.com/rickgao/marketlake/internal/refdata"
	"github.com/rickgao/marketlake/internal/refsource"
	"github.com/rickgao/marketlake/internal/version"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	lake    lake.Store
	metrics *metrics.Metrics
}

// setup loads env files and config, builds the logger and opens the lake.
func setup(ctx context.Context, configPath, envFile string, logOut io.Writer) (*app, error) {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return nil, errs.Wrap(errs.UserInput, "setup", err)
	}
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return nil, errs.Wrap(errs.UserInput, "setup", err)
	}

	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	logger.Info("starting lakeingest",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
		"backend", cfg.Lake.Backend,
	)

	ls, err := database.OpenLake(ctx, cfg, logger)
	if err != nil {
		return nil, errs.Wrap(errs.Infra, "setup", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		lake:    ls,
		metrics: metrics.New(),
	}, nil
}

func (a *app) close() {
	if err := a.lake.Close(); err != nil {
		a.logger.Warn("failed to close lake", "err", err)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) retry() lake.RetryConfig {
	return lake.RetryConfig{
		MaxAttempts:   uint64(a.cfg.Retry.MaxAttempts),
		BaseDelay:     a.cfg.Retry.BaseDelay,
		MaxDelay:      a.cfg.Retry.MaxDelay,
		JitterPercent: uint64(a.cfg.Retry.JitterPercent),
		OnConflict:    a.metrics.RecordConflict,
	}
}

func (a *app) ledger() (*ledger.Ledger, error) {
	return ledger.New(ledger.Config{
		Table:    a.cfg.Ledger.Table,
		StateDir: a.cfg.Ledger.StateDir,
		Retry:    a.retry(),
	}, a.lake, a.logger)
}

func (a *app) refStore() *refdata.Store {
	return refdata.NewStore(refdata.StoreConfig{
		Table:    a.cfg.RefData.Table,
		CacheTTL: a.cfg.RefData.CacheTTL,
		Retry:    a.retry(),
	}, a.lake, a.logger)
}

func (a *app) publisher() notify.Publisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return notify.Nop{}
	}
	a.logger.Info("publishing ledger transitions",
		"brokers", a.cfg.Kafka.Brokers,
		"topic", a.cfg.Kafka.Topic,
	)
	return notify.NewKafkaPublisher(notify.KafkaConfig{
		Brokers:      a.cfg.Kafka.Brokers,
		Topic:        a.cfg.Kafka.Topic,
		WriteTimeout: a.cfg.Kafka.WriteTimeout,
	}, a.logger)
}

func (a *app) orchestrator(root string, led *ledger.Ledger, pub notify.Publisher) *ingest.Orchestrator {
	if root == "" {
		root = a.cfg.Ingest.BronzeRoot
	}
	return ingest.New(ingest.Config{
		BronzeRoot:    root,
		Workers:       a.cfg.Ingest.Workers,
		MaxBookLevels: a.cfg.Ingest.MaxBookLevels,
		Vendors:       a.cfg.Ingest.Vendors,
		Venues:        a.cfg.Venues,
	}, a.lake, led, a.refStore(), pub, a.metrics, a.logger)
}

// httpSource builds the vendor listing source, with url overriding the
// configured endpoint.
func (a *app) httpSource(url string) (*refsource.HTTP, error) {
	ref := a.cfg.ReferenceAPI
	if url == "" {
		url = ref.URL
	}
	if url == "" {
		return nil, errs.E(errs.UserInput, "sync-reference-data", "no reference api url configured")
	}
	venueID, ok := a.cfg.Venues[ref.Venue]
	if !ok {
		return nil, errs.E(errs.UserInput, "sync-reference-data", "reference_api.venue %q is not in venues", ref.Venue)
	}

	client := api.NewClient(url, "",
		api.WithLogger(a.logger),
		api.WithTimeout(ref.Timeout),
		api.WithRetry(api.RetryPolicy{
			MaxRetries:    uint64(ref.MaxRetries),
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			JitterPercent: 50,
		}),
		api.WithRateLimit(ref.RateLimit, ref.Burst),
	)
	return refsource.NewHTTP(client, ref.Venue, venueID, a.logger), nil
}

// serveMetrics starts the metrics and health server. The returned func
// shuts it down.
func (a *app) serveMetrics(checks map[string]metrics.HealthCheck) func() {
	if checks == nil {
		checks = make(map[string]metrics.HealthCheck)
	}
	ledgerDef := ledger.RecordsSchema(a.cfg.Ledger.Table).TableDef
	checks["lake"] = func(ctx context.Context) error {
		if _, err := a.lake.Version(ctx, ledgerDef); err != nil {
			return fmt.Errorf("lake unreachable: %w", err)
		}
		return nil
	}

	srv := metrics.NewServer(a.cfg.Metrics.Port, a.metrics.Handler(a.cfg.Metrics.Path, checks), a.logger)
	srv.Start()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to stop metrics server", "err", err)
		}
	}
}
