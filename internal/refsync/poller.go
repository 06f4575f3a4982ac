package refsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketlake/internal/metrics"
	"github.com/rickgao/marketlake/internal/model"
	"github.com/rickgao/marketlake/internal/refdata"
	"github.com/rickgao/marketlake/internal/refsource"
)

// Syncer applies a snapshot to the version store.
type Syncer interface {
	Sync(ctx context.Context, snapshot []model.InstrumentRecord, effectiveTs int64) (refdata.SyncResult, error)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration    // Sync interval (default: 1h)
	Timeout  time.Duration    // Per-cycle timeout (default: 2m)
	Now      func() time.Time // Effective timestamp clock, defaults to time.Now
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Timeout:  2 * time.Minute,
	}
}

// Poller periodically syncs reference data from a source.
type Poller struct {
	cfg     Config
	source  refsource.Source
	store   Syncer
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	lastTs  int64
	lastErr error
	lastRun time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. m may be nil.
func New(cfg Config, source refsource.Source, store Syncer, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Start begins the sync loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("reference sync poller started",
		"interval", p.cfg.Interval,
		"source", fmt.Sprint(p.source),
	)

	return nil
}

// Stop gracefully shuts down the poller, waiting for an in-flight cycle.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("reference sync poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main sync loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.cycle()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cycle()
		}
	}
}

func (p *Poller) cycle() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if _, err := p.SyncOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) && p.ctx.Err() != nil {
			return
		}
		p.logger.Error("reference sync failed", "err", err)
	}
}

// SyncOnce fetches one snapshot and applies it at the current time.
// Effective timestamps are kept strictly increasing across cycles so a
// clock step backwards cannot trip the forward-only check.
func (p *Poller) SyncOnce(ctx context.Context) (refdata.SyncResult, error) {
	start := time.Now()

	snapshot, err := p.source.Snapshot(ctx)
	if err != nil {
		p.fail(ctx, err)
		return refdata.SyncResult{}, fmt.Errorf("fetch snapshot: %w", err)
	}

	p.mu.Lock()
	effectiveTs := max(p.cfg.Now().UnixMicro(), p.lastTs+1)
	p.mu.Unlock()

	res, err := p.store.Sync(ctx, snapshot, effectiveTs)
	if err != nil {
		p.fail(ctx, err)
		return refdata.SyncResult{}, fmt.Errorf("sync snapshot: %w", err)
	}
	p.finish(effectiveTs, nil)

	result := "unchanged"
	if res.Written {
		result = "written"
	}
	p.metrics.RecordRefSync(result, res.Versions)

	p.logger.Info("reference sync cycle complete",
		"instruments", len(snapshot),
		"effective_ts", effectiveTs,
		"result", result,
		"duration", time.Since(start),
	)
	return res, nil
}

// fail records a failed cycle. A cycle cut short by shutdown is not a
// failure.
func (p *Poller) fail(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	p.finish(0, err)
}

func (p *Poller) finish(effectiveTs int64, err error) {
	if err != nil {
		p.metrics.RecordRefSync("error", 0)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRun = time.Now()
	p.lastErr = err
	if effectiveTs > p.lastTs {
		p.lastTs = effectiveTs
	}
}

// Health reports the outcome of the last cycle. It is healthy before the
// first cycle completes.
func (p *Poller) Health(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErr != nil {
		return fmt.Errorf("last sync at %s failed: %w", p.lastRun.UTC().Format(time.RFC3339), p.lastErr)
	}
	return nil
}
