// Command lakeingest ingests bronze market-data files into silver lake
// tables and maintains the reference data they are resolved against.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
	"github.com/rickgao/marketlake/internal/ledger"
	"github.com/rickgao/marketlake/internal/metrics"
	"github.com/rickgao/marketlake/internal/model"
	"github.com/rickgao/marketlake/internal/refdata"
	"github.com/rickgao/marketlake/internal/refsource"
	"github.com/rickgao/marketlake/internal/refsync"
)

const usage = `usage: lakeingest <command> [flags]

commands:
  discover              list bronze files not yet ingested
  ingest                ingest pending bronze files
  show-ledger           print ingestion ledger records
  sync-reference-data   apply a reference-data snapshot or history
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	var cmd func(context.Context, []string, io.Writer, io.Writer) error
	switch args[0] {
	case "discover":
		cmd = runDiscover
	case "ingest":
		cmd = runIngest
	case "show-ledger":
		cmd = runShowLedger
	case "sync-reference-data":
		cmd = runSyncReferenceData
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	if err := cmd(ctx, args[1:], stdout, stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "lakeingest %s: %v\n", args[0], err)
		return errs.ExitCode(err)
	}
	return 0
}

// commonFlags registers the flags every subcommand accepts.
type commonFlags struct {
	config  string
	envFile string
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &commonFlags{}
	fs.StringVar(&c.config, "config", "configs/lakeingest.yaml", "path to config file")
	fs.StringVar(&c.envFile, "env-file", ".env", "path to env file loaded before the config")
	return fs, c
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errs.Wrap(errs.UserInput, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return errs.E(errs.UserInput, fs.Name(), "unexpected arguments %v", fs.Args())
	}
	return nil
}

func runDiscover(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("discover", stderr)
	root := fs.String("root", "", "bronze root (overrides ingest.bronze_root)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := setup(ctx, common.config, common.envFile, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	led, err := a.ledger()
	if err != nil {
		return err
	}
	discovered, pending, err := a.orchestrator(*root, led, nil).Pending(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tSHA256")
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", m.RelativePath, m.Size, m.ContentHash)
	}
	tw.Flush()
	fmt.Fprintf(stdout, "\n%d discovered, %d pending\n", discovered, len(pending))
	return nil
}

func runIngest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("ingest", stderr)
	root := fs.String("root", "", "bronze root (overrides ingest.bronze_root)")
	serve := fs.Bool("serve-metrics", false, "serve Prometheus metrics and /health while ingesting")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := setup(ctx, common.config, common.envFile, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if *root == "" && a.cfg.Ingest.BronzeRoot == "" {
		return errs.E(errs.UserInput, "ingest", "no bronze root: set ingest.bronze_root or --root")
	}
	if *serve {
		stopServer := a.serveMetrics(nil)
		defer stopServer()
	}

	led, err := a.ledger()
	if err != nil {
		return err
	}
	pub := a.publisher()
	defer func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "err", err)
		}
	}()

	sum, runErr := a.orchestrator(*root, led, pub).Run(ctx)

	fmt.Fprintf(stdout, "run %s: %d discovered, %d skipped, %d success, %d failed, %d quarantined, %d pending\n",
		sum.RunID, sum.Discovered, sum.Skipped, sum.Success, sum.Failed, sum.Quarantined, sum.Pending)
	fmt.Fprintf(stdout, "rows: %d committed, %d dropped\n", sum.RowsCommitted, sum.RowsDropped)
	return runErr
}

func runShowLedger(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("show-ledger", stderr)
	status := fs.String("status", "", "only records in this status (pending, success, failed, quarantined)")
	vendor := fs.String("vendor", "", "only records from this vendor")
	dataType := fs.String("data-type", "", "only records of this data type")
	asJSON := fs.Bool("json", false, "print records as JSON lines")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := setup(ctx, common.config, common.envFile, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	led, err := a.ledger()
	if err != nil {
		return err
	}
	recs, err := led.List(ctx, ledger.Filter{
		Status:   model.FileStatus(*status),
		Vendor:   *vendor,
		DataType: *dataType,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
		}
		return nil
	}
	printLedger(stdout, recs)
	return nil
}

func printLedger(w io.Writer, recs []model.IngestionRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE_ID\tSTATUS\tATTEMPTS\tROWS\tDROPPED\tPATH\tREASON")
	for _, r := range recs {
		reason := string(r.QuarantineReason)
		if r.ErrorMessage != nil {
			if reason != "" {
				reason += ": "
			}
			reason += *r.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.FileID, r.Status, r.Attempts, r.RowCount,
			r.DroppedUnresolved+r.DroppedInvalid, r.RelativePath, reason)
	}
	tw.Flush()
}

func runSyncReferenceData(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("sync-reference-data", stderr)
	snapshot := fs.String("snapshot", "", "snapshot file (csv, csv.gz or parquet)")
	url := fs.String("url", "", "vendor instrument listing url (overrides reference_api.url)")
	history := fs.String("history", "", "history file to rebuild versions from")
	effective := fs.String("effective-ts", "", "effective time of the snapshot (µs since epoch or RFC 3339)")
	watch := fs.Bool("watch", false, "sync periodically until interrupted")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	sources := 0
	for _, s := range []string{*snapshot, *url, *history} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources > 1:
		return errs.E(errs.UserInput, "sync-reference-data", "--snapshot, --url and --history are mutually exclusive")
	case *history != "" && (*watch || *effective != ""):
		return errs.E(errs.UserInput, "sync-reference-data", "--history takes no --effective-ts or --watch")
	case *watch && *effective != "":
		return errs.E(errs.UserInput, "sync-reference-data", "--watch uses the sync time as effective time")
	case !*watch && *history == "" && *effective == "":
		return errs.E(errs.UserInput, "sync-reference-data", "--effective-ts is required")
	}

	var effectiveTs int64
	if *effective != "" {
		ts, err := parseEffectiveTs(*effective)
		if err != nil {
			return errs.Wrap(errs.UserInput, "sync-reference-data", err)
		}
		effectiveTs = ts
	}

	a, err := setup(ctx, common.config, common.envFile, stderr)
	if err != nil {
		return err
	}
	defer a.close()
	store := a.refStore()

	if *history != "" {
		rows, err := refsource.ReadHistory(*history)
		if err != nil {
			return err
		}
		res, err := store.SyncHistory(ctx, rows)
		if err != nil {
			return err
		}
		printSyncResult(stdout, res)
		return nil
	}

	var src refsource.Source
	if *snapshot != "" {
		src = refsource.File{Path: *snapshot}
	} else {
		h, err := a.httpSource(*url)
		if err != nil {
			return err
		}
		src = h
	}

	if *watch {
		return watchReferenceData(ctx, a, src, store)
	}

	records, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}
	res, err := store.Sync(ctx, records, effectiveTs)
	if err != nil {
		return err
	}
	printSyncResult(stdout, res)
	return nil
}

func watchReferenceData(ctx context.Context, a *app, src refsource.Source, store *refdata.Store) error {
	p := refsync.New(refsync.Config{
		Interval: a.cfg.ReferenceAPI.SyncInterval,
		Timeout:  a.cfg.ReferenceAPI.Timeout * time.Duration(max(a.cfg.ReferenceAPI.MaxRetries, 1)+1),
	}, src, store, a.metrics, a.logger)

	stopServer := a.serveMetrics(map[string]metrics.HealthCheck{"refsync": p.Health})
	defer stopServer()

	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.logger.Info("shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

func printSyncResult(w io.Writer, res refdata.SyncResult) {
	fmt.Fprintf(w, "%d new, %d modified, %d delisted, %d unchanged; %d versions (written: %t)\n",
		res.NewListings, res.Modified, res.Delisted, res.Unchanged, res.Versions, res.Written)
}

// parseEffectiveTs accepts microseconds since epoch or an RFC 3339 time.
func parseEffectiveTs(s string) (int64, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse effective time %q: want µs since epoch or RFC 3339", s)
	}
	return t.UnixMicro(), nil
}
