package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/config"
	"github.com/geomonitor/prodes-ingest/internal/db"
	"github.com/geomonitor/prodes-ingest/internal/geometry"
	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/geomonitor/prodes-ingest/internal/pipeline"
	"github.com/geomonitor/prodes-ingest/internal/runlog"
	"github.com/geomonitor/prodes-ingest/internal/server"
	"github.com/geomonitor/prodes-ingest/internal/store"
	"github.com/geomonitor/prodes-ingest/internal/wfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type flags struct {
	job         config.Job
	jobsFile    string
	dryRun      bool
	stopOnError bool
	repair      string
	metricsAddr string
	listFailed  bool
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "prodes-ingest",
		Short: "Ingest PRODES yearly deforestation polygons from GeoServer WFS into PostGIS",
		Long: `Fetches a deforestation layer window by window, repairs each polygon and
inserts the ones whose id is not stored yet. Settings come from the
environment (.env.local is read when present) and are overridden by flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.job.Workspace, "workspace", "prodes-cerrado-nb", "GeoServer workspace")
	fl.StringVar(&f.job.Layer, "layer", "yearly_deforestation", "layer name")
	fl.StringVar(&f.job.Source, "source", "cerrado", "tag written into the source column")
	fl.IntVar(&f.job.YearStart, "year-start", 2000, "first year, inclusive")
	fl.IntVar(&f.job.YearEnd, "year-end", time.Now().Year()-1, "last year, inclusive")
	fl.IntVar(&f.job.PageSize, "page-size", 0, "features per request (default from PRODES_PAGE_SIZE)")
	fl.IntVar(&f.job.YearWindow, "year-window", 0, "years per window (default from PRODES_YEAR_WINDOW)")
	fl.StringVar(&f.job.Schema, "schema", "", "target schema (default from PRODES_SCHEMA)")
	fl.StringVar(&f.job.Table, "table", "", "target table (default from PRODES_TABLE)")
	fl.StringVar(&f.jobsFile, "jobs", "", "YAML file listing several layers; replaces the single-layer flags")
	fl.BoolVar(&f.dryRun, "dry-run", false, "fetch and repair without writing")
	fl.BoolVar(&f.stopOnError, "stop-on-error", false, "stop at the first failed window")
	fl.StringVar(&f.repair, "repair", "", "geometry repair strategy: local or postgis")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address, e.g. :9102")
	fl.BoolVar(&f.listFailed, "list-failed", false, "print windows whose latest attempt failed and exit")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")
	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	config.LoadDotEnv()
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if f.repair != "" {
		cfg.RepairMode = geometry.Mode(f.repair)
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	log := logging.For("main")

	if err := cfg.Validate(f.dryRun && !f.listFailed); err != nil {
		return err
	}

	jobs, err := resolveJobs(f, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var handles *db.Handles
	needDB := !f.dryRun || f.listFailed || cfg.RepairMode == geometry.ModePostGIS
	if needDB {
		handles, err = db.Connect(ctx, cfg.DatabaseURL, db.DefaultOptions())
		if err != nil {
			return err
		}
		defer handles.Close()
	}

	var ledger *runlog.Ledger
	if handles != nil {
		ledger = runlog.New(handles.Gorm, cfg.Schema)
		if err := ledger.Setup(ctx); err != nil {
			return err
		}
	}

	if f.listFailed {
		return listFailed(ctx, cmd, ledger, jobs)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)
	if f.metricsAddr != "" {
		var pinger server.Pinger
		if handles != nil {
			pinger = handles.Pool
		}
		srv := server.New(f.metricsAddr, server.NewRouter(reg, pinger))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	driver, err := newDriver(cfg, handles, ledger, metrics)
	if err != nil {
		return err
	}

	if handles != nil && !f.dryRun {
		for _, j := range jobs {
			if err := store.EnsureTable(ctx, handles.Pool, j.Schema, j.Table); err != nil {
				return err
			}
		}
	}

	var errs []error
	for _, j := range jobs {
		log.Info("starting job", "workspace", j.Workspace, "layer", j.Layer,
			"years", fmt.Sprintf("%d-%d", j.YearStart, j.YearEnd), "source", j.Source, "dry_run", j.DryRun)
		sum, err := driver.Run(ctx, j)
		printSummary(cmd, j, sum)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s:%s: %w", j.Workspace, j.Layer, err))
			if errors.Is(err, context.Canceled) || f.stopOnError {
				break
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.LogError("main", "ingest", err)
		return err
	}
	return nil
}

func resolveJobs(f *flags, cfg config.Config) ([]pipeline.Config, error) {
	var jobs []pipeline.Config
	if f.jobsFile != "" {
		jf, err := config.LoadJobs(f.jobsFile)
		if err != nil {
			return nil, err
		}
		jobs = jf.PipelineConfigs(cfg)
	} else {
		jobs = []pipeline.Config{f.job.PipelineConfig(cfg)}
	}

	for i := range jobs {
		jobs[i].DryRun = f.dryRun
		jobs[i].StopOnWindowError = f.stopOnError
		if err := jobs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d (%s:%s): %w", i, jobs[i].Workspace, jobs[i].Layer, err)
		}
	}
	return jobs, nil
}

func newDriver(cfg config.Config, handles *db.Handles, ledger *runlog.Ledger, metrics *pipeline.Metrics) (*pipeline.Driver, error) {
	client := wfs.NewClient(cfg.WFSBaseURL,
		wfs.WithRetryPolicy(cfg.RetryPolicy()),
		wfs.WithRateLimit(cfg.RateEvery),
		wfs.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)

	var querier geometry.Querier
	var upserter pipeline.Upserter
	if handles != nil {
		querier = handles.Pool
		upserter = store.NewUpserter(handles.Pool)
	}
	repairer, err := geometry.NewRepairer(cfg.RepairMode, querier)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithMetrics(metrics)}
	if ledger != nil {
		opts = append(opts, pipeline.WithRecorder(ledger))
	}
	return pipeline.NewDriver(client, repairer, upserter, opts...), nil
}

func listFailed(ctx context.Context, cmd *cobra.Command, ledger *runlog.Ledger, jobs []pipeline.Config) error {
	out := cmd.OutOrStdout()
	for _, j := range jobs {
		failed, err := ledger.Failed(ctx, j.Workspace, j.Layer)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			fmt.Fprintf(out, "%s:%s: no failed windows\n", j.Workspace, j.Layer)
			continue
		}
		for _, r := range failed {
			fmt.Fprintf(out, "%s:%s %d-%d stage=%s at=%s err=%s\n",
				j.Workspace, j.Layer, r.YearStart, r.YearEnd, r.Stage,
				r.StartedAt.Format(time.RFC3339), r.Error)
		}
	}
	return nil
}

func printSummary(cmd *cobra.Command, j pipeline.Config, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:%s windows=%d failed=%d fetched=%d rejected=%d written=%d\n",
		j.Workspace, j.Layer, len(sum.Windows), sum.Failed, sum.Fetched, sum.Rejected, sum.Written)
	for _, w := range sum.Windows {
		status := "ok"
		if w.Err != nil {
			status = "FAILED: " + w.Err.Error()
		}
		fmt.Fprintf(out, "  %s fetched=%d rejected=%d written=%d %s\n",
			w.Window, w.Fetched, w.RejectedNormalize+w.RejectedGeometry, w.Written, status)
	}
}
