package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/geometry"
	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/geomonitor/prodes-ingest/internal/runlog"
	"github.com/geomonitor/prodes-ingest/internal/wfs"
)

const component = "pipeline"

// Fetcher returns every feature of a layer within a year range.
type Fetcher interface {
	Fetch(ctx context.Context, q wfs.Query) ([]wfs.RawFeature, error)
}

// Normalizer maps a raw feature to a canonical record.
type Normalizer interface {
	Normalize(f wfs.RawFeature) (*normalize.Record, error)
}

// Upserter persists a batch of records, skipping ids already stored.
type Upserter interface {
	Upsert(ctx context.Context, records []*normalize.Record, table, schema string) (int64, error)
}

// Recorder keeps the run ledger. Ledger failures are logged and never
// fail a window.
type Recorder interface {
	Start(ctx context.Context, w runlog.Window) (*runlog.WindowRun, error)
	Finish(ctx context.Context, run *runlog.WindowRun, c runlog.Counts) error
	Fail(ctx context.Context, run *runlog.WindowRun, stage string, c runlog.Counts, cause error) error
}

// Config describes one ingest job.
type Config struct {
	Workspace  string
	Layer      string
	YearStart  int
	YearEnd    int
	PageSize   int
	YearWindow int
	// Source is written into the source column of every record.
	Source string
	Schema string
	Table  string

	// StopOnWindowError returns at the first failed window instead of
	// moving on to the next one.
	StopOnWindowError bool
	// DryRun fetches and repairs but does not write.
	DryRun bool
}

// Validate checks cfg and fills in defaults.
func (c *Config) Validate() error {
	if c.Workspace == "" || c.Layer == "" {
		return ErrMissingLayer
	}
	if c.YearEnd < c.YearStart {
		return fmt.Errorf("%w: %d-%d", ErrInvalidRange, c.YearStart, c.YearEnd)
	}
	if c.PageSize == 0 {
		c.PageSize = wfs.DefaultPageSize
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidPaging, c.PageSize)
	}
	if c.YearWindow < 1 {
		c.YearWindow = DefaultYearWindow
	}
	if c.Source == "" {
		return ErrMissingSource
	}
	if c.Table == "" && !c.DryRun {
		return ErrMissingTable
	}
	return nil
}

// WindowResult is the outcome of one window.
type WindowResult struct {
	Window            Window
	Fetched           int
	RejectedNormalize int
	RejectedGeometry  int
	Written           int64
	Duration          time.Duration
	Err               error
}

func (r WindowResult) rejected() int { return r.RejectedNormalize + r.RejectedGeometry }

// Summary aggregates a run.
type Summary struct {
	Windows []WindowResult
	Fetched int
	// Rejected counts features dropped by normalization or repair.
	Rejected int
	Written  int64
	Failed   int
}

func (s *Summary) add(r WindowResult) {
	s.Windows = append(s.Windows, r)
	s.Fetched += r.Fetched
	s.Rejected += r.rejected()
	s.Written += r.Written
	if r.Err != nil {
		s.Failed++
	}
}

// Driver runs fetch, normalize, repair and upsert window by window.
type Driver struct {
	fetcher    Fetcher
	normalizer Normalizer
	repairer   geometry.Repairer
	upserter   Upserter
	recorder   Recorder
	metrics    *Metrics
}

// Option configures a Driver.
type Option func(*Driver)

func WithNormalizer(n Normalizer) Option {
	return func(d *Driver) { d.normalizer = n }
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

func NewDriver(fetcher Fetcher, repairer geometry.Repairer, upserter Upserter, opts ...Option) *Driver {
	d := &Driver{
		fetcher:    fetcher,
		normalizer: normalize.New(),
		repairer:   repairer,
		upserter:   upserter,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d
}

// Run processes every window of cfg in increasing year order. A failed
// window yields a *WindowError; the run continues with the next window
// unless StopOnWindowError is set. The returned error joins all window
// errors.
func (d *Driver) Run(ctx context.Context, cfg Config) (Summary, error) {
	var sum Summary
	if err := cfg.Validate(); err != nil {
		return sum, err
	}
	log := logging.For(component).With("workspace", cfg.Workspace, "layer", cfg.Layer)

	var errs []error
	for _, w := range Windows(cfg.YearStart, cfg.YearEnd, cfg.YearWindow) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res := d.runWindow(ctx, cfg, w)
		sum.add(res)
		if res.Err == nil {
			continue
		}
		errs = append(errs, res.Err)
		if cfg.StopOnWindowError {
			break
		}
	}

	log.Info("run finished",
		"windows", len(sum.Windows), "failed", sum.Failed,
		"fetched", sum.Fetched, "rejected", sum.Rejected, "written", sum.Written, "dry_run", cfg.DryRun)
	return sum, errors.Join(errs...)
}

func (d *Driver) runWindow(ctx context.Context, cfg Config, w Window) WindowResult {
	start := time.Now()
	res := WindowResult{Window: w}
	log := logging.For(component).With("layer", cfg.Layer, "window", w.String())

	run := d.startRun(ctx, cfg, w)
	// The ledger must record the outcome even after ctx is cancelled.
	ledgerCtx := context.WithoutCancel(ctx)
	fail := func(stage string, err error) WindowResult {
		res.Err = &WindowError{YearStart: w.Start, YearEnd: w.End, Stage: stage, Err: err}
		res.Duration = time.Since(start)
		d.metrics.Windows.WithLabelValues(cfg.Layer, string(runlog.StatusFailed)).Inc()
		d.metrics.WindowDuration.WithLabelValues(cfg.Layer).Observe(res.Duration.Seconds())
		log.Error("window failed", "stage", stage, "err", err)
		if run != nil {
			if rerr := d.recorder.Fail(ledgerCtx, run, stage, counts(res), err); rerr != nil {
				logging.LogError(component, "record window failure", rerr)
			}
		}
		return res
	}

	features, err := d.fetcher.Fetch(ctx, wfs.Query{
		Workspace: cfg.Workspace,
		Layer:     cfg.Layer,
		YearStart: w.Start,
		YearEnd:   w.End,
		PageSize:  cfg.PageSize,
	})
	if err != nil {
		return fail(StageFetch, err)
	}
	res.Fetched = len(features)
	d.metrics.FeaturesFetched.WithLabelValues(cfg.Layer).Add(float64(len(features)))

	transformStart := time.Now()
	records := make([]*normalize.Record, 0, len(features))
	for _, f := range features {
		rec, err := d.normalizer.Normalize(f)
		if err != nil {
			res.RejectedNormalize++
			log.Warn("feature rejected", "stage", "normalize", "err", err)
			continue
		}
		rec, err = d.repairer.Repair(ctx, rec)
		if err != nil {
			res.RejectedGeometry++
			log.Warn("feature rejected", "stage", "geometry", "err", err)
			continue
		}
		rec.SetSource(cfg.Source)
		records = append(records, rec)
	}
	d.metrics.FeaturesRejected.WithLabelValues(cfg.Layer, "normalize").Add(float64(res.RejectedNormalize))
	d.metrics.FeaturesRejected.WithLabelValues(cfg.Layer, "geometry").Add(float64(res.RejectedGeometry))
	logging.LogTransform(component, len(features), len(records), time.Since(transformStart))

	outcome := runlog.StatusSucceeded
	switch {
	case len(records) == 0:
		outcome = runlog.StatusEmpty
		log.Info("nothing to persist")
	case cfg.DryRun:
		log.Info("dry run, skipping persistence", "records", len(records))
	default:
		written, err := d.upserter.Upsert(ctx, records, cfg.Table, cfg.Schema)
		if err != nil {
			return fail(StagePersist, err)
		}
		res.Written = written
		d.metrics.RowsWritten.WithLabelValues(cfg.Layer).Add(float64(written))
	}

	res.Duration = time.Since(start)
	d.metrics.Windows.WithLabelValues(cfg.Layer, string(outcome)).Inc()
	d.metrics.WindowDuration.WithLabelValues(cfg.Layer).Observe(res.Duration.Seconds())
	if run != nil {
		if err := d.recorder.Finish(ledgerCtx, run, counts(res)); err != nil {
			logging.LogError(component, "record window", err)
		}
	}
	log.Info("window done",
		"fetched", res.Fetched, "rejected", res.rejected(), "written", res.Written,
		"duration_ms", res.Duration.Milliseconds())
	return res
}

func (d *Driver) startRun(ctx context.Context, cfg Config, w Window) *runlog.WindowRun {
	if d.recorder == nil {
		return nil
	}
	run, err := d.recorder.Start(ctx, runlog.Window{
		Workspace: cfg.Workspace,
		Layer:     cfg.Layer,
		Source:    cfg.Source,
		YearStart: w.Start,
		YearEnd:   w.End,
		DryRun:    cfg.DryRun,
	})
	if err != nil {
		logging.LogError(component, "record window start", err)
		return nil
	}
	return run
}

func counts(r WindowResult) runlog.Counts {
	return runlog.Counts{Fetched: r.Fetched, Rejected: r.rejected(), Written: r.Written}
}
