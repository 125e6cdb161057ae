package runlog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/db"
	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger records window attempts in <schema>.ingest_window_runs. One
// Ledger belongs to one process run and stamps every row with its RunID.
type Ledger struct {
	db     *gorm.DB
	schema string
	runID  uuid.UUID
	now    func() time.Time
}

func New(gdb *gorm.DB, schema string) *Ledger {
	return &Ledger{db: gdb, schema: schema, runID: uuid.New(), now: time.Now}
}

func (l *Ledger) RunID() uuid.UUID { return l.runID }

func (l *Ledger) table() string {
	if l.schema == "" {
		return TableName
	}
	return l.schema + "." + TableName
}

func (l *Ledger) tx(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Table(l.table())
}

// Setup creates the schema and migrates the ledger table.
func (l *Ledger) Setup(ctx context.Context) error {
	if l.schema != "" {
		if err := db.EnsureSchema(l.db.WithContext(ctx), l.schema); err != nil {
			return fmt.Errorf("ensure schema %s: %w", l.schema, err)
		}
	}
	if err := l.tx(ctx).AutoMigrate(&WindowRun{}); err != nil {
		return fmt.Errorf("migrate %s: %w", l.table(), err)
	}
	return nil
}

// Start inserts a running attempt for w.
func (l *Ledger) Start(ctx context.Context, w Window) (*WindowRun, error) {
	run := &WindowRun{
		ID:        uuid.New(),
		RunID:     l.runID,
		Workspace: w.Workspace,
		Layer:     w.Layer,
		Source:    w.Source,
		YearStart: w.YearStart,
		YearEnd:   w.YearEnd,
		DryRun:    w.DryRun,
		Status:    StatusRunning,
		StartedAt: l.now().UTC(),
	}
	if err := l.tx(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("record window %d-%d start: %w", w.YearStart, w.YearEnd, err)
	}
	return run, nil
}

// Finish marks run succeeded, or empty when every fetched feature was
// rejected.
func (l *Ledger) Finish(ctx context.Context, run *WindowRun, c Counts) error {
	status := StatusSucceeded
	if c.Fetched == c.Rejected {
		status = StatusEmpty
	}
	return l.end(ctx, run, status, "", c, nil)
}

// Fail marks run failed at stage with cause.
func (l *Ledger) Fail(ctx context.Context, run *WindowRun, stage string, c Counts, cause error) error {
	return l.end(ctx, run, StatusFailed, stage, c, cause)
}

func (l *Ledger) end(ctx context.Context, run *WindowRun, status Status, stage string, c Counts, cause error) error {
	finished := l.now().UTC()
	run.Status = status
	run.Stage = stage
	run.Fetched = c.Fetched
	run.Rejected = c.Rejected
	run.Written = c.Written
	run.FinishedAt = &finished
	if cause != nil {
		run.Error = cause.Error()
	}

	err := l.tx(ctx).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":      run.Status,
		"stage":       run.Stage,
		"fetched":     run.Fetched,
		"rejected":    run.Rejected,
		"written":     run.Written,
		"error":       run.Error,
		"finished_at": finished,
	}).Error
	if err != nil {
		logging.LogError("runlog", "update window run", err)
		return fmt.Errorf("record window %d-%d %s: %w", run.YearStart, run.YearEnd, status, err)
	}
	return nil
}

// Failed lists the windows of workspace:layer whose latest attempt
// failed, oldest window first.
func (l *Ledger) Failed(ctx context.Context, workspace, layer string) ([]WindowRun, error) {
	var runs []WindowRun
	err := l.tx(ctx).
		Where("workspace = ? AND layer = ? AND status <> ?", workspace, layer, StatusRunning).
		Order("started_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list window runs: %w", err)
	}
	return LatestFailures(runs), nil
}

// LatestFailures keeps, per year window, the last attempt in runs (which
// must be ordered by start time) and returns those that failed.
func LatestFailures(runs []WindowRun) []WindowRun {
	type key struct{ start, end int }
	latest := map[key]WindowRun{}
	for _, r := range runs {
		latest[key{r.YearStart, r.YearEnd}] = r
	}

	var out []WindowRun
	for _, r := range latest {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].YearStart != out[j].YearStart {
			return out[i].YearStart < out[j].YearStart
		}
		return out[i].YearEnd < out[j].YearEnd
	})
	return out
}
