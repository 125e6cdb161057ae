package runlog_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/geomonitor/prodes-ingest/internal/db"
	"github.com/geomonitor/prodes-ingest/internal/runlog"
	"github.com/geomonitor/prodes-ingest/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestFailures(t *testing.T) {
	runs := []runlog.WindowRun{
		{YearStart: 2000, YearEnd: 2001, Status: runlog.StatusFailed},
		{YearStart: 2002, YearEnd: 2003, Status: runlog.StatusFailed},
		{YearStart: 2000, YearEnd: 2001, Status: runlog.StatusSucceeded},
		{YearStart: 2004, YearEnd: 2005, Status: runlog.StatusEmpty},
		{YearStart: 2006, YearEnd: 2006, Status: runlog.StatusSucceeded},
		{YearStart: 2006, YearEnd: 2006, Status: runlog.StatusFailed},
	}

	got := runlog.LatestFailures(runs)
	require.Len(t, got, 2)
	assert.Equal(t, 2002, got[0].YearStart)
	assert.Equal(t, 2006, got[1].YearStart)
}

func TestLatestFailures_None(t *testing.T) {
	assert.Empty(t, runlog.LatestFailures(nil))
}

func TestLedger_Integration(t *testing.T) {
	ctx := context.Background()
	h, err := db.Connect(ctx, testutil.PostGISDSN(t), db.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(h.Close)

	schema := "runlog_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() { _, _ = h.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE") })

	ledger := runlog.New(h.Gorm, schema)
	require.NoError(t, ledger.Setup(ctx))
	require.NoError(t, ledger.Setup(ctx), "setup is repeatable")

	w := runlog.Window{Workspace: "prodes-cerrado-nb", Layer: "yearly_deforestation", Source: "cerrado"}

	w.YearStart, w.YearEnd = 2000, 2001
	ok, err := ledger.Start(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunID(), ok.RunID)
	require.NoError(t, ledger.Finish(ctx, ok, runlog.Counts{Fetched: 10, Rejected: 1, Written: 9}))

	w.YearStart, w.YearEnd = 2002, 2003
	bad, err := ledger.Start(ctx, w)
	require.NoError(t, err)
	require.NoError(t, ledger.Fail(ctx, bad, "fetch", runlog.Counts{}, errors.New("status 503")))

	w.YearStart, w.YearEnd = 2004, 2005
	empty, err := ledger.Start(ctx, w)
	require.NoError(t, err)
	require.NoError(t, ledger.Finish(ctx, empty, runlog.Counts{Fetched: 2, Rejected: 2}))
	assert.Equal(t, runlog.StatusEmpty, empty.Status)

	failed, err := ledger.Failed(ctx, "prodes-cerrado-nb", "yearly_deforestation")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2002, failed[0].YearStart)
	assert.Equal(t, "fetch", failed[0].Stage)
	assert.Equal(t, "status 503", failed[0].Error)
	assert.NotNil(t, failed[0].FinishedAt)

	other, err := ledger.Failed(ctx, "prodes-amazon-nb", "yearly_deforestation")
	require.NoError(t, err)
	assert.Empty(t, other)
}
