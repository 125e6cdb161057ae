package store_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/geomonitor/prodes-ingest/internal/store"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const insertPrefix = `INSERT INTO "prodes"."yearly_deforestation"`

func record(id string) *normalize.Record {
	year := int64(2019)
	rec := &normalize.Record{
		ID:     id,
		Year:   &year,
		AreaKm: 0.25,
		Geometry: orb.Polygon{{
			{-47.1, -15.1}, {-47.0, -15.1}, {-47.0, -15.0}, {-47.1, -15.1},
		}},
	}
	rec.SetSource("prodes_cerrado")
	return rec
}

func records(n int) []*normalize.Record {
	out := make([]*normalize.Record, n)
	for i := range out {
		out[i] = record("yearly_deforestation." + string(rune('a'+i)))
	}
	return out
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestUpsert_InsertsNewRows(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	n, err := store.NewUpserter(mock).Upsert(context.Background(), records(3), "yearly_deforestation", "prodes")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ExistingIdsAreSkipped(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).
		WithArgs(append([]any{"yearly_deforestation.a"}, anyArgs(14)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.NewUpserter(mock).Upsert(context.Background(), records(2), "yearly_deforestation", "prodes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_FailureRollsBackWholeBatch(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	boom := errors.New("violates check constraint")
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).WillReturnError(boom)
	mock.ExpectRollback()

	n, err := store.NewUpserter(mock).Upsert(context.Background(), records(5), "yearly_deforestation", "prodes")
	assert.Zero(t, n)

	var perr *store.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 2, perr.Index)
	assert.Equal(t, "yearly_deforestation.c", perr.ID)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_BeginAndCommitFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		_, err := store.NewUpserter(mock).Upsert(context.Background(), records(1), "t", "")
		var perr *store.PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, -1, perr.Index)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "t"`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
		mock.ExpectRollback()

		n, err := store.NewUpserter(mock).Upsert(context.Background(), records(1), "t", "")
		assert.Zero(t, n)
		var perr *store.PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, -1, perr.Index)
		assert.Contains(t, err.Error(), "commit")
	})
}

func TestUpsert_EmptyBatchTouchesNothing(t *testing.T) {
	mock := newMock(t)
	n, err := store.NewUpserter(mock).Upsert(context.Background(), nil, "t", "s")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RecordWithoutGeometry(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	bad := record("x")
	bad.Geometry = nil
	_, err := store.NewUpserter(mock).Upsert(context.Background(), []*normalize.Record{bad}, "t", "s")
	var perr *store.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 0, perr.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "prodes"."yearly_deforestation"`)).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := store.NewUpserter(mock).Count(context.Background(), "yearly_deforestation", "prodes")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestEnsureTable(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS postgis`)).
		WillReturnResult(pgxmock.NewResult("CREATE EXTENSION", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "prodes"`)).
		WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS "prodes"\."yearly_deforestation".*"id" text PRIMARY KEY.*"geom" geometry\(Geometry, 4326\)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`USING GIST ("geom")`)).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(regexp.QuoteMeta(`"yearly_deforestation_year_idx"`)).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, store.EnsureTable(context.Background(), mock, "prodes", "yearly_deforestation"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_PropagatesError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION`)).WillReturnError(errors.New("permission denied"))

	err := store.EnsureTable(context.Background(), mock, "prodes", "yearly_deforestation")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "permission denied"))
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}
