package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/paulmach/orb/encoding/wkt"
)

// GeometryColumn holds the polygon in the target table.
const GeometryColumn = "geom"

// DB is the part of a pgx pool the store needs, so pgxmock can stand in.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PersistenceError means a batch was not written. The transaction was
// rolled back, so none of its rows are in the table.
type PersistenceError struct {
	Table string
	Index int // record that failed, -1 for begin/commit failures
	ID    string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("persist batch into %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("persist record %d (%q) into %s: %v", e.Index, e.ID, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Upserter writes canonical records, skipping ids already stored.
type Upserter struct {
	db DB
}

func NewUpserter(db DB) *Upserter {
	return &Upserter{db: db}
}

// QualifiedName quotes schema and table for use in SQL.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// insertSQL builds the insert-if-absent statement. Existing rows with
// the same id are never touched.
func insertSQL(qualified string) string {
	cols := make([]string, 0, len(normalize.Columns)+1)
	params := make([]string, 0, len(normalize.Columns)+1)
	for i, c := range normalize.Columns {
		cols = append(cols, pq.QuoteIdentifier(c))
		// Casts are required: parameters in a SELECT list would
		// otherwise resolve to text.
		params = append(params, fmt.Sprintf("$%d::%s", i+1, columnTypes[c]))
	}
	geomParam := len(normalize.Columns) + 1
	cols = append(cols, pq.QuoteIdentifier(GeometryColumn))
	params = append(params, fmt.Sprintf("ST_GeomFromText($%d::text, %d)", geomParam, normalize.SRID))

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE id = $1::text)",
		qualified,
		strings.Join(cols, ", "),
		strings.Join(params, ", "),
		qualified,
	)
}

// Upsert inserts every record whose id is not yet in schema.table, all in
// one transaction. It returns the number of rows actually inserted. Any
// failure rolls the whole batch back.
func (u *Upserter) Upsert(ctx context.Context, records []*normalize.Record, table, schema string) (written int64, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	qualified := QualifiedName(schema, table)
	start := time.Now()

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return 0, &PersistenceError{Table: qualified, Index: -1, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logging.LogError("store", "rollback", rbErr)
			}
		}
	}()

	stmt := insertSQL(qualified)
	for i, rec := range records {
		if rec == nil || rec.Geometry == nil {
			return 0, &PersistenceError{Table: qualified, Index: i, Err: errors.New("record without geometry")}
		}
		args := append(rec.Values(), wkt.MarshalString(rec.Geometry))
		tag, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			return 0, &PersistenceError{Table: qualified, Index: i, ID: rec.ID, Err: err}
		}
		written += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &PersistenceError{Table: qualified, Index: -1, Err: fmt.Errorf("commit: %w", err)}
	}

	logging.LogUpsert("store", written, time.Since(start))
	if skipped := int64(len(records)) - written; skipped > 0 {
		logging.For("store").Info("existing ids skipped", "table", qualified, "skipped", skipped)
	}
	return written, nil
}

// Count returns the number of rows in schema.table.
func (u *Upserter) Count(ctx context.Context, table, schema string) (int64, error) {
	var n int64
	err := u.db.QueryRow(ctx, "SELECT count(*) FROM "+QualifiedName(schema, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", QualifiedName(schema, table), err)
	}
	return n, nil
}
