package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/lib/pq"
)

// columnTypes are the SQL types of the canonical attributes.
var columnTypes = map[string]string{
	"id":           "text",
	"uid":          "bigint",
	"state":        "text",
	"path_row":     "text",
	"def_cloud":    "text",
	"julian_day":   "integer",
	"image_date":   "date",
	"year":         "integer",
	"area_km":      "double precision",
	"scene_id":     "bigint",
	"source":       "text",
	"satellite":    "text",
	"sensor":       "text",
	"publish_year": "date",
}

func createTableSQL(schema, table string) string {
	defs := make([]string, 0, len(normalize.Columns)+1)
	for _, c := range normalize.Columns {
		def := pq.QuoteIdentifier(c) + " " + columnTypes[c]
		if c == "id" {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("%s geometry(Geometry, %d)", pq.QuoteIdentifier(GeometryColumn), normalize.SRID))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", QualifiedName(schema, table), strings.Join(defs, ",\n\t"))
}

// EnsureTable creates the PostGIS extension, the schema, the target table
// and its spatial index when they do not exist yet.
func EnsureTable(ctx context.Context, db DB, schema, table string) error {
	stmts := []string{`CREATE EXTENSION IF NOT EXISTS postgis`}
	if schema != "" {
		stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema))
	}
	stmts = append(stmts,
		createTableSQL(schema, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
			pq.QuoteIdentifier(table+"_geom_gix"), QualifiedName(schema, table), pq.QuoteIdentifier(GeometryColumn)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pq.QuoteIdentifier(table+"_year_idx"), QualifiedName(schema, table), pq.QuoteIdentifier("year")),
	)
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure table %s: %w", QualifiedName(schema, table), err)
		}
	}
	return nil
}
