// Package testutil starts a disposable PostGIS for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgisImage = "postgis/postgis:16-3.4-alpine"

// PostGISDSN returns a connection string to a PostGIS database. It uses
// TEST_DATABASE_URL when set, otherwise it starts a container that is
// terminated when t finishes. The test is skipped under -short or when
// no container runtime is available.
func PostGISDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skip("skipping PostGIS integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		postgisImage,
		postgres.WithDatabase("prodes"),
		postgres.WithUsername("prodes"),
		postgres.WithPassword("prodes"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

// PostGISPool opens a pgx pool on PostGISDSN, closed when t finishes.
func PostGISPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), PostGISDSN(t))
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
