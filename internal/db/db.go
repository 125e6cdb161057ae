package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrEmptyDSN = errors.New("database url is empty")

// Options tunes the connection pool shared by the store and the run ledger.
type Options struct {
	MaxConns        int32
	ConnMaxLifetime time.Duration
	// SlowThreshold makes gorm log queries slower than this.
	SlowThreshold time.Duration
	// LogSQL logs every statement gorm runs.
	LogSQL bool
}

func DefaultOptions() Options {
	return Options{
		MaxConns:        10,
		ConnMaxLifetime: 30 * time.Minute,
		SlowThreshold:   500 * time.Millisecond,
	}
}

// Handles holds one pgx pool and a gorm handle on top of it.
type Handles struct {
	Pool  *pgxpool.Pool
	Gorm  *gorm.DB
	sqlDB *sql.DB
}

// Connect opens the pool, checks it answers and wraps it for gorm.
func Connect(ctx context.Context, dsn string, opts Options) (*Handles, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	level := logger.Warn
	if opts.LogSQL {
		level = logger.Info
	}
	lg := logger.New(
		logging.For("db"),
		logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)

	sqlDB := stdlib.OpenDBFromPool(pool)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: lg})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	logging.For("db").Info("connected to database", "max_conns", cfg.MaxConns)
	return &Handles{Pool: pool, Gorm: gdb, sqlDB: sqlDB}, nil
}

func (h *Handles) Close() {
	if h == nil {
		return
	}
	_ = h.sqlDB.Close()
	h.Pool.Close()
}
