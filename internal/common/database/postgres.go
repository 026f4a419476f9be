package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"admissions-workers/internal/common/config"

	"github.com/lib/pq"
)

// PostgresClient owns the pooled connection behind the remote store. DSN is
// kept for the LISTEN connection, which needs its own session.
type PostgresClient struct {
	DB  *sql.DB
	DSN string
}

// NewPostgres validates the DSN through a pq connector, sizes the pool and
// pings once before returning.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresClient, error) {
	dsn := cfg.GetDSN() + " application_name=admissions-workers"

	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)

	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 2
	}
	db.SetMaxIdleConns(min(maxIdle, maxOpen))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &PostgresClient{DB: db, DSN: dsn}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
