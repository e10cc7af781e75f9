// Package clickhouse owns the analytical store: connection management,
// schema bootstrap, and batched inserts over the native protocol.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
)

// DB wraps a native-protocol ClickHouse connection.
type DB struct {
	conn     driver.Conn
	database string
	log      *slog.Logger
}

// Open connects to ClickHouse, creating the database if it does not exist,
// and verifies the connection with a ping.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (*DB, error) {
	if err := ensureDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(connOptions(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse at %s: %w", cfg.Addr, err)
	}

	return &DB{
		conn:     conn,
		database: cfg.Database,
		log:      logging.Component("clickhouse"),
	}, nil
}

// ensureDatabase creates the target database over a bootstrap connection,
// since the main connection pins its session to a database that must exist.
func ensureDatabase(ctx context.Context, cfg config.ClickHouseConfig) error {
	boot, err := clickhouse.Open(connOptions(cfg, "default"))
	if err != nil {
		return fmt.Errorf("open bootstrap connection: %w", err)
	}
	defer boot.Close()

	ddl := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database)
	if err := boot.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create database %s: %w", cfg.Database, err)
	}
	return nil
}

func connOptions(cfg config.ClickHouseConfig, database string) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 10 * time.Second,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// EnsureSchema creates all tables the indexer writes to.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaStatements {
		if err := db.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	db.log.Info("schema ready", "database", db.database)
	return nil
}

// Conn exposes the underlying connection for the read side.
func (db *DB) Conn() driver.Conn {
	return db.conn
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
