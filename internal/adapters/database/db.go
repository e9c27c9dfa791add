package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/pkg/logger"
)

const (
	// pq error code for "database does not exist"
	invalidCatalogName = "3D000"
	// pq error class for rejected credentials
	invalidAuthorizationClass = "28"
)

// DB wraps a PostgreSQL connection
type DB struct {
	conn *sqlx.DB
}

// New connects to the configured database, creating it first when it does
// not exist. Transient failures are retried cfg.ConnectRetries times with a
// fixed cfg.ConnectBackoff pause.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	connect := func() (*sqlx.DB, error) {
		conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDSN())
		if err == nil {
			return conn, nil
		}

		if isAuthFailure(err) {
			return nil, Permanent(err)
		}

		if isMissingDatabase(err) {
			if cerr := createDatabase(ctx, cfg); cerr != nil {
				logger.Warn("failed to create database", zap.String("database", cfg.Name), zap.Error(cerr))
				return nil, cerr
			}
			return sqlx.ConnectContext(ctx, "postgres", cfg.GetDSN())
		}

		logger.Warn("database connection attempt failed",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.Error(err),
		)
		return nil, err
	}

	conn, err := Retry(ctx, cfg.ConnectRetries, cfg.ConnectBackoff, connect)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
	)

	return &DB{conn: conn}, nil
}

func isMissingDatabase(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidCatalogName
}

// isAuthFailure reports rejected credentials, which retrying cannot fix
func isAuthFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code.Class()) == invalidAuthorizationClass
}

func createDatabase(ctx context.Context, cfg *config.DatabaseConfig) error {
	admin, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetMaintenanceDSN())
	if err != nil {
		return err
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, `CREATE DATABASE `+pq.QuoteIdentifier(cfg.Name)); err != nil {
		return err
	}

	logger.Info("database created", zap.String("database", cfg.Name))
	return nil
}

// Close closes database connection
func (db *DB) Close() error {
	if db.conn != nil {
		logger.Info("closing database connection")
		return db.conn.Close()
	}
	return nil
}

// DB returns sqlx.DB
func (db *DB) DB() *sqlx.DB {
	return db.conn
}
