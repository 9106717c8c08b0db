// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package recordstore persists status changes, error events and line KPIs
// in TimescaleDB/PostgreSQL and serves the read side for fleetinsight.
package recordstore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omeid/pgerror"
	"github.com/rung/go-safecast"
	"go.uber.org/zap"
)

// Records older than this are pruned; the audit trail is an operational
// aid, not an archive.
const retention = 30 * 24 * time.Hour

// database is the subset of pgxpool.Pool the store uses. pgxmock's pool
// mock satisfies it as well.
type database interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store owns the connection pool. One Store is shared process-wide.
type Store struct {
	db database
}

// Connect opens the pool and blocks until the first ping succeeds or the
// context runs out.
func Connect(ctx context.Context, host string, port int, user string, password string, dbName string, sslMode string) (*Store, error) {
	psqlInfo := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host,
		port,
		user,
		password,
		dbName,
		sslMode)

	parseConfig, err := pgxpool.ParseConfig(psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	parseConfig.MinConns, err = safecast.Int32(runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("failed to convert CPU count: %w", err)
	}
	if parseConfig.MinConns < 4 {
		parseConfig.MinConns = 4
	}
	parseConfig.MaxConnIdleTime = 5 * time.Minute
	parseConfig.MaxConnLifetime = 10 * time.Minute

	connCtx, cncl := context.WithTimeout(ctx, 5*time.Second)
	defer cncl()
	pool, err := pgxpool.NewWithConfig(connCtx, parseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: pool}
	if !store.IsAvailable() {
		pool.Close()
		return nil, fmt.Errorf("database at %s:%d is not reachable", host, port)
	}
	return store, nil
}

// CreateSchema creates the record tables if they do not exist yet. Safe to
// run on every start.
func (s *Store) CreateSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS status_changes (
			timestamp TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			line_id TEXT NOT NULL DEFAULT '',
			device_type TEXT NOT NULL DEFAULT '',
			previous_state TEXT,
			new_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION,
			error_code INTEGER,
			minutes_since_update DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_device ON status_changes (device_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_line ON status_changes (line_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS error_events (
			timestamp TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			line_id TEXT NOT NULL,
			error_code INTEGER,
			error_count INTEGER,
			action_taken TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_events_line ON error_events (line_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS line_kpis (
			timestamp TIMESTAMPTZ NOT NULL,
			line_id TEXT NOT NULL,
			devices_total INTEGER NOT NULL,
			devices_online INTEGER NOT NULL,
			devices_warning INTEGER NOT NULL,
			devices_error INTEGER NOT NULL,
			devices_offline INTEGER NOT NULL,
			avg_temperature DOUBLE PRECISION NOT NULL,
			total_production_rate DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_line_kpis_line ON line_kpis (line_id, timestamp DESC)`,
	}

	for _, sqlStatement := range statements {
		_, err := s.db.Exec(ctx, sqlStatement)
		if err != nil {
			errorHandling(sqlStatement, err)
			return err
		}
	}
	return nil
}

// PruneExpired drops records past retention from all three tables.
func (s *Store) PruneExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-retention)
	for _, table := range []string{"status_changes", "error_events", "line_kpis"} {
		sqlStatement := fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, table)
		tag, err := s.db.Exec(ctx, sqlStatement, cutoff)
		if err != nil {
			errorHandling(sqlStatement, err)
			return err
		}
		if tag.RowsAffected() > 0 {
			zap.S().Infof("Pruned %d expired rows from %s", tag.RowsAffected(), table)
		}
	}
	return nil
}

// IsAvailable reports whether the database answers a ping within 5 seconds.
func (s *Store) IsAvailable() bool {
	if s.db == nil {
		return false
	}
	ctx, cncl := context.WithTimeout(context.Background(), 5*time.Second)
	defer cncl()
	err := s.db.Ping(ctx)
	if err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		return false
	}
	return true
}

// Shutdown closes all database connections.
func (s *Store) Shutdown() {
	s.db.Close()
}

// errorHandling logs postgresql errors, connection failures louder than the
// rest. The caller decides whether to degrade or to propagate.
func errorHandling(sqlStatement string, err error) {
	if e := pgerror.ConnectionException(err); e != nil {
		zap.S().Errorw(
			"PostgreSQL failed: ConnectionException",
			"error", err,
			"sqlStatement", sqlStatement,
		)
	} else {
		zap.S().Errorw(
			"PostgreSQL failed.",
			"error", err,
			"sqlStatement", sqlStatement,
		)
	}
}
