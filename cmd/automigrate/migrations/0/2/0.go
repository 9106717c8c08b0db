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

package _2

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/united-manufacturing-hub/factory-agent/cmd/automigrate/database"
	"go.uber.org/zap"
)

func GetTx(db *sql.DB) *sql.Tx {
	tx, err := db.Begin()
	if err != nil {
		zap.S().Fatalf("Error while opening transaction: %v", err)
	}
	return tx
}

// V0x2x0 splits the flat device_events audit table of the 0.1 releases into
// the status_changes, error_events and line_kpis tables the services write
// today.
func V0x2x0(db *sql.DB) error {
	zap.S().Infof("Applying migration 0.2.0")

	zap.S().Infof("Creating record tables")
	txCRT := GetTx(db)
	err := createRecordTables(txCRT)
	if err != nil {
		errX := txCRT.Rollback()
		if errX != nil {
			zap.S().Errorf("Error while rolling back transaction: %v", errX)
		}
		zap.S().Fatalf("Error while creating record tables: %v", err)
	}
	errX := txCRT.Commit()
	if errX != nil {
		zap.S().Errorf("Error while committing transaction: %v", errX)
	}
	zap.S().Infof("Created record tables")

	// Skip if the flat table is missing. Fresh installs never had it, the
	// services ensure their own schema on startup.
	var exists bool
	exists, err = database.TableExists(db, "device_events")
	if err != nil {
		zap.S().Fatalf("Error while checking if device_events table exists: %v", err)
	}
	if !exists {
		zap.S().Warnf("device_events table does not exist, skipping migration")
		return nil
	}

	// line_id arrived in 0.1.5, rows written before that carry no line.
	hasLine, err := database.CheckIfColumnExists("line_id", "device_events", db)
	if err != nil {
		zap.S().Fatalf("Error while checking if line_id column exists: %v", err)
	}

	zap.S().Infof("Migrating status events")
	err = migrateStatusEvents(db, hasLine)
	if err != nil {
		zap.S().Fatalf("Error while migrating status events: %v", err)
	}
	zap.S().Infof("Migrated status events")

	zap.S().Infof("Migrating error events")
	txME := GetTx(db)
	err = migrateErrorEvents(txME, hasLine)
	if err != nil {
		errX = txME.Rollback()
		if errX != nil {
			zap.S().Errorf("Error while rolling back transaction: %v", errX)
		}
		zap.S().Fatalf("Error while migrating error events: %v", err)
	}
	errX = txME.Commit()
	if errX != nil {
		zap.S().Errorf("Error while committing transaction: %v", errX)
	}
	zap.S().Infof("Migrated error events")

	// The 0.1 releases never recorded line KPIs, there is nothing to
	// backfill into line_kpis.

	zap.S().Infof("Dropping old tables")
	txDOT := GetTx(db)
	err = dropOldTables(txDOT)
	if err != nil {
		errX = txDOT.Rollback()
		if errX != nil {
			zap.S().Errorf("Error while rolling back transaction: %v", errX)
		}
		zap.S().Fatalf("Error while dropping old tables: %v", err)
	}
	errX = txDOT.Commit()
	if errX != nil {
		zap.S().Errorf("Error while committing transaction: %v", errX)
	}

	zap.S().Infof("Applied migration 0.2.0")

	return nil
}

// createRecordTables matches the schema the services ensure on startup.
// automigrate only has to create it when it runs before the first service
// start.
func createRecordTables(db *sql.Tx) error {
	var creationCommand = `
    CREATE TABLE IF NOT EXISTS status_changes (
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
    );

    CREATE INDEX IF NOT EXISTS idx_status_changes_device ON status_changes (device_id, timestamp DESC);
    CREATE INDEX IF NOT EXISTS idx_status_changes_line ON status_changes (line_id, timestamp DESC);

    CREATE TABLE IF NOT EXISTS error_events (
        timestamp TIMESTAMPTZ NOT NULL,
        device_id TEXT NOT NULL DEFAULT '',
        line_id TEXT NOT NULL,
        error_code INTEGER,
        error_count INTEGER,
        action_taken TEXT NOT NULL DEFAULT '',
        reason TEXT NOT NULL DEFAULT ''
    );

    CREATE INDEX IF NOT EXISTS idx_error_events_line ON error_events (line_id, timestamp DESC);

    CREATE TABLE IF NOT EXISTS line_kpis (
        timestamp TIMESTAMPTZ NOT NULL,
        line_id TEXT NOT NULL,
        devices_total INTEGER NOT NULL,
        devices_online INTEGER NOT NULL,
        devices_warning INTEGER NOT NULL,
        devices_error INTEGER NOT NULL,
        devices_offline INTEGER NOT NULL,
        avg_temperature DOUBLE PRECISION NOT NULL,
        total_production_rate DOUBLE PRECISION NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_line_kpis_line ON line_kpis (line_id, timestamp DESC);
`

	_, err := db.Exec(creationCommand)
	return err
}

type legacyStatusEvent struct {
	timestamp   time.Time
	deviceID    string
	state       string
	lineID      sql.NullString
	deviceType  sql.NullString
	previous    sql.NullString
	reason      sql.NullString
	temperature sql.NullFloat64
	errorCode   sql.NullInt32
}

// The 0.1 releases stored the raw twin status strings, the split schema
// stores health states.
func healthStateFor(legacy string) string {
	switch legacy {
	case "running":
		return "online"
	case "degraded":
		return "warning"
	case "faulted":
		return "error"
	case "stale":
		return "offline"
	}
	return legacy
}

func migrateStatusEvents(db *sql.DB, hasLine bool) error {
	lineColumn := "''"
	if hasLine {
		lineColumn = "COALESCE(line_id, '')"
	}

	rows, err := db.Query(fmt.Sprintf(
		"SELECT timestamp, device_id, %s, device_type, previous_state, new_state, reason, temperature, error_code FROM device_events WHERE event_kind = 'status'",
		lineColumn))
	if err != nil {
		return err
	}
	defer rows.Close()

	var events []legacyStatusEvent
	for rows.Next() {
		var row legacyStatusEvent
		err = rows.Scan(
			&row.timestamp,
			&row.deviceID,
			&row.lineID,
			&row.deviceType,
			&row.previous,
			&row.state,
			&row.reason,
			&row.temperature,
			&row.errorCode)
		if err != nil {
			return err
		}
		row.state = healthStateFor(row.state)
		if row.previous.Valid {
			row.previous.String = healthStateFor(row.previous.String)
		}
		events = append(events, row)
	}
	err = rows.Err()
	if err != nil {
		return err
	}

	if len(events) == 0 {
		zap.S().Info("No status events to migrate")
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	// COPY through a temp table, the flat table easily holds a month of
	// sweeps for a whole plant.
	_, err = tx.Exec("CREATE TEMP TABLE tmp_status_changes (LIKE status_changes INCLUDING DEFAULTS) ON COMMIT DROP")
	if err != nil {
		return err
	}

	var prepCopy *sql.Stmt
	prepCopy, err = tx.Prepare(pq.CopyIn(
		"tmp_status_changes",
		"timestamp",
		"device_id",
		"line_id",
		"device_type",
		"previous_state",
		"new_state",
		"reason",
		"temperature",
		"error_code"))
	if err != nil {
		zap.S().Errorf("Error while preparing copy: %v", err)
		return err
	}

	zap.S().Infof("Copying %d status events", len(events))
	for i := range events {
		row := &events[i]
		_, err = prepCopy.Exec(
			row.timestamp,
			row.deviceID,
			row.lineID.String,
			row.deviceType.String,
			row.previous,
			row.state,
			row.reason.String,
			row.temperature,
			row.errorCode)
		if err != nil {
			var sqlErr *pq.Error
			if errors.As(err, &sqlErr) {
				zap.S().Fatalf(
					"COPY rejected status event for device %s: %s (%s)",
					row.deviceID,
					sqlErr.Message,
					sqlErr.Code)
			}
			zap.S().Fatalf("Error while copying status event: %v", err)
		}
		if (i+1)%10000 == 0 {
			zap.S().Infof("Copied %d status events", i+1)
		}
	}

	// Flush the COPY buffer before closing the statement
	_, err = prepCopy.Exec()
	if err != nil {
		zap.S().Errorf("Error while flushing copy: %v", err)
		return err
	}
	err = prepCopy.Close()
	if err != nil {
		zap.S().Errorf("Error while closing copy: %v", err)
		return err
	}

	_, err = tx.Exec(`INSERT INTO status_changes (timestamp, device_id, line_id, device_type, previous_state, new_state, reason, temperature, error_code)
        (SELECT timestamp, device_id, line_id, device_type, previous_state, new_state, reason, temperature, error_code FROM tmp_status_changes)
        ON CONFLICT DO NOTHING`)
	if err != nil {
		zap.S().Errorf("Error while copying tmp table to status_changes: %v", err)
		return err
	}

	return tx.Commit()
}

// migrateErrorEvents maps one to one, the action names did not change in
// 0.2, so plain SQL does it.
func migrateErrorEvents(db *sql.Tx, hasLine bool) error {
	lineColumn := "''"
	if hasLine {
		lineColumn = "COALESCE(line_id, '')"
	}
	_, err := db.Exec(fmt.Sprintf(`INSERT INTO error_events (timestamp, device_id, line_id, error_code, error_count, action_taken, reason)
        (SELECT timestamp, COALESCE(device_id, ''), %s, error_code, error_count, COALESCE(action_taken, ''), COALESCE(reason, '') FROM device_events WHERE event_kind = 'error')
        ON CONFLICT DO NOTHING`, lineColumn))
	return err
}

func dropOldTables(db *sql.Tx) error {
	zap.S().Infof("Dropping device_events table")
	_, err := db.Exec("DROP TABLE IF EXISTS device_events RESTRICT ")
	if err != nil {
		zap.S().Errorf("Error while dropping device_events table: %v", err)
	}
	return err
}
