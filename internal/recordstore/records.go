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

package recordstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// SaveStatusChange writes one health-state transition.
func (s *Store) SaveStatusChange(ctx context.Context, record *datamodel.StatusChangeRecord) error {
	sqlStatement := `
		INSERT INTO status_changes
			(timestamp, device_id, line_id, device_type, previous_state, new_state, reason, temperature, error_code, minutes_since_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var previous *string
	if record.PreviousState != nil {
		p := string(*record.PreviousState)
		previous = &p
	}

	_, err := s.db.Exec(
		ctx,
		sqlStatement,
		record.Timestamp,
		record.DeviceID,
		record.LineID,
		string(record.DeviceType),
		previous,
		string(record.NewState),
		record.Reason,
		record.Temperature,
		record.ErrorCode,
		record.MinutesSinceUpdate)
	if err != nil {
		errorHandling(sqlStatement, err)
		return err
	}
	return nil
}

// SaveErrorEvent writes one error event. Line-level events carry an empty
// device id and are keyed by line id only.
func (s *Store) SaveErrorEvent(ctx context.Context, record *datamodel.ErrorEventRecord) error {
	sqlStatement := `
		INSERT INTO error_events
			(timestamp, device_id, line_id, error_code, error_count, action_taken, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(
		ctx,
		sqlStatement,
		record.Timestamp,
		record.DeviceID,
		record.LineID,
		record.ErrorCode,
		record.ErrorCount,
		string(record.ActionTaken),
		record.Reason)
	if err != nil {
		errorHandling(sqlStatement, err)
		return err
	}
	return nil
}

// SaveLineKPIs writes one per-sweep line rollup.
func (s *Store) SaveLineKPIs(ctx context.Context, record *datamodel.LineKPIRecord) error {
	sqlStatement := `
		INSERT INTO line_kpis
			(timestamp, line_id, devices_total, devices_online, devices_warning, devices_error, devices_offline, avg_temperature, total_production_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(
		ctx,
		sqlStatement,
		record.Timestamp,
		record.LineID,
		record.DevicesTotal,
		record.DevicesOnline,
		record.DevicesWarning,
		record.DevicesError,
		record.DevicesOffline,
		record.AvgTemperature,
		record.TotalProductionRate)
	if err != nil {
		errorHandling(sqlStatement, err)
		return err
	}
	return nil
}

// StatusHistory returns the state transitions of one device inside the time
// window, newest first.
func (s *Store) StatusHistory(ctx context.Context, deviceID string, from time.Time, to time.Time) ([]datamodel.StatusChangeRecord, error) {
	sqlStatement := `
		SELECT timestamp, device_id, line_id, device_type, previous_state, new_state, reason, temperature, error_code, minutes_since_update
		FROM status_changes
		WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, sqlStatement, deviceID, from, to)
	if err != nil {
		errorHandling(sqlStatement, err)
		return nil, err
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// LineStatusHistory returns the state transitions of every device on a line
// inside the time window, newest first.
func (s *Store) LineStatusHistory(ctx context.Context, lineID string, from time.Time, to time.Time) ([]datamodel.StatusChangeRecord, error) {
	sqlStatement := `
		SELECT timestamp, device_id, line_id, device_type, previous_state, new_state, reason, temperature, error_code, minutes_since_update
		FROM status_changes
		WHERE line_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, sqlStatement, lineID, from, to)
	if err != nil {
		errorHandling(sqlStatement, err)
		return nil, err
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// ErrorEvents returns the error events of one line inside the time window,
// newest first.
func (s *Store) ErrorEvents(ctx context.Context, lineID string, from time.Time, to time.Time) ([]datamodel.ErrorEventRecord, error) {
	sqlStatement := `
		SELECT timestamp, device_id, line_id, error_code, error_count, action_taken, reason
		FROM error_events
		WHERE line_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, sqlStatement, lineID, from, to)
	if err != nil {
		errorHandling(sqlStatement, err)
		return nil, err
	}
	defer rows.Close()

	var records []datamodel.ErrorEventRecord
	for rows.Next() {
		var record datamodel.ErrorEventRecord
		var actionTaken string
		err = rows.Scan(
			&record.Timestamp,
			&record.DeviceID,
			&record.LineID,
			&record.ErrorCode,
			&record.ErrorCount,
			&actionTaken,
			&record.Reason)
		if err != nil {
			return nil, err
		}
		record.ActionTaken = datamodel.Action(actionTaken)
		records = append(records, record)
	}
	return records, rows.Err()
}

// LineKPIs returns the KPI rollups of one line inside the time window,
// newest first.
func (s *Store) LineKPIs(ctx context.Context, lineID string, from time.Time, to time.Time) ([]datamodel.LineKPIRecord, error) {
	sqlStatement := `
		SELECT timestamp, line_id, devices_total, devices_online, devices_warning, devices_error, devices_offline, avg_temperature, total_production_rate
		FROM line_kpis
		WHERE line_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, sqlStatement, lineID, from, to)
	if err != nil {
		errorHandling(sqlStatement, err)
		return nil, err
	}
	defer rows.Close()

	var records []datamodel.LineKPIRecord
	for rows.Next() {
		var record datamodel.LineKPIRecord
		err = rows.Scan(
			&record.Timestamp,
			&record.LineID,
			&record.DevicesTotal,
			&record.DevicesOnline,
			&record.DevicesWarning,
			&record.DevicesError,
			&record.DevicesOffline,
			&record.AvgTemperature,
			&record.TotalProductionRate)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// LatestLineKPI returns the most recent rollup per line across the plant.
func (s *Store) LatestLineKPI(ctx context.Context, lineID string) (*datamodel.LineKPIRecord, error) {
	sqlStatement := `
		SELECT timestamp, line_id, devices_total, devices_online, devices_warning, devices_error, devices_offline, avg_temperature, total_production_rate
		FROM line_kpis
		WHERE line_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`

	var record datamodel.LineKPIRecord
	err := s.db.QueryRow(ctx, sqlStatement, lineID).Scan(
		&record.Timestamp,
		&record.LineID,
		&record.DevicesTotal,
		&record.DevicesOnline,
		&record.DevicesWarning,
		&record.DevicesError,
		&record.DevicesOffline,
		&record.AvgTemperature,
		&record.TotalProductionRate)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func scanStatusChanges(rows pgx.Rows) ([]datamodel.StatusChangeRecord, error) {
	var records []datamodel.StatusChangeRecord
	for rows.Next() {
		var record datamodel.StatusChangeRecord
		var deviceType, newState string
		var previous *string
		err := rows.Scan(
			&record.Timestamp,
			&record.DeviceID,
			&record.LineID,
			&deviceType,
			&previous,
			&newState,
			&record.Reason,
			&record.Temperature,
			&record.ErrorCode,
			&record.MinutesSinceUpdate)
		if err != nil {
			return nil, err
		}
		record.DeviceType = datamodel.DeviceType(deviceType)
		record.NewState = datamodel.HealthState(newState)
		if previous != nil {
			state := datamodel.HealthState(*previous)
			record.PreviousState = &state
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
