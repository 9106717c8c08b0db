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
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

func createMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create mock connection: %v", err)
	}
	return &Store{db: mock}, mock
}

func TestSaveStatusChange(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	previous := datamodel.HealthOnline
	errorCode := 7
	record := &datamodel.StatusChangeRecord{
		DeviceID:      "Press1",
		LineID:        "Line1",
		DeviceType:    datamodel.DeviceTypePress,
		Timestamp:     time.Now(),
		PreviousState: &previous,
		NewState:      datamodel.HealthError,
		Reason:        "Device reports error code 7",
		ErrorCode:     &errorCode,
	}

	mock.ExpectExec(`INSERT INTO status_changes`).
		WithArgs(
			record.Timestamp,
			"Press1",
			"Line1",
			"Press",
			stringPtr("online"),
			"error",
			record.Reason,
			nilFloat,
			&errorCode,
			nilFloat).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveStatusChange(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveErrorEvent(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	record := &datamodel.ErrorEventRecord{
		LineID:      "Line1",
		ErrorCount:  6,
		ActionTaken: datamodel.ActionStopAndReset,
		Reason:      "Line Line1 reported 6 errors (max code 909)",
		Timestamp:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO error_events`).
		WithArgs(record.Timestamp, "", "Line1", 0, 6, "StopAndReset", record.Reason).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveErrorEvent(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLineKPIs(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	record := &datamodel.LineKPIRecord{
		LineID:              "Line1",
		Timestamp:           time.Now(),
		DevicesTotal:        4,
		DevicesOnline:       3,
		DevicesWarning:      1,
		AvgTemperature:      71.5,
		TotalProductionRate: 260,
	}

	mock.ExpectExec(`INSERT INTO line_kpis`).
		WithArgs(record.Timestamp, "Line1", 4, 3, 1, 0, 0, 71.5, 260.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveLineKPIs(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusHistoryScansNullableColumns(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	now := time.Now()
	temperature := 84.0
	columns := []string{
		"timestamp", "device_id", "line_id", "device_type", "previous_state",
		"new_state", "reason", "temperature", "error_code", "minutes_since_update"}

	mock.ExpectQuery(`SELECT (.+) FROM status_changes`).
		WithArgs("Press1", now.Add(-time.Hour), now).
		WillReturnRows(mock.NewRows(columns).
			AddRow(now, "Press1", "Line1", "Press", nilString, "online", "Initial state", nilFloat, nilInt, nilFloat).
			AddRow(now.Add(-time.Minute), "Press1", "Line1", "Press", stringPtr("online"), "warning", "Average temperature 84°C exceeds 80°C", &temperature, nilInt, nilFloat))

	records, err := store.StatusHistory(context.Background(), "Press1", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Nil(t, records[0].PreviousState)
	assert.Equal(t, datamodel.HealthOnline, records[0].NewState)
	assert.Equal(t, datamodel.DeviceTypePress, records[0].DeviceType)

	require.NotNil(t, records[1].PreviousState)
	assert.Equal(t, datamodel.HealthOnline, *records[1].PreviousState)
	assert.Equal(t, datamodel.HealthWarning, records[1].NewState)
	require.NotNil(t, records[1].Temperature)
	assert.Equal(t, 84.0, *records[1].Temperature)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorEventsQuery(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	now := time.Now()
	errorCode := 42
	columns := []string{"timestamp", "device_id", "line_id", "error_code", "error_count", "action_taken", "reason"}

	mock.ExpectQuery(`SELECT (.+) FROM error_events`).
		WithArgs("Line1", now.Add(-time.Hour), now).
		WillReturnRows(mock.NewRows(columns).
			AddRow(now, "Conv2", "Line1", errorCode, 0, "SensorDiagnostic", "Sensor failure on Conv2"))

	records, err := store.ErrorEvents(context.Background(), "Line1", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Conv2", records[0].DeviceID)
	assert.Equal(t, datamodel.ActionSensorDiagnostic, records[0].ActionTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestLineKPI(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	now := time.Now()
	columns := []string{
		"timestamp", "line_id", "devices_total", "devices_online", "devices_warning",
		"devices_error", "devices_offline", "avg_temperature", "total_production_rate"}

	mock.ExpectQuery(`SELECT (.+) FROM line_kpis`).
		WithArgs("Line1").
		WillReturnRows(mock.NewRows(columns).AddRow(now, "Line1", 4, 4, 0, 0, 0, 65.0, 300.0))

	record, err := store.LatestLineKPI(context.Background(), "Line1")
	require.NoError(t, err)
	assert.Equal(t, 4, record.DevicesOnline)
	assert.InDelta(t, 300.0, record.TotalProductionRate, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSchemaRunsAllStatements(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS status_changes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_status_changes_device`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_status_changes_line`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS error_events`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_error_events_line`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS line_kpis`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_line_kpis_line`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err := store.CreateSchema(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneExpired(t *testing.T) {
	store, mock := createMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM status_changes`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`DELETE FROM error_events`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM line_kpis`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 3))

	err := store.PruneExpired(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var (
	nilString *string
	nilFloat  *float64
	nilInt    *int
)

func stringPtr(s string) *string { return &s }
