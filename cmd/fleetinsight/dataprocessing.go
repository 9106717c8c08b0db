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

package main

import (
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/healthstate"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// Devices that never reported a maximum rate or a quality percentage get
// full marks, the optimizer then works off the reported rate alone.
const (
	defaultMaxProductionRate = 100.0
	defaultQualityPercentage = 100.0
)

// buildFleetOverview turns the raw twin list into the tabular fleet view,
// one row per device with its currently derived health state.
func buildFleetOverview(twins []registry.DeviceTwin, now time.Time, warningTemperature float64) datamodel.DataResponseAny {
	data := datamodel.DataResponseAny{
		ColumnNames: []string{
			"deviceId",
			"deviceType",
			"lineId",
			"connected",
			"healthState",
			"productionRate",
			"avgTemperature",
			"errorCode",
			"lastUpdated",
		},
		Datapoints: make([][]interface{}, 0, len(twins)),
	}
	for i := range twins {
		twin := &twins[i]
		state := healthstate.Derive(twin.Reported, now, internal.StaleTelemetryAge, warningTemperature)
		data.Datapoints = append(data.Datapoints, []interface{}{
			twin.DeviceID,
			twin.Reported.DeviceType,
			twin.Reported.LineID,
			twin.Connected,
			state,
			twin.Reported.ProductionRate,
			twin.Reported.AvgTemperature,
			twin.Reported.ErrorCode,
			twin.Reported.LastUpdated,
		})
	}
	return data
}

// deviceDetail is the document returned for a single device.
type deviceDetail struct {
	registry.DeviceTwin
	HealthState         datamodel.HealthState          `json:"healthState"`
	RecentStatusChanges []datamodel.StatusChangeRecord `json:"recentStatusChanges"`
}

func buildDeviceDetail(
	twin *registry.DeviceTwin,
	history []datamodel.StatusChangeRecord,
	now time.Time,
	warningTemperature float64) deviceDetail {
	return deviceDetail{
		DeviceTwin:          *twin,
		HealthState:         healthstate.Derive(twin.Reported, now, internal.StaleTelemetryAge, warningTemperature),
		RecentStatusChanges: history,
	}
}

func statusHistoryResponse(rows []datamodel.StatusChangeRecord) datamodel.DataResponseAny {
	data := datamodel.DataResponseAny{
		ColumnNames: []string{
			"timestamp",
			"deviceId",
			"lineId",
			"deviceType",
			"previousState",
			"newState",
			"reason",
			"temperature",
			"errorCode",
			"minutesSinceUpdate",
		},
		Datapoints: make([][]interface{}, 0, len(rows)),
	}
	for i := range rows {
		row := &rows[i]
		data.Datapoints = append(data.Datapoints, []interface{}{
			row.Timestamp,
			row.DeviceID,
			row.LineID,
			row.DeviceType,
			row.PreviousState,
			row.NewState,
			row.Reason,
			row.Temperature,
			row.ErrorCode,
			row.MinutesSinceUpdate,
		})
	}
	return data
}

func errorEventsResponse(rows []datamodel.ErrorEventRecord) datamodel.DataResponseAny {
	data := datamodel.DataResponseAny{
		ColumnNames: []string{
			"timestamp",
			"deviceId",
			"lineId",
			"errorCode",
			"errorCount",
			"actionTaken",
			"reason",
		},
		Datapoints: make([][]interface{}, 0, len(rows)),
	}
	for i := range rows {
		row := &rows[i]
		data.Datapoints = append(data.Datapoints, []interface{}{
			row.Timestamp,
			row.DeviceID,
			row.LineID,
			row.ErrorCode,
			row.ErrorCount,
			row.ActionTaken,
			row.Reason,
		})
	}
	return data
}

func lineKPIResponse(rows []datamodel.LineKPIRecord) datamodel.DataResponseAny {
	data := datamodel.DataResponseAny{
		ColumnNames: []string{
			"timestamp",
			"lineId",
			"devicesTotal",
			"devicesOnline",
			"devicesWarning",
			"devicesError",
			"devicesOffline",
			"avgTemperature",
			"totalProductionRate",
		},
		Datapoints: make([][]interface{}, 0, len(rows)),
	}
	for i := range rows {
		row := &rows[i]
		data.Datapoints = append(data.Datapoints, []interface{}{
			row.Timestamp,
			row.LineID,
			row.DevicesTotal,
			row.DevicesOnline,
			row.DevicesWarning,
			row.DevicesError,
			row.DevicesOffline,
			row.AvgTemperature,
			row.TotalProductionRate,
		})
	}
	return data
}

// lineSnapshot builds the optimizer input for one line. Registry scan order
// is preserved, it matches the physical order of the devices on the line.
func lineSnapshot(
	twins []registry.DeviceTwin,
	lineID string,
	errorCounts map[string]int,
	now time.Time,
	warningTemperature float64) []datamodel.DeviceStatusSnapshot {
	var snapshots []datamodel.DeviceStatusSnapshot
	for i := range twins {
		twin := &twins[i]
		if twin.Reported.LineID != lineID {
			continue
		}

		state := healthstate.Derive(twin.Reported, now, internal.StaleTelemetryAge, warningTemperature)
		quality := twin.Reported.QualityPercentage
		if quality == 0 {
			quality = defaultQualityPercentage
		}
		maxRate := twin.Reported.MaxProductionRate
		if maxRate == 0 {
			maxRate = defaultMaxProductionRate
		}

		snapshots = append(snapshots, datamodel.DeviceStatusSnapshot{
			DeviceID:          twin.DeviceID,
			DeviceType:        directory.TypeFromName(twin.DeviceID),
			IsOnline:          twin.Connected && state != datamodel.HealthOffline,
			ProductionRate:    twin.Reported.ProductionRate,
			QualityPercentage: quality,
			MaxProductionRate: maxRate,
			Temperature:       twin.Reported.AvgTemperature,
			RecentErrorCount:  errorCounts[twin.DeviceID],
		})
	}
	return snapshots
}

// countErrorsByDevice rolls line error events up into per-device counts.
// Events without a device column (line-level errors) are not attributed.
func countErrorsByDevice(events []datamodel.ErrorEventRecord) map[string]int {
	counts := make(map[string]int)
	for i := range events {
		if events[i].DeviceID == "" {
			continue
		}
		counts[events[i].DeviceID] += events[i].ErrorCount
	}
	return counts
}

// lineMembers returns the device ids reported for a line, in scan order.
func lineMembers(twins []registry.DeviceTwin, lineID string) []string {
	var members []string
	for i := range twins {
		if twins[i].Reported.LineID == lineID {
			members = append(members, twins[i].DeviceID)
		}
	}
	return members
}

// balancePlanMessages converts an optimization plan into one Balance message
// per assignment. Keeping the messages per device makes the reactor apply its
// step limit per device, repeated applies converge the line on the plan.
func balancePlanMessages(
	plan *datamodel.LineOptimizationResult,
	snapshots []datamodel.DeviceStatusSnapshot) []datamodel.LineCoordinationMessage {
	currentRates := make(map[string]float64, len(snapshots))
	for i := range snapshots {
		currentRates[snapshots[i].DeviceID] = snapshots[i].ProductionRate
	}

	reason := fmt.Sprintf("Applying optimization plan for line %s", plan.LineID)
	if plan.BottleneckDevice != "" {
		reason = fmt.Sprintf("Applying optimization plan for line %s, bottleneck %s", plan.LineID, plan.BottleneckDevice)
	}

	messages := make([]datamodel.LineCoordinationMessage, 0, len(plan.Assignments))
	for _, assignment := range plan.Assignments {
		messages = append(messages, datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationBalance,
			LineID:          plan.LineID,
			AffectedDevices: []string{assignment.DeviceID},
			Parameters: datamodel.ActionParameters{
				TargetDevice:  assignment.DeviceID,
				BalanceTarget: datamodel.Float(assignment.TargetRate),
				CurrentRate:   datamodel.Float(currentRates[assignment.DeviceID]),
			},
			Reason: reason,
		})
	}
	return messages
}

// resetLineMessage builds the coordination message for a manual line reset.
func resetLineMessage(lineID string, members []string) datamodel.LineCoordinationMessage {
	return datamodel.LineCoordinationMessage{
		Action:          datamodel.CoordinationReset,
		LineID:          lineID,
		AffectedDevices: members,
		Reason:          "Operator requested line reset",
	}
}
