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

package datamodel

import "time"

// HealthState is the derived per-device state the monitor tracks.
type HealthState string

const (
	HealthOnline  HealthState = "online"
	HealthWarning HealthState = "warning"
	HealthError   HealthState = "error"
	HealthOffline HealthState = "offline"
)

// ParseHealthState maps a reported status string onto a known health state.
func ParseHealthState(s string) (HealthState, bool) {
	switch HealthState(s) {
	case HealthOnline, HealthWarning, HealthError, HealthOffline:
		return HealthState(s), true
	}
	return "", false
}

// DeviceType is inferred from the registry entry or the device name pattern.
type DeviceType string

const (
	DeviceTypePress          DeviceType = "Press"
	DeviceTypeConveyor       DeviceType = "Conveyor"
	DeviceTypeQualityStation DeviceType = "QualityStation"
	DeviceTypeCompressor     DeviceType = "Compressor"
	DeviceTypeUnknown        DeviceType = "Unknown"
)

// StatusChangeRecord is the audit document written on every health-state
// transition. PreviousState is nil for the first observation of a device.
// Retention (30 days) is enforced by the storage layer.
type StatusChangeRecord struct {
	DeviceID           string       `json:"deviceId"`
	LineID             string       `json:"lineId"`
	DeviceType         DeviceType   `json:"deviceType"`
	Timestamp          time.Time    `json:"timestamp"`
	PreviousState      *HealthState `json:"previousState,omitempty"`
	NewState           HealthState  `json:"newState"`
	Reason             string       `json:"reason"`
	Temperature        *float64     `json:"temperature,omitempty"`
	ErrorCode          *int         `json:"errorCode,omitempty"`
	MinutesSinceUpdate *float64     `json:"minutesSinceUpdate,omitempty"`
}

// ErrorEventRecord is written for critical and line error alerts, keyed by
// line so line-level events land in the line column, not the device column.
type ErrorEventRecord struct {
	DeviceID    string    `json:"deviceId,omitempty"`
	LineID      string    `json:"lineId"`
	ErrorCode   int       `json:"errorCode,omitempty"`
	ErrorCount  int       `json:"errorCount,omitempty"`
	ActionTaken Action    `json:"actionTaken"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// LineKPIRecord is the per-sweep rollup the monitor writes for each line.
type LineKPIRecord struct {
	LineID              string    `json:"lineId"`
	Timestamp           time.Time `json:"timestamp"`
	DevicesTotal        int       `json:"devicesTotal"`
	DevicesOnline       int       `json:"devicesOnline"`
	DevicesWarning      int       `json:"devicesWarning"`
	DevicesError        int       `json:"devicesError"`
	DevicesOffline      int       `json:"devicesOffline"`
	AvgTemperature      float64   `json:"avgTemperature"`
	TotalProductionRate float64   `json:"totalProductionRate"`
}
