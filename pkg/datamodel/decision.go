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

// Action is the remediation intent derived from an alert. The set is closed;
// the dispatcher maps every action onto a device command (or a no-op).
type Action string

const (
	ActionNone                  Action = ""
	ActionEmergencyStop         Action = "EmergencyStop"
	ActionReduceLoad            Action = "ReduceLoad"
	ActionOptimizeLoad          Action = "OptimizeLoad"
	ActionStopAndReset          Action = "StopAndReset"
	ActionCompensate            Action = "Compensate"
	ActionReset                 Action = "Reset"
	ActionInvestigateAndBoost   Action = "InvestigateAndBoost"
	ActionBalance               Action = "Balance"
	ActionQualityInvestigation  Action = "QualityInvestigation"
	ActionQualityAdjustment     Action = "QualityAdjustment"
	ActionCompressorMaintenance Action = "CompressorMaintenance"
	ActionIncreaseCompression   Action = "IncreaseCompression"
	ActionReducePressure        Action = "ReducePressure"
	ActionAdjustSpeed           Action = "AdjustSpeed"
	ActionReduceSpeed           Action = "ReduceSpeed"
	ActionMonitor               Action = "Monitor"
	ActionPowerFailureProtocol  Action = "PowerFailureProtocol"
	ActionSensorDiagnostic      Action = "SensorDiagnostic"
	ActionDiagnosticScan        Action = "DiagnosticScan"
	ActionImmediateReset        Action = "ImmediateReset"
)

// Urgency orders decisions by how fast they must reach the device.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// Rank maps an urgency onto a comparable integer, Critical being highest.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// Decision is the classified outcome for one alert. It is created fresh per
// alert, never mutated afterwards and never persisted.
type Decision struct {
	DeviceID          string           `json:"deviceId"`
	LineID            string           `json:"lineId"`
	AlertType         AlertType        `json:"alertType"`
	Severity          int              `json:"severity"`
	RecommendedAction Action           `json:"recommendedAction"`
	Urgency           Urgency          `json:"urgency"`
	Reason            string           `json:"reason"`
	AffectedDevices   []string         `json:"affectedDevices"`
	Parameters        ActionParameters `json:"parameters"`
	AlertID           string           `json:"alertId,omitempty"`
}

// HasAction reports whether classification found any threshold match.
// A decision without action is a valid no-op, not an error.
func (d *Decision) HasAction() bool {
	return d.RecommendedAction != ActionNone && d.RecommendedAction != ActionMonitor
}
