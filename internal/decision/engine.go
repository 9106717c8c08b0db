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

// Package decision classifies alerts into remediation decisions. Every
// function here is pure: no I/O, no shared state, safe for unrestricted
// concurrent use. Callers resolve device metadata and line membership first
// and pass them in.
package decision

import (
	"fmt"

	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// Classification thresholds. These encode plant operating policy, not
// physics; changing them changes which alerts escalate.
const (
	TemperatureEmergency = 95.0
	TemperatureReduce    = 90.0
	TemperatureOptimize  = 85.0

	ErrorCountStop       = 5
	ErrorCountCompensate = 3

	ProductionRateInvestigate = 20.0
	ProductionRateBalance     = 40.0

	PressureEmergency = 100.0
	PressureReduce    = 85.0

	ConveyorSpeedLow  = 10.0
	ConveyorSpeedHigh = 50.0

	PassRateInvestigate = 70.0
	PassRateAdjust      = 90.0

	CompressorPressureDrop = 20.0
	CompressorOutputLow    = 80.0
)

// Target values carried on the corresponding actions.
const (
	targetReductionHigh   = 30.0
	targetReductionMedium = 15.0
	compensationRate      = 20.0
	boostTarget           = 60.0
	balanceTarget         = 55.0
	targetPressurePress   = 75.0
	targetSpeedLow        = 20.0
	targetSpeedHigh       = 40.0
	targetPassRate        = 95.0
	targetPressureComp    = 90.0
)

// DeviceContext is the resolved environment of a device alert: its inferred
// type and the member devices of its owning line, in physical line order.
type DeviceContext struct {
	DeviceType  datamodel.DeviceType
	LineMembers []string
}

// ClassifyDeviceAlert turns a telemetry alert into a decision. An alert
// matching no threshold yields a decision with no action and Low urgency,
// which the dispatcher treats as a no-op.
func ClassifyDeviceAlert(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	switch alert.AlertType {
	case datamodel.AlertTypeTemperature:
		return evaluateTemperature(alert, dctx)
	case datamodel.AlertTypeErrorCount:
		return evaluateErrorCount(alert, dctx)
	case datamodel.AlertTypeProductionRate:
		return evaluateProductionRate(alert, dctx)
	case datamodel.AlertTypeDeviceSpecific:
		return evaluateDeviceSpecific(alert, dctx)
	}
	d := base(alert)
	d.Reason = fmt.Sprintf("Unrecognized alert type %q", alert.AlertType)
	return d
}

// ClassifyCriticalAlert maps a structured critical error onto a decision.
// Flags are checked in fixed priority order; an emergency stop or power
// failure affects the whole owning line, everything else stays device-local.
func ClassifyCriticalAlert(alert *datamodel.CriticalErrorAlert, lineMembers []string) datamodel.Decision {
	d := datamodel.Decision{
		DeviceID:  alert.DeviceID,
		LineID:    alert.LineID,
		AlertType: datamodel.AlertTypeCritical,
		Urgency:   datamodel.UrgencyLow,
		AlertID:   alert.AlertID,
	}

	switch {
	case alert.HasEmergencyStop == 1:
		d.RecommendedAction = datamodel.ActionEmergencyStop
		d.Urgency = datamodel.UrgencyCritical
		d.Reason = fmt.Sprintf("Device %s triggered emergency stop (error %d)", alert.DeviceID, alert.DeviceError)
		d.AffectedDevices = lineWide(lineMembers, alert.DeviceID)
	case alert.HasPowerFailure == 1:
		d.RecommendedAction = datamodel.ActionPowerFailureProtocol
		d.Urgency = datamodel.UrgencyCritical
		d.Reason = fmt.Sprintf("Device %s reported power failure (error %d)", alert.DeviceID, alert.DeviceError)
		d.AffectedDevices = lineWide(lineMembers, alert.DeviceID)
	case alert.HasSensorFailure == 1:
		d.RecommendedAction = datamodel.ActionSensorDiagnostic
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Device %s reported sensor failure (error %d)", alert.DeviceID, alert.DeviceError)
		d.AffectedDevices = []string{alert.DeviceID}
	case alert.HasUnknownError == 1:
		d.RecommendedAction = datamodel.ActionDiagnosticScan
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Device %s reported an unknown error (error %d)", alert.DeviceID, alert.DeviceError)
		d.AffectedDevices = []string{alert.DeviceID}
	default:
		d.RecommendedAction = datamodel.ActionImmediateReset
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Unclassified critical error %d on device %s, attempting immediate reset", alert.DeviceError, alert.DeviceID)
		d.AffectedDevices = []string{alert.DeviceID}
	}
	return d
}

// ClassifyLineAlert runs an aggregated line error report through the
// error-count ladder. The decision always spans the full line membership,
// the alert itself names no single device.
func ClassifyLineAlert(alert *datamodel.LineErrorAlert, lineMembers []string) datamodel.Decision {
	d := datamodel.Decision{
		LineID:          alert.LineID,
		AlertType:       datamodel.AlertTypeLineError,
		Urgency:         datamodel.UrgencyLow,
		AffectedDevices: append([]string(nil), lineMembers...),
		Parameters: datamodel.ActionParameters{
			ErrorCount:   datamodel.Int(alert.ErrorCount),
			MaxErrorCode: datamodel.Int(alert.MaxErrorCode),
		},
		AlertID: alert.AlertID,
	}

	switch {
	case alert.ErrorCount > ErrorCountStop:
		d.RecommendedAction = datamodel.ActionStopAndReset
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Line %s reported %d errors (max code %d), stopping for reset", alert.LineID, alert.ErrorCount, alert.MaxErrorCode)
	case alert.ErrorCount > ErrorCountCompensate:
		d.RecommendedAction = datamodel.ActionCompensate
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Line %s reported %d errors (max code %d), compensating on the line", alert.LineID, alert.ErrorCount, alert.MaxErrorCode)
		d.Parameters.CompensationRate = datamodel.Float(compensationRate)
	default:
		// Validation rejects non-positive counts before this point.
		d.RecommendedAction = datamodel.ActionReset
		d.Reason = fmt.Sprintf("Line %s reported %d errors (max code %d), resetting", alert.LineID, alert.ErrorCount, alert.MaxErrorCode)
	}
	return d
}

func evaluateTemperature(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.Temperature > TemperatureEmergency:
		d.RecommendedAction = datamodel.ActionEmergencyStop
		d.Urgency = datamodel.UrgencyCritical
		d.Reason = fmt.Sprintf("Temperature %.1f°C exceeds emergency threshold %.0f°C", alert.Temperature, TemperatureEmergency)
		d.AffectedDevices = []string{alert.DeviceID}
	case alert.Temperature > TemperatureReduce:
		d.RecommendedAction = datamodel.ActionReduceLoad
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Temperature %.1f°C exceeds %.0f°C, reducing line load", alert.Temperature, TemperatureReduce)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.TargetReduction = datamodel.Float(targetReductionHigh)
	case alert.Temperature > TemperatureOptimize:
		d.RecommendedAction = datamodel.ActionOptimizeLoad
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Temperature %.1f°C exceeds %.0f°C, optimizing line load", alert.Temperature, TemperatureOptimize)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.TargetReduction = datamodel.Float(targetReductionMedium)
	default:
		d.Reason = fmt.Sprintf("Temperature %.1f°C within thresholds", alert.Temperature)
	}
	return d
}

func evaluateErrorCount(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.ErrorCount > ErrorCountStop:
		d.RecommendedAction = datamodel.ActionStopAndReset
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Device %s accumulated %d errors, stopping for reset", alert.DeviceID, alert.ErrorCount)
		d.AffectedDevices = []string{alert.DeviceID}
	case alert.ErrorCount > ErrorCountCompensate:
		d.RecommendedAction = datamodel.ActionCompensate
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Device %s accumulated %d errors, compensating on the line", alert.DeviceID, alert.ErrorCount)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.CompensationRate = datamodel.Float(compensationRate)
	case alert.ErrorCount > 0:
		d.RecommendedAction = datamodel.ActionReset
		d.Urgency = datamodel.UrgencyLow
		d.Reason = fmt.Sprintf("Device %s reported %d errors, resetting", alert.DeviceID, alert.ErrorCount)
		d.AffectedDevices = []string{alert.DeviceID}
	default:
		d.Reason = "Error count is zero"
	}
	return d
}

func evaluateProductionRate(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.ProductionRate < ProductionRateInvestigate:
		d.RecommendedAction = datamodel.ActionInvestigateAndBoost
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Production rate %.1f below %.0f, investigating and boosting line", alert.ProductionRate, ProductionRateInvestigate)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.BoostTarget = datamodel.Float(boostTarget)
		d.Parameters.CurrentRate = datamodel.Float(alert.ProductionRate)
	case alert.ProductionRate < ProductionRateBalance:
		d.RecommendedAction = datamodel.ActionBalance
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Production rate %.1f below %.0f, balancing line", alert.ProductionRate, ProductionRateBalance)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.BalanceTarget = datamodel.Float(balanceTarget)
		d.Parameters.CurrentRate = datamodel.Float(alert.ProductionRate)
	default:
		d.Reason = fmt.Sprintf("Production rate %.1f within thresholds", alert.ProductionRate)
	}
	return d
}

func base(alert *datamodel.DeviceAlert) datamodel.Decision {
	return datamodel.Decision{
		DeviceID:  alert.DeviceID,
		LineID:    alert.LineID,
		AlertType: alert.AlertType,
		Severity:  alert.Severity,
		Urgency:   datamodel.UrgencyLow,
		AlertID:   alert.AlertID,
	}
}

// lineWide returns the full line membership, falling back to the single
// device when membership could not be resolved. A device-directed decision
// never ends up with an empty affected set.
func lineWide(members []string, deviceID string) []string {
	if len(members) > 0 {
		return append([]string(nil), members...)
	}
	return []string{deviceID}
}
