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

package decision

import (
	"fmt"

	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// deviceEvaluator classifies the device-specific alert flavor for one device
// type. One implementation per member of the device-type set keeps all rules
// for a device in one place instead of spread over type switches.
type deviceEvaluator interface {
	Evaluate(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision
}

var deviceEvaluators = map[datamodel.DeviceType]deviceEvaluator{
	datamodel.DeviceTypePress:          pressEvaluator{},
	datamodel.DeviceTypeConveyor:       conveyorEvaluator{},
	datamodel.DeviceTypeQualityStation: qualityStationEvaluator{},
	datamodel.DeviceTypeCompressor:     compressorEvaluator{},
}

func evaluateDeviceSpecific(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	if evaluator, ok := deviceEvaluators[dctx.DeviceType]; ok {
		return evaluator.Evaluate(alert, dctx)
	}

	d := base(alert)
	d.RecommendedAction = datamodel.ActionMonitor
	d.Urgency = datamodel.UrgencyLow
	d.Reason = fmt.Sprintf("No evaluator for device type %q, monitoring", dctx.DeviceType)
	d.AffectedDevices = []string{alert.DeviceID}
	return d
}

type pressEvaluator struct{}

func (pressEvaluator) Evaluate(alert *datamodel.DeviceAlert, _ DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.Pressure > PressureEmergency:
		d.RecommendedAction = datamodel.ActionEmergencyStop
		d.Urgency = datamodel.UrgencyCritical
		d.Reason = fmt.Sprintf("Press pressure %.1f bar exceeds emergency threshold %.0f bar", alert.Pressure, PressureEmergency)
		d.AffectedDevices = []string{alert.DeviceID}
	case alert.Pressure > PressureReduce:
		d.RecommendedAction = datamodel.ActionReducePressure
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Press pressure %.1f bar exceeds %.0f bar, reducing", alert.Pressure, PressureReduce)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.TargetPressure = datamodel.Float(targetPressurePress)
	default:
		d.Reason = fmt.Sprintf("Press pressure %.1f bar within thresholds", alert.Pressure)
	}
	return d
}

type conveyorEvaluator struct{}

func (conveyorEvaluator) Evaluate(alert *datamodel.DeviceAlert, _ DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.Speed < ConveyorSpeedLow:
		d.RecommendedAction = datamodel.ActionAdjustSpeed
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Conveyor speed %.1f below %.0f, adjusting up", alert.Speed, ConveyorSpeedLow)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.TargetSpeed = datamodel.Float(targetSpeedLow)
	case alert.Speed > ConveyorSpeedHigh:
		d.RecommendedAction = datamodel.ActionReduceSpeed
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Conveyor speed %.1f above %.0f, reducing", alert.Speed, ConveyorSpeedHigh)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.TargetSpeed = datamodel.Float(targetSpeedHigh)
	default:
		d.Reason = fmt.Sprintf("Conveyor speed %.1f within thresholds", alert.Speed)
	}
	return d
}

type qualityStationEvaluator struct{}

func (qualityStationEvaluator) Evaluate(alert *datamodel.DeviceAlert, dctx DeviceContext) datamodel.Decision {
	d := base(alert)
	switch {
	case alert.PassRate < PassRateInvestigate:
		d.RecommendedAction = datamodel.ActionQualityInvestigation
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Pass rate %.1f%% below %.0f%%, investigating line", alert.PassRate, PassRateInvestigate)
		d.AffectedDevices = lineWide(dctx.LineMembers, alert.DeviceID)
		d.Parameters.TargetPassRate = datamodel.Float(targetPassRate)
	case alert.PassRate < PassRateAdjust:
		d.RecommendedAction = datamodel.ActionQualityAdjustment
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Pass rate %.1f%% below %.0f%%, adjusting station", alert.PassRate, PassRateAdjust)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.TargetPassRate = datamodel.Float(targetPassRate)
	default:
		d.Reason = fmt.Sprintf("Pass rate %.1f%% within thresholds", alert.PassRate)
	}
	return d
}

type compressorEvaluator struct{}

func (compressorEvaluator) Evaluate(alert *datamodel.DeviceAlert, _ DeviceContext) datamodel.Decision {
	d := base(alert)
	drop := alert.SystemPressure - alert.OutputPressure
	switch {
	case drop > CompressorPressureDrop:
		d.RecommendedAction = datamodel.ActionCompressorMaintenance
		d.Urgency = datamodel.UrgencyHigh
		d.Reason = fmt.Sprintf("Compressor pressure drop %.1f bar (system %.1f, output %.1f) exceeds %.0f bar", drop, alert.SystemPressure, alert.OutputPressure, CompressorPressureDrop)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.SystemPressure = datamodel.Float(alert.SystemPressure)
		d.Parameters.OutputPressure = datamodel.Float(alert.OutputPressure)
	case alert.OutputPressure < CompressorOutputLow:
		d.RecommendedAction = datamodel.ActionIncreaseCompression
		d.Urgency = datamodel.UrgencyMedium
		d.Reason = fmt.Sprintf("Compressor output %.1f bar below %.0f bar, increasing compression", alert.OutputPressure, CompressorOutputLow)
		d.AffectedDevices = []string{alert.DeviceID}
		d.Parameters.TargetPressure = datamodel.Float(targetPressureComp)
	default:
		d.Reason = fmt.Sprintf("Compressor output %.1f bar within thresholds", alert.OutputPressure)
	}
	return d
}
