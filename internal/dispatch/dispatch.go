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

// Package dispatch turns decisions into concrete per-device commands and,
// for safety-relevant commands, invokes them directly against the registry.
package dispatch

import (
	"time"

	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

var (
	CommandsGenerated  = float64(0)
	DirectInvocations  = float64(0)
	InvocationsSkipped = float64(0)
	InvocationsFailed  = float64(0)
)

// commandFor maps a recommended action onto the command a device actually
// understands. Actions without a mapping are no-ops.
func commandFor(action datamodel.Action) (datamodel.CommandName, bool) {
	switch action {
	case datamodel.ActionEmergencyStop, datamodel.ActionPowerFailureProtocol:
		return datamodel.CommandEmergencyStop, true
	case datamodel.ActionSensorDiagnostic, datamodel.ActionImmediateReset, datamodel.ActionStopAndReset:
		return datamodel.CommandResetErrorStatus, true
	case datamodel.ActionDiagnosticScan, datamodel.ActionQualityInvestigation:
		return datamodel.CommandRunDiagnostics, true
	case datamodel.ActionReduceLoad, datamodel.ActionOptimizeLoad, datamodel.ActionCompensate,
		datamodel.ActionInvestigateAndBoost, datamodel.ActionBalance:
		return datamodel.CommandAdjustProductionRate, true
	case datamodel.ActionAdjustSpeed, datamodel.ActionReduceSpeed:
		return datamodel.CommandAdjustSpeed, true
	case datamodel.ActionReducePressure, datamodel.ActionIncreaseCompression:
		return datamodel.CommandAdjustPressure, true
	case datamodel.ActionQualityAdjustment:
		return datamodel.CommandCalibrate, true
	case datamodel.ActionCompressorMaintenance:
		return datamodel.CommandScheduleMaintenance, true
	case datamodel.ActionReset:
		return datamodel.CommandReset, true
	}
	return "", false
}

// Commands expands a decision into one command per affected device. A
// decision without a mapped action yields no commands, which is a valid
// outcome, not an error.
func Commands(decision *datamodel.Decision, sender string) []datamodel.Command {
	name, ok := commandFor(decision.RecommendedAction)
	if !ok {
		return nil
	}

	synchronous := name == datamodel.CommandEmergencyStop
	commands := make([]datamodel.Command, 0, len(decision.AffectedDevices))
	for _, deviceID := range decision.AffectedDevices {
		commands = append(commands, datamodel.Command{
			TargetDevice: deviceID,
			CommandName:  name,
			Parameters:   decision.Parameters,
			Reason:       decision.Reason,
			Sender:       sender,
			Synchronous:  synchronous,
			IssuedAt:     time.Now(),
			AlertID:      decision.AlertID,
		})
	}
	CommandsGenerated += float64(len(commands))
	return commands
}

// timeoutFor picks the per-call deadline. Safety commands must answer fast
// or not at all, production adjustments are queued on the device and may
// take longer to acknowledge.
func timeoutFor(name datamodel.CommandName) time.Duration {
	switch name {
	case datamodel.CommandEmergencyStop, datamodel.CommandResetErrorStatus, datamodel.CommandReset:
		return internal.SafetyCommandTimeout
	}
	return internal.ProductionCommandTimeout
}
