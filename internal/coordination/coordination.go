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

// Package coordination spreads line-scoped actions over the member devices
// of a production line. It owns the rate targets a line converges to when
// one device overheats, misbehaves or falls behind.
package coordination

import (
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// Per-device rate targets for the coordination modes. The named device is
// the one the triggering alert pointed at, the others pick up the slack.
const (
	ReduceLoadNamedRate  = 40.0
	ReduceLoadOthersRate = 65.0

	CompensateNamedRate  = 45.0
	CompensateOthersRate = 70.0

	BalanceStepLimit    = 15.0
	BalanceOthersOffset = 5.0
)

// Route expands a line coordination message into per-device commands.
// Unknown actions yield no commands; the caller logs and drops.
func Route(msg *datamodel.LineCoordinationMessage) []datamodel.Command {
	switch msg.Action {
	case datamodel.CoordinationEmergencyStop:
		return routeEmergencyStop(msg)
	case datamodel.CoordinationOptimize:
		return routeOptimize(msg)
	case datamodel.CoordinationBalance:
		return routeBalance(msg)
	case datamodel.CoordinationReset:
		return routeReset(msg)
	}
	return nil
}

func routeEmergencyStop(msg *datamodel.LineCoordinationMessage) []datamodel.Command {
	commands := make([]datamodel.Command, 0, len(msg.AffectedDevices))
	for _, deviceID := range msg.AffectedDevices {
		commands = append(commands, datamodel.Command{
			TargetDevice: deviceID,
			CommandName:  datamodel.CommandEmergencyStop,
			Reason:       fmt.Sprintf("Line %s emergency stop: %s", msg.LineID, msg.Reason),
			Sender:       datamodel.SenderLineCoordinator,
			Synchronous:  true,
			IssuedAt:     time.Now(),
			AlertID:      msg.AlertID,
		})
	}
	return commands
}

func routeOptimize(msg *datamodel.LineCoordinationMessage) []datamodel.Command {
	var namedRate, othersRate float64
	switch msg.Parameters.Mode {
	case datamodel.OptimizeModeCompensate:
		namedRate, othersRate = CompensateNamedRate, CompensateOthersRate
	default:
		namedRate, othersRate = ReduceLoadNamedRate, ReduceLoadOthersRate
	}

	namedDevice := msg.Parameters.TargetDevice
	commands := make([]datamodel.Command, 0, len(msg.AffectedDevices))
	for _, deviceID := range msg.AffectedDevices {
		rate := othersRate
		reason := fmt.Sprintf("Line %s optimization, raising rate to compensate: %s", msg.LineID, msg.Reason)
		if deviceID == namedDevice {
			rate = namedRate
			reason = fmt.Sprintf("Line %s optimization, cutting rate on affected device: %s", msg.LineID, msg.Reason)
		}
		commands = append(commands, datamodel.Command{
			TargetDevice: deviceID,
			CommandName:  datamodel.CommandAdjustProductionRate,
			Parameters:   datamodel.ActionParameters{TargetRate: datamodel.Float(rate)},
			Reason:       reason,
			Sender:       datamodel.SenderLineCoordinator,
			IssuedAt:     time.Now(),
			AlertID:      msg.AlertID,
		})
	}
	return commands
}

// routeBalance boosts the slow device toward the balance target without
// jumping more than BalanceStepLimit in one cycle. Everyone else backs off
// slightly below the target so the line re-converges.
func routeBalance(msg *datamodel.LineCoordinationMessage) []datamodel.Command {
	target := 0.0
	if msg.Parameters.BalanceTarget != nil {
		target = *msg.Parameters.BalanceTarget
	} else if msg.Parameters.BoostTarget != nil {
		target = *msg.Parameters.BoostTarget
	}
	current := 0.0
	if msg.Parameters.CurrentRate != nil {
		current = *msg.Parameters.CurrentRate
	}

	namedRate := current + BalanceStepLimit
	if namedRate > target {
		namedRate = target
	}
	othersRate := target - BalanceOthersOffset

	namedDevice := msg.Parameters.TargetDevice
	commands := make([]datamodel.Command, 0, len(msg.AffectedDevices))
	for _, deviceID := range msg.AffectedDevices {
		rate := othersRate
		reason := fmt.Sprintf("Line %s balancing toward %.0f: %s", msg.LineID, target, msg.Reason)
		if deviceID == namedDevice {
			rate = namedRate
			reason = fmt.Sprintf("Line %s balancing, stepping slow device toward %.0f: %s", msg.LineID, target, msg.Reason)
		}
		commands = append(commands, datamodel.Command{
			TargetDevice: deviceID,
			CommandName:  datamodel.CommandAdjustProductionRate,
			Parameters:   datamodel.ActionParameters{TargetRate: datamodel.Float(rate)},
			Reason:       reason,
			Sender:       datamodel.SenderLineCoordinator,
			IssuedAt:     time.Now(),
			AlertID:      msg.AlertID,
		})
	}
	return commands
}

func routeReset(msg *datamodel.LineCoordinationMessage) []datamodel.Command {
	commands := make([]datamodel.Command, 0, len(msg.AffectedDevices))
	for _, deviceID := range msg.AffectedDevices {
		commands = append(commands, datamodel.Command{
			TargetDevice: deviceID,
			CommandName:  datamodel.CommandReset,
			Reason:       fmt.Sprintf("Line %s reset: %s", msg.LineID, msg.Reason),
			Sender:       datamodel.SenderLineCoordinator,
			IssuedAt:     time.Now(),
			AlertID:      msg.AlertID,
		})
	}
	return commands
}
