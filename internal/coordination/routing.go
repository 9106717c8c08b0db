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

package coordination

import (
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// RouteDecision translates a line-scoped decision into a coordination
// message for the line-coordination channel. Device-scoped decisions return
// false and go to the dispatcher directly.
//
// An emergency stop only fans out line-wide when it came from a critical
// alert; a temperature emergency stop concerns the one device.
func RouteDecision(d *datamodel.Decision) (*datamodel.LineCoordinationMessage, bool) {
	switch d.RecommendedAction {
	case datamodel.ActionEmergencyStop, datamodel.ActionPowerFailureProtocol:
		if d.AlertType != datamodel.AlertTypeCritical {
			return nil, false
		}
		return &datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationEmergencyStop,
			LineID:          d.LineID,
			AffectedDevices: d.AffectedDevices,
			Parameters:      d.Parameters,
			Reason:          d.Reason,
			AlertID:         d.AlertID,
		}, true

	case datamodel.ActionReduceLoad, datamodel.ActionOptimizeLoad:
		params := d.Parameters
		params.Mode = datamodel.OptimizeModeReduceLoad
		params.TargetDevice = d.DeviceID
		return &datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationOptimize,
			LineID:          d.LineID,
			AffectedDevices: d.AffectedDevices,
			Parameters:      params,
			Reason:          d.Reason,
			AlertID:         d.AlertID,
		}, true

	case datamodel.ActionCompensate:
		params := d.Parameters
		params.Mode = datamodel.OptimizeModeCompensate
		params.TargetDevice = d.DeviceID
		return &datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationOptimize,
			LineID:          d.LineID,
			AffectedDevices: d.AffectedDevices,
			Parameters:      params,
			Reason:          d.Reason,
			AlertID:         d.AlertID,
		}, true

	case datamodel.ActionReset:
		// A reset from the device error ladder concerns one device and
		// dispatches directly; only line alerts reset line-wide.
		if d.AlertType != datamodel.AlertTypeLineError {
			return nil, false
		}
		return &datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationReset,
			LineID:          d.LineID,
			AffectedDevices: d.AffectedDevices,
			Parameters:      d.Parameters,
			Reason:          d.Reason,
			AlertID:         d.AlertID,
		}, true

	case datamodel.ActionBalance, datamodel.ActionInvestigateAndBoost:
		params := d.Parameters
		params.TargetDevice = d.DeviceID
		return &datamodel.LineCoordinationMessage{
			Action:          datamodel.CoordinationBalance,
			LineID:          d.LineID,
			AffectedDevices: d.AffectedDevices,
			Parameters:      params,
			Reason:          d.Reason,
			AlertID:         d.AlertID,
		}, true
	}

	return nil, false
}
