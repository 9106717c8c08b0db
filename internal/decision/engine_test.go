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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

var line1Members = []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}

func line1Context(deviceType datamodel.DeviceType) DeviceContext {
	return DeviceContext{DeviceType: deviceType, LineMembers: line1Members}
}

func deviceAlert(alertType datamodel.AlertType) datamodel.DeviceAlert {
	return datamodel.DeviceAlert{
		DeviceID:  "Press1",
		LineID:    "Line1",
		AlertType: alertType,
		Severity:  2,
	}
}

func TestClassifyTemperature(t *testing.T) {
	tests := []struct {
		temperature     float64
		action          datamodel.Action
		urgency         datamodel.Urgency
		affected        []string
		targetReduction *float64
	}{
		{97, datamodel.ActionEmergencyStop, datamodel.UrgencyCritical, []string{"Press1"}, nil},
		{95.1, datamodel.ActionEmergencyStop, datamodel.UrgencyCritical, []string{"Press1"}, nil},
		{95, datamodel.ActionReduceLoad, datamodel.UrgencyHigh, line1Members, datamodel.Float(30)},
		{92, datamodel.ActionReduceLoad, datamodel.UrgencyHigh, line1Members, datamodel.Float(30)},
		{90.1, datamodel.ActionReduceLoad, datamodel.UrgencyHigh, line1Members, datamodel.Float(30)},
		{90, datamodel.ActionOptimizeLoad, datamodel.UrgencyMedium, line1Members, datamodel.Float(15)},
		{87, datamodel.ActionOptimizeLoad, datamodel.UrgencyMedium, line1Members, datamodel.Float(15)},
		{85, datamodel.ActionNone, datamodel.UrgencyLow, nil, nil},
		{60, datamodel.ActionNone, datamodel.UrgencyLow, nil, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.temperature), func(t *testing.T) {
			alert := deviceAlert(datamodel.AlertTypeTemperature)
			alert.Temperature = tt.temperature

			d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
			assert.Equal(t, tt.action, d.RecommendedAction)
			assert.Equal(t, tt.urgency, d.Urgency)
			assert.Equal(t, tt.affected, d.AffectedDevices)
			assert.Equal(t, tt.targetReduction, d.Parameters.TargetReduction)
		})
	}
}

func TestClassifyErrorCount(t *testing.T) {
	tests := []struct {
		errorCount int
		action     datamodel.Action
		urgency    datamodel.Urgency
		affected   []string
	}{
		{8, datamodel.ActionStopAndReset, datamodel.UrgencyHigh, []string{"Press1"}},
		{6, datamodel.ActionStopAndReset, datamodel.UrgencyHigh, []string{"Press1"}},
		{5, datamodel.ActionCompensate, datamodel.UrgencyMedium, line1Members},
		{4, datamodel.ActionCompensate, datamodel.UrgencyMedium, line1Members},
		{3, datamodel.ActionReset, datamodel.UrgencyLow, []string{"Press1"}},
		{1, datamodel.ActionReset, datamodel.UrgencyLow, []string{"Press1"}},
		{0, datamodel.ActionNone, datamodel.UrgencyLow, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.errorCount), func(t *testing.T) {
			alert := deviceAlert(datamodel.AlertTypeErrorCount)
			alert.ErrorCount = tt.errorCount

			d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
			assert.Equal(t, tt.action, d.RecommendedAction)
			assert.Equal(t, tt.urgency, d.Urgency)
			assert.Equal(t, tt.affected, d.AffectedDevices)
			if tt.action == datamodel.ActionCompensate {
				require.NotNil(t, d.Parameters.CompensationRate)
				assert.Equal(t, 20.0, *d.Parameters.CompensationRate)
			}
		})
	}
}

func TestClassifyProductionRate(t *testing.T) {
	tests := []struct {
		rate    float64
		action  datamodel.Action
		urgency datamodel.Urgency
	}{
		{15, datamodel.ActionInvestigateAndBoost, datamodel.UrgencyHigh},
		{19.9, datamodel.ActionInvestigateAndBoost, datamodel.UrgencyHigh},
		{20, datamodel.ActionBalance, datamodel.UrgencyMedium},
		{35, datamodel.ActionBalance, datamodel.UrgencyMedium},
		{40, datamodel.ActionNone, datamodel.UrgencyLow},
		{80, datamodel.ActionNone, datamodel.UrgencyLow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.rate), func(t *testing.T) {
			alert := deviceAlert(datamodel.AlertTypeProductionRate)
			alert.ProductionRate = tt.rate

			d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
			assert.Equal(t, tt.action, d.RecommendedAction)
			assert.Equal(t, tt.urgency, d.Urgency)
			if tt.action == datamodel.ActionInvestigateAndBoost {
				require.NotNil(t, d.Parameters.BoostTarget)
				assert.Equal(t, 60.0, *d.Parameters.BoostTarget)
				assert.Equal(t, line1Members, d.AffectedDevices)
			}
			if tt.action == datamodel.ActionBalance {
				require.NotNil(t, d.Parameters.BalanceTarget)
				assert.Equal(t, 55.0, *d.Parameters.BalanceTarget)
				assert.Equal(t, line1Members, d.AffectedDevices)
			}
		})
	}
}

func TestClassifyCriticalFlagOrder(t *testing.T) {
	criticalAlert := func() datamodel.CriticalErrorAlert {
		return datamodel.CriticalErrorAlert{
			DeviceID:    "Conveyor1",
			LineID:      "Line1",
			DeviceError: 42,
		}
	}

	t.Run("emergency stop wins over everything", func(t *testing.T) {
		alert := criticalAlert()
		alert.HasEmergencyStop = 1
		alert.HasPowerFailure = 1
		alert.HasSensorFailure = 1
		alert.HasUnknownError = 1

		d := ClassifyCriticalAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionEmergencyStop, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyCritical, d.Urgency)
		// A line-wide stop must cover the full resolved membership
		assert.Equal(t, line1Members, d.AffectedDevices)
	})

	t.Run("power failure is line-wide", func(t *testing.T) {
		alert := criticalAlert()
		alert.HasPowerFailure = 1
		alert.HasSensorFailure = 1

		d := ClassifyCriticalAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionPowerFailureProtocol, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyCritical, d.Urgency)
		assert.Equal(t, line1Members, d.AffectedDevices)
	})

	t.Run("sensor failure stays on the device", func(t *testing.T) {
		alert := criticalAlert()
		alert.HasSensorFailure = 1
		alert.HasUnknownError = 1

		d := ClassifyCriticalAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionSensorDiagnostic, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		assert.Equal(t, []string{"Conveyor1"}, d.AffectedDevices)
	})

	t.Run("unknown error triggers a diagnostic scan", func(t *testing.T) {
		alert := criticalAlert()
		alert.HasUnknownError = 1

		d := ClassifyCriticalAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionDiagnosticScan, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		assert.Equal(t, []string{"Conveyor1"}, d.AffectedDevices)
	})

	t.Run("no flags falls back to immediate reset citing the code", func(t *testing.T) {
		alert := criticalAlert()

		d := ClassifyCriticalAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionImmediateReset, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		assert.Equal(t, []string{"Conveyor1"}, d.AffectedDevices)
		assert.Contains(t, d.Reason, "42")
	})
}

func TestClassifyDeviceSpecific(t *testing.T) {
	t.Run("press pressure", func(t *testing.T) {
		alert := deviceAlert(datamodel.AlertTypeDeviceSpecific)

		alert.Pressure = 105
		d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
		assert.Equal(t, datamodel.ActionEmergencyStop, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyCritical, d.Urgency)
		assert.Equal(t, []string{"Press1"}, d.AffectedDevices)

		alert.Pressure = 90
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
		assert.Equal(t, datamodel.ActionReducePressure, d.RecommendedAction)
		require.NotNil(t, d.Parameters.TargetPressure)
		assert.Equal(t, 75.0, *d.Parameters.TargetPressure)

		alert.Pressure = 80
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
		assert.False(t, d.HasAction())
	})

	t.Run("conveyor speed", func(t *testing.T) {
		alert := deviceAlert(datamodel.AlertTypeDeviceSpecific)
		alert.DeviceID = "Conveyor1"

		alert.Speed = 5
		d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeConveyor))
		assert.Equal(t, datamodel.ActionAdjustSpeed, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyMedium, d.Urgency)
		require.NotNil(t, d.Parameters.TargetSpeed)
		assert.Equal(t, 20.0, *d.Parameters.TargetSpeed)

		alert.Speed = 55
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeConveyor))
		assert.Equal(t, datamodel.ActionReduceSpeed, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		require.NotNil(t, d.Parameters.TargetSpeed)
		assert.Equal(t, 40.0, *d.Parameters.TargetSpeed)

		alert.Speed = 30
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeConveyor))
		assert.False(t, d.HasAction())
	})

	t.Run("quality station pass rate", func(t *testing.T) {
		alert := deviceAlert(datamodel.AlertTypeDeviceSpecific)
		alert.DeviceID = "QualityStation1"

		alert.PassRate = 65
		d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeQualityStation))
		assert.Equal(t, datamodel.ActionQualityInvestigation, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		assert.Equal(t, line1Members, d.AffectedDevices)
		require.NotNil(t, d.Parameters.TargetPassRate)
		assert.Equal(t, 95.0, *d.Parameters.TargetPassRate)

		alert.PassRate = 85
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeQualityStation))
		assert.Equal(t, datamodel.ActionQualityAdjustment, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyMedium, d.Urgency)
		assert.Equal(t, []string{"QualityStation1"}, d.AffectedDevices)

		alert.PassRate = 95
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeQualityStation))
		assert.False(t, d.HasAction())
	})

	t.Run("compressor pressures", func(t *testing.T) {
		alert := deviceAlert(datamodel.AlertTypeDeviceSpecific)
		alert.DeviceID = "Compressor1"

		alert.SystemPressure = 100
		alert.OutputPressure = 70
		d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeCompressor))
		assert.Equal(t, datamodel.ActionCompressorMaintenance, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		require.NotNil(t, d.Parameters.SystemPressure)
		require.NotNil(t, d.Parameters.OutputPressure)
		assert.Equal(t, 100.0, *d.Parameters.SystemPressure)
		assert.Equal(t, 70.0, *d.Parameters.OutputPressure)

		alert.SystemPressure = 90
		alert.OutputPressure = 75
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeCompressor))
		assert.Equal(t, datamodel.ActionIncreaseCompression, d.RecommendedAction)
		require.NotNil(t, d.Parameters.TargetPressure)
		assert.Equal(t, 90.0, *d.Parameters.TargetPressure)

		alert.SystemPressure = 95
		alert.OutputPressure = 85
		d = ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeCompressor))
		assert.False(t, d.HasAction())
	})

	t.Run("unknown device type is only monitored", func(t *testing.T) {
		alert := deviceAlert(datamodel.AlertTypeDeviceSpecific)
		alert.DeviceID = "Mixer1"
		alert.Pressure = 120

		d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypeUnknown))
		assert.Equal(t, datamodel.ActionMonitor, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyLow, d.Urgency)
		assert.False(t, d.HasAction())
	})
}

func TestClassifyLineAlert(t *testing.T) {
	t.Run("count above stop threshold stops and resets", func(t *testing.T) {
		alert := datamodel.LineErrorAlert{
			LineID:       "Line1",
			ErrorCount:   6,
			MaxErrorCode: 909,
		}

		d := ClassifyLineAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionStopAndReset, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyHigh, d.Urgency)
		assert.Equal(t, line1Members, d.AffectedDevices)
		require.NotNil(t, d.Parameters.ErrorCount)
		require.NotNil(t, d.Parameters.MaxErrorCode)
		assert.Equal(t, 6, *d.Parameters.ErrorCount)
		assert.Equal(t, 909, *d.Parameters.MaxErrorCode)
		assert.Contains(t, d.Reason, "6")
		assert.Contains(t, d.Reason, "909")
	})

	t.Run("count above compensate threshold compensates", func(t *testing.T) {
		alert := datamodel.LineErrorAlert{
			LineID:       "Line1",
			ErrorCount:   4,
			MaxErrorCode: 17,
		}

		d := ClassifyLineAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionCompensate, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyMedium, d.Urgency)
		assert.Equal(t, line1Members, d.AffectedDevices)
		require.NotNil(t, d.Parameters.CompensationRate)
		assert.Equal(t, 20.0, *d.Parameters.CompensationRate)
		assert.Contains(t, d.Reason, "4")
		assert.Contains(t, d.Reason, "17")
	})

	t.Run("low count resets", func(t *testing.T) {
		alert := datamodel.LineErrorAlert{
			LineID:       "Line1",
			ErrorCount:   2,
			MaxErrorCode: 5,
		}

		d := ClassifyLineAlert(&alert, line1Members)
		assert.Equal(t, datamodel.ActionReset, d.RecommendedAction)
		assert.Equal(t, datamodel.UrgencyLow, d.Urgency)
		assert.Equal(t, line1Members, d.AffectedDevices)
		assert.Contains(t, d.Reason, "2")
	})

	t.Run("boundary counts take the lower rung", func(t *testing.T) {
		atStop := datamodel.LineErrorAlert{LineID: "Line1", ErrorCount: 5, MaxErrorCode: 1}
		assert.Equal(t, datamodel.ActionCompensate, ClassifyLineAlert(&atStop, line1Members).RecommendedAction)

		atCompensate := datamodel.LineErrorAlert{LineID: "Line1", ErrorCount: 3, MaxErrorCode: 1}
		assert.Equal(t, datamodel.ActionReset, ClassifyLineAlert(&atCompensate, line1Members).RecommendedAction)
	})
}

func TestPress1EmergencyScenario(t *testing.T) {
	alert := datamodel.DeviceAlert{
		DeviceID:    "Press1",
		LineID:      "Line1",
		AlertType:   datamodel.AlertTypeTemperature,
		Temperature: 97,
	}

	d := ClassifyDeviceAlert(&alert, line1Context(datamodel.DeviceTypePress))
	assert.Equal(t, datamodel.ActionEmergencyStop, d.RecommendedAction)
	assert.Equal(t, datamodel.UrgencyCritical, d.Urgency)
	assert.Equal(t, []string{"Press1"}, d.AffectedDevices)
}
