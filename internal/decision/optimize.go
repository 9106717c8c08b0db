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
	"time"

	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"gonum.org/v1/gonum/stat"
)

const (
	bottleneckBoost   = 10.0
	downstreamHeadway = 5.0

	offlineTemperatureFactor = 0.9
	offlineErrorFactor       = 0.95

	utilizationSpreadLimit = 30.0
	utilizationBandWidth   = 10.0
	energyBudget           = 1000.0
	maintenanceHoursLimit  = 720.0
)

// OptimizeProductionLine assigns per-device target rates around the line's
// bottleneck. The bottleneck is the online device with the lowest effective
// throughput (rate scaled by quality), ties resolved to the first one.
// Devices upstream of the bottleneck are capped at its rate, the bottleneck
// itself is boosted within its own maximum, downstream devices get a little
// headway. With nothing online every device is derated independently from
// its maximum.
func OptimizeProductionLine(lineID string, devices []datamodel.DeviceStatusSnapshot) datamodel.LineOptimizationResult {
	result := datamodel.LineOptimizationResult{
		LineID:      lineID,
		GeneratedAt: time.Now(),
	}
	if len(devices) == 0 {
		return result
	}

	bottleneckIdx := -1
	bottleneckScore := 0.0
	for i, device := range devices {
		if !device.IsOnline {
			continue
		}
		score := device.ProductionRate * (device.QualityPercentage / 100)
		// Strict less-than keeps the first minimal device on ties
		if bottleneckIdx == -1 || score < bottleneckScore {
			bottleneckIdx = i
			bottleneckScore = score
		}
	}

	result.Assignments = make([]datamodel.DeviceRateAssignment, 0, len(devices))

	if bottleneckIdx == -1 {
		for _, device := range devices {
			rate := device.MaxProductionRate
			if device.Temperature > 80 {
				rate *= offlineTemperatureFactor
			}
			if device.RecentErrorCount > 0 {
				rate *= offlineErrorFactor
			}
			result.Assignments = append(result.Assignments, datamodel.DeviceRateAssignment{
				DeviceID:   device.DeviceID,
				TargetRate: rate,
			})
		}
	} else {
		result.BottleneckDevice = devices[bottleneckIdx].DeviceID
		bottleneckRate := devices[bottleneckIdx].ProductionRate
		for i, device := range devices {
			var rate float64
			switch {
			case i < bottleneckIdx:
				rate = bottleneckRate
			case i == bottleneckIdx:
				rate = bottleneckRate + bottleneckBoost
				if rate > device.MaxProductionRate {
					rate = device.MaxProductionRate
				}
			default:
				rate = bottleneckRate + downstreamHeadway
			}
			result.Assignments = append(result.Assignments, datamodel.DeviceRateAssignment{
				DeviceID:   device.DeviceID,
				TargetRate: rate,
			})
		}
	}

	// A line can never exceed its slowest stage
	result.ExpectedThroughput = result.Assignments[0].TargetRate
	for _, assignment := range result.Assignments[1:] {
		if assignment.TargetRate < result.ExpectedThroughput {
			result.ExpectedThroughput = assignment.TargetRate
		}
	}
	return result
}

// AnalyzePlantOptimization inspects line-level KPIs across the plant and
// flags load imbalance, energy overconsumption and overdue maintenance.
// The flags are independent and may co-occur.
func AnalyzePlantOptimization(lines []datamodel.LineStatusSnapshot) datamodel.PlantOptimizationResult {
	result := datamodel.PlantOptimizationResult{
		Recommendations: []datamodel.PlantRecommendation{},
		GeneratedAt:     time.Now(),
	}
	if len(lines) == 0 {
		return result
	}

	utilizations := make([]float64, 0, len(lines))
	totalEnergy := 0.0
	for _, line := range lines {
		utilizations = append(utilizations, line.UtilizationPercent)
		totalEnergy += line.EnergyConsumption
	}

	minUtilization, maxUtilization := utilizations[0], utilizations[0]
	for _, u := range utilizations[1:] {
		if u < minUtilization {
			minUtilization = u
		}
		if u > maxUtilization {
			maxUtilization = u
		}
	}

	if maxUtilization-minUtilization > utilizationSpreadLimit {
		var overloaded, underutilized []string
		for _, line := range lines {
			switch {
			case line.UtilizationPercent >= maxUtilization-utilizationBandWidth:
				overloaded = append(overloaded, line.LineID)
			case line.UtilizationPercent <= minUtilization+utilizationBandWidth:
				underutilized = append(underutilized, line.LineID)
			}
		}
		target := stat.Mean(utilizations, nil)
		result.Recommendations = append(result.Recommendations, datamodel.PlantRecommendation{
			Type:              datamodel.FlagLoadBalance,
			Lines:             append(overloaded, underutilized...),
			TargetUtilization: datamodel.Float(target),
			Reason: fmt.Sprintf(
				"Utilization spread %.1f points exceeds %.0f: overloaded %v, underutilized %v",
				maxUtilization-minUtilization, utilizationSpreadLimit, overloaded, underutilized),
		})
	}

	if totalEnergy > energyBudget {
		result.Recommendations = append(result.Recommendations, datamodel.PlantRecommendation{
			Type:   datamodel.FlagEnergyOptimize,
			Reason: fmt.Sprintf("Total energy consumption %.1f exceeds budget %.0f", totalEnergy, energyBudget),
		})
	}

	for _, line := range lines {
		if line.HoursSinceMaintenance > maintenanceHoursLimit {
			result.Recommendations = append(result.Recommendations, datamodel.PlantRecommendation{
				Type:  datamodel.FlagScheduleMaintenance,
				Lines: []string{line.LineID},
				Reason: fmt.Sprintf(
					"Line %s ran %.0f hours since maintenance, limit is %.0f",
					line.LineID, line.HoursSinceMaintenance, maintenanceHoursLimit),
			})
		}
	}

	return result
}
