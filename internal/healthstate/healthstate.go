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

// Package healthstate derives per-device health states from the latest twin
// snapshot and records every transition. The monitor keeps the previous
// state per device in memory; it is owned by a single sweep loop and must
// never run two sweeps concurrently.
package healthstate

import (
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

var (
	SweepsRun           = float64(0)
	TransitionsRecorded = float64(0)
)

// Recorder persists what a sweep observed. Implemented by the record store,
// swapped for a capture double in tests.
type Recorder interface {
	SaveStatusChange(ctx context.Context, record *datamodel.StatusChangeRecord) error
	SaveLineKPIs(ctx context.Context, record *datamodel.LineKPIRecord) error
}

// Derive computes the health state for one telemetry snapshot. Staleness
// wins over everything else: a device that stopped reporting is offline no
// matter what its last report said.
func Derive(
	reported registry.ReportedProperties,
	now time.Time,
	offlineAfter time.Duration,
	warningTemperature float64) datamodel.HealthState {
	if reported.LastUpdated.IsZero() || now.Sub(reported.LastUpdated) > offlineAfter {
		return datamodel.HealthOffline
	}
	if reported.ErrorCode != 0 {
		return datamodel.HealthError
	}
	if reported.AvgTemperature > warningTemperature {
		return datamodel.HealthWarning
	}
	return datamodel.HealthOnline
}

// Monitor tracks health-state transitions across the fleet.
type Monitor struct {
	reg   registry.API
	store Recorder

	// previous is only touched by Sweep, which callers run serially.
	previous map[string]datamodel.HealthState

	offlineAfter       time.Duration
	warningTemperature float64
}

func New(reg registry.API, store Recorder, offlineAfter time.Duration, warningTemperature float64) *Monitor {
	return &Monitor{
		reg:                reg,
		store:              store,
		previous:           make(map[string]datamodel.HealthState),
		offlineAfter:       offlineAfter,
		warningTemperature: warningTemperature,
	}
}

// Sweep reads the fleet once, records every state transition and the
// per-line KPI rollup, and returns the transition records for publishing.
// A failed record write is logged and left uncommitted, the next sweep
// re-detects the same transition. Not safe for concurrent use.
func (m *Monitor) Sweep(ctx context.Context) []datamodel.StatusChangeRecord {
	twins, err := m.reg.ListDevices(ctx)
	if err != nil {
		zap.S().Warnf("Health sweep skipped, fleet scan failed: %s", err)
		return nil
	}
	SweepsRun += 1

	now := time.Now()
	var transitions []datamodel.StatusChangeRecord
	for i := range twins {
		record := m.observe(&twins[i], now)
		if record == nil {
			continue
		}
		err = m.store.SaveStatusChange(ctx, record)
		if err != nil {
			zap.S().Warnf("Failed to record %s -> %s for %s: %s", formatPrevious(record.PreviousState), record.NewState, record.DeviceID, err)
			continue
		}
		m.previous[record.DeviceID] = record.NewState
		TransitionsRecorded += 1
		transitions = append(transitions, *record)
	}

	m.recordLineKPIs(ctx, twins, now)
	return transitions
}

// observe derives the state for one device and builds the transition record,
// or nil when the state is unchanged.
func (m *Monitor) observe(twin *registry.DeviceTwin, now time.Time) *datamodel.StatusChangeRecord {
	state := Derive(twin.Reported, now, m.offlineAfter, m.warningTemperature)

	previous, seen := m.previous[twin.DeviceID]
	if seen && previous == state {
		return nil
	}

	record := &datamodel.StatusChangeRecord{
		DeviceID:   twin.DeviceID,
		LineID:     twin.Reported.LineID,
		DeviceType: directory.TypeFromName(twin.DeviceID),
		Timestamp:  now,
		NewState:   state,
	}
	if seen {
		record.PreviousState = &previous
	}

	switch state {
	case datamodel.HealthOffline:
		if twin.Reported.LastUpdated.IsZero() {
			record.Reason = "No telemetry received yet"
		} else {
			minutes := now.Sub(twin.Reported.LastUpdated).Minutes()
			record.Reason = fmt.Sprintf("No telemetry for %.1f minutes", minutes)
			record.MinutesSinceUpdate = &minutes
		}
	case datamodel.HealthError:
		record.Reason = fmt.Sprintf("Device reports error code %d", twin.Reported.ErrorCode)
		errorCode := twin.Reported.ErrorCode
		record.ErrorCode = &errorCode
	case datamodel.HealthWarning:
		record.Reason = fmt.Sprintf("Average temperature %.0f°C exceeds %.0f°C", twin.Reported.AvgTemperature, m.warningTemperature)
		temperature := twin.Reported.AvgTemperature
		record.Temperature = &temperature
	default:
		record.Reason = "Device recovered to normal operation"
	}
	return record
}

// recordLineKPIs writes one rollup per line. Devices without a line id do
// not belong to a rollup and are skipped.
func (m *Monitor) recordLineKPIs(ctx context.Context, twins []registry.DeviceTwin, now time.Time) {
	byLine := make(map[string][]*registry.DeviceTwin)
	for i := range twins {
		lineID := twins[i].Reported.LineID
		if lineID == "" {
			continue
		}
		byLine[lineID] = append(byLine[lineID], &twins[i])
	}

	for lineID, members := range byLine {
		record := datamodel.LineKPIRecord{
			LineID:       lineID,
			Timestamp:    now,
			DevicesTotal: len(members),
		}
		temperatures := make([]float64, 0, len(members))
		for _, twin := range members {
			switch Derive(twin.Reported, now, m.offlineAfter, m.warningTemperature) {
			case datamodel.HealthOnline:
				record.DevicesOnline++
			case datamodel.HealthWarning:
				record.DevicesWarning++
			case datamodel.HealthError:
				record.DevicesError++
			case datamodel.HealthOffline:
				record.DevicesOffline++
			}
			temperatures = append(temperatures, twin.Reported.AvgTemperature)
			record.TotalProductionRate += twin.Reported.ProductionRate
		}
		record.AvgTemperature = stat.Mean(temperatures, nil)

		err := m.store.SaveLineKPIs(ctx, &record)
		if err != nil {
			zap.S().Warnf("Failed to record KPIs for line %s: %s", lineID, err)
		}
	}
}

// States returns a copy of the current per-device state map.
func (m *Monitor) States() map[string]datamodel.HealthState {
	states := make(map[string]datamodel.HealthState, len(m.previous))
	for deviceID, state := range m.previous {
		states[deviceID] = state
	}
	return states
}

func formatPrevious(state *datamodel.HealthState) string {
	if state == nil {
		return "unseen"
	}
	return string(*state)
}
