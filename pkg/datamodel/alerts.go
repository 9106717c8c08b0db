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

import (
	"errors"
	"time"
)

// AlertType tags the measurement family carried by a DeviceAlert.
type AlertType string

const (
	AlertTypeTemperature    AlertType = "Temperature"
	AlertTypeErrorCount     AlertType = "ErrorCount"
	AlertTypeProductionRate AlertType = "ProductionRate"
	AlertTypeDeviceSpecific AlertType = "DeviceSpecific"

	// AlertTypeCritical and AlertTypeLineError tag decisions derived from
	// the two structured alert variants.
	AlertTypeCritical  AlertType = "Critical"
	AlertTypeLineError AlertType = "LineError"
)

var (
	ErrMissingDeviceID = errors.New("alert has no device id")
	ErrMissingLineID   = errors.New("alert has no line id")
	ErrNoErrorCode     = errors.New("critical alert carries no positive error code")
	ErrNoErrorCount    = errors.New("line alert carries no positive error count")
)

// DeviceAlert is a telemetry-threshold alert for a single device. Only the
// measurement fields matching AlertType are meaningful, the rest stay zero.
type DeviceAlert struct {
	DeviceID  string    `json:"deviceId"`
	LineID    string    `json:"lineId"`
	AlertType AlertType `json:"alertType"`
	Severity  int       `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	AlertID   string    `json:"alertId,omitempty"`

	Temperature    float64 `json:"temperature,omitempty"`
	ErrorCount     int     `json:"errorCount,omitempty"`
	ProductionRate float64 `json:"productionRate,omitempty"`
	Pressure       float64 `json:"pressure,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	PassRate       float64 `json:"passRate,omitempty"`
	SystemPressure float64 `json:"systemPressure,omitempty"`
	OutputPressure float64 `json:"outputPressure,omitempty"`
}

// CriticalErrorAlert reports a device error condition with classification
// flags. Flags are 0/1 on the wire, matching the upstream producer.
type CriticalErrorAlert struct {
	DeviceID         string    `json:"deviceId"`
	LineID           string    `json:"lineId"`
	DeviceError      int       `json:"deviceError"`
	HasEmergencyStop int       `json:"hasEmergencyStop"`
	HasPowerFailure  int       `json:"hasPowerFailure"`
	HasSensorFailure int       `json:"hasSensorFailure"`
	HasUnknownError  int       `json:"hasUnknownError"`
	Timestamp        time.Time `json:"timestamp"`
	AlertID          string    `json:"alertId,omitempty"`
}

// LineErrorAlert aggregates the error situation of a whole production line.
type LineErrorAlert struct {
	LineID       string    `json:"lineId"`
	ErrorCount   int       `json:"errorCount"`
	MaxErrorCode int       `json:"maxErrorCode"`
	Timestamp    time.Time `json:"timestamp"`
	AlertID      string    `json:"alertId,omitempty"`
}

// Validate rejects alerts that can never classify. A validation error means
// the message must be dropped, not redelivered.
func (a *DeviceAlert) Validate() error {
	if a.DeviceID == "" {
		return ErrMissingDeviceID
	}
	return nil
}

func (a *CriticalErrorAlert) Validate() error {
	if a.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if a.DeviceError <= 0 {
		return ErrNoErrorCode
	}
	return nil
}

func (a *LineErrorAlert) Validate() error {
	if a.LineID == "" {
		return ErrMissingLineID
	}
	if a.ErrorCount <= 0 {
		return ErrNoErrorCount
	}
	return nil
}
