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

package registry

import "time"

// DeviceTwin is the registry's view of a single device. Connected reflects
// the transport session state, Reported carries the properties the device
// last pushed.
type DeviceTwin struct {
	DeviceID  string             `json:"deviceId"`
	Connected bool               `json:"connected"`
	Reported  ReportedProperties `json:"reported"`
}

// ReportedProperties are device-pushed twin properties. Every field is
// optional, devices only report what they measure.
type ReportedProperties struct {
	DeviceType        string    `json:"deviceType,omitempty"`
	LineID            string    `json:"lineId,omitempty"`
	LineName          string    `json:"lineName,omitempty"`
	Status            string    `json:"status,omitempty"`
	AvgTemperature    float64   `json:"avgTemperature,omitempty"`
	ErrorCode         int       `json:"errorCode,omitempty"`
	ProductionRate    float64   `json:"productionRate,omitempty"`
	QualityPercentage float64   `json:"qualityPercentage,omitempty"`
	MaxProductionRate float64   `json:"maxProductionRate,omitempty"`
	LastUpdated       time.Time `json:"lastUpdated,omitempty"`
}

// MethodRequest asks the registry to proxy a synchronous method call to a
// device.
type MethodRequest struct {
	MethodName               string      `json:"methodName"`
	Payload                  interface{} `json:"payload,omitempty"`
	ResponseTimeoutInSeconds int         `json:"responseTimeoutInSeconds"`
}

// MethodResult is the device's answer to a direct method call. Status
// follows HTTP semantics, 200 means the device accepted the command.
type MethodResult struct {
	Status  int         `json:"status"`
	Payload interface{} `json:"payload,omitempty"`
}
