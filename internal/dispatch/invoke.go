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

package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// Outcome classifies what happened to a direct invocation.
type Outcome string

const (
	OutcomeInvoked Outcome = "invoked"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// InvocationResult is the informational outcome of one direct method call.
// A skipped or failed invocation is not an error, the transport-level
// redelivery of the original alert is the retry mechanism.
type InvocationResult struct {
	DeviceID    string                `json:"deviceId"`
	CommandName datamodel.CommandName `json:"commandName"`
	Outcome     Outcome               `json:"outcome"`
	Status      int                   `json:"status,omitempty"`
	Detail      string                `json:"detail,omitempty"`
	RoundTrip   time.Duration         `json:"roundTrip,omitempty"`
}

// ConnectionChecker reports the current connection state of a device.
// Satisfied by directory.Directory.
type ConnectionChecker interface {
	ConnectionState(ctx context.Context, deviceID string) (datamodel.ConnectionState, error)
}

// Dispatcher invokes commands directly against the registry. It never
// retries on its own and never returns an error to the caller: every
// failure mode is soft and captured in the result.
type Dispatcher struct {
	checker ConnectionChecker
	reg     registry.API
}

func New(checker ConnectionChecker, reg registry.API) *Dispatcher {
	return &Dispatcher{checker: checker, reg: reg}
}

// InvokeDirect issues one command as a synchronous remote method call.
// Disconnected devices are deliberately skipped, there is no point in
// blocking a handler on a device that cannot answer.
func (d *Dispatcher) InvokeDirect(ctx context.Context, cmd *datamodel.Command) InvocationResult {
	result := InvocationResult{
		DeviceID:    cmd.TargetDevice,
		CommandName: cmd.CommandName,
	}

	state, err := d.checker.ConnectionState(ctx, cmd.TargetDevice)
	if err != nil {
		zap.S().Warnf("Skipping %s on %s, connection state unknown: %s", cmd.CommandName, cmd.TargetDevice, err)
		InvocationsSkipped += 1
		result.Outcome = OutcomeSkipped
		result.Detail = "connection state unknown"
		return result
	}
	if state != datamodel.ConnectionConnected {
		zap.S().Infof("Skipping %s on %s, device is not connected", cmd.CommandName, cmd.TargetDevice)
		InvocationsSkipped += 1
		result.Outcome = OutcomeSkipped
		result.Detail = "device not connected"
		return result
	}

	timeout := timeoutFor(cmd.CommandName)
	request := registry.MethodRequest{
		MethodName:               string(cmd.CommandName),
		ResponseTimeoutInSeconds: int(timeout.Seconds()),
	}
	if !cmd.Parameters.IsZero() {
		request.Payload = cmd.Parameters
	}

	start := time.Now()
	DirectInvocations += 1
	methodResult, err := d.reg.InvokeMethod(ctx, cmd.TargetDevice, request, timeout)
	if err != nil {
		zap.S().Warnf("Direct %s on %s failed: %s", cmd.CommandName, cmd.TargetDevice, err)
		InvocationsFailed += 1
		result.Outcome = OutcomeFailed
		result.Detail = err.Error()
		return result
	}

	result.Status = methodResult.Status
	if methodResult.Status != http.StatusOK {
		zap.S().Warnf("Direct %s on %s answered status %d", cmd.CommandName, cmd.TargetDevice, methodResult.Status)
		InvocationsFailed += 1
		result.Outcome = OutcomeFailed
		return result
	}

	result.Outcome = OutcomeInvoked
	if cmd.AlertID != "" {
		result.RoundTrip = time.Since(start)
		zap.S().Infof("Alert %s reached %s after %d ms", cmd.AlertID, cmd.TargetDevice, result.RoundTrip.Milliseconds())
	}
	return result
}
