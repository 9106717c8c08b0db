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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

func TestCommandsMapping(t *testing.T) {
	cases := []struct {
		action      datamodel.Action
		command     datamodel.CommandName
		synchronous bool
	}{
		{datamodel.ActionEmergencyStop, datamodel.CommandEmergencyStop, true},
		{datamodel.ActionPowerFailureProtocol, datamodel.CommandEmergencyStop, true},
		{datamodel.ActionSensorDiagnostic, datamodel.CommandResetErrorStatus, false},
		{datamodel.ActionImmediateReset, datamodel.CommandResetErrorStatus, false},
		{datamodel.ActionStopAndReset, datamodel.CommandResetErrorStatus, false},
		{datamodel.ActionDiagnosticScan, datamodel.CommandRunDiagnostics, false},
		{datamodel.ActionQualityInvestigation, datamodel.CommandRunDiagnostics, false},
		{datamodel.ActionReduceLoad, datamodel.CommandAdjustProductionRate, false},
		{datamodel.ActionOptimizeLoad, datamodel.CommandAdjustProductionRate, false},
		{datamodel.ActionCompensate, datamodel.CommandAdjustProductionRate, false},
		{datamodel.ActionInvestigateAndBoost, datamodel.CommandAdjustProductionRate, false},
		{datamodel.ActionBalance, datamodel.CommandAdjustProductionRate, false},
		{datamodel.ActionAdjustSpeed, datamodel.CommandAdjustSpeed, false},
		{datamodel.ActionReduceSpeed, datamodel.CommandAdjustSpeed, false},
		{datamodel.ActionReducePressure, datamodel.CommandAdjustPressure, false},
		{datamodel.ActionIncreaseCompression, datamodel.CommandAdjustPressure, false},
		{datamodel.ActionQualityAdjustment, datamodel.CommandCalibrate, false},
		{datamodel.ActionCompressorMaintenance, datamodel.CommandScheduleMaintenance, false},
		{datamodel.ActionReset, datamodel.CommandReset, false},
	}

	for _, tc := range cases {
		decision := &datamodel.Decision{
			DeviceID:          "Press1",
			RecommendedAction: tc.action,
			AffectedDevices:   []string{"Press1"},
		}
		commands := Commands(decision, datamodel.SenderAlertReactor)
		require.Len(t, commands, 1, "action %q", tc.action)
		assert.Equal(t, tc.command, commands[0].CommandName, "action %q", tc.action)
		assert.Equal(t, tc.synchronous, commands[0].Synchronous, "action %q", tc.action)
	}
}

func TestCommandsNoOpActions(t *testing.T) {
	for _, action := range []datamodel.Action{datamodel.ActionNone, datamodel.ActionMonitor} {
		decision := &datamodel.Decision{
			DeviceID:          "Press1",
			RecommendedAction: action,
			AffectedDevices:   []string{"Press1"},
		}
		assert.Nil(t, Commands(decision, datamodel.SenderAlertReactor), "action %q", action)
	}
}

func TestCommandsFanOut(t *testing.T) {
	members := []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}
	decision := &datamodel.Decision{
		DeviceID:          "Press1",
		LineID:            "Line1",
		RecommendedAction: datamodel.ActionReduceLoad,
		Urgency:           datamodel.UrgencyHigh,
		Reason:            "Press1 temperature 92.0 exceeds 90",
		AffectedDevices:   members,
		Parameters:        datamodel.ActionParameters{TargetReduction: datamodel.Float(30)},
		AlertID:           "alert-7",
	}

	commands := Commands(decision, datamodel.SenderAlertReactor)
	require.Len(t, commands, 4)
	for i, command := range commands {
		assert.Equal(t, members[i], command.TargetDevice)
		assert.Equal(t, datamodel.CommandAdjustProductionRate, command.CommandName)
		assert.Equal(t, decision.Reason, command.Reason)
		assert.Equal(t, datamodel.SenderAlertReactor, command.Sender)
		assert.Equal(t, "alert-7", command.AlertID)
		require.NotNil(t, command.Parameters.TargetReduction)
		assert.Equal(t, 30.0, *command.Parameters.TargetReduction)
		assert.False(t, command.IssuedAt.IsZero())
	}
}

type fakeChecker struct {
	state datamodel.ConnectionState
	err   error
}

func (f *fakeChecker) ConnectionState(_ context.Context, _ string) (datamodel.ConnectionState, error) {
	return f.state, f.err
}

type fakeInvoker struct {
	calls       int
	lastRequest registry.MethodRequest
	lastTimeout time.Duration
	result      *registry.MethodResult
	err         error
}

func (f *fakeInvoker) GetDevice(_ context.Context, _ string) (*registry.DeviceTwin, error) {
	return nil, registry.ErrDeviceNotFound
}

func (f *fakeInvoker) ListDevices(_ context.Context) ([]registry.DeviceTwin, error) {
	return nil, nil
}

func (f *fakeInvoker) InvokeMethod(
	_ context.Context,
	_ string,
	request registry.MethodRequest,
	timeout time.Duration) (*registry.MethodResult, error) {
	f.calls++
	f.lastRequest = request
	f.lastTimeout = timeout
	return f.result, f.err
}

func (f *fakeInvoker) IsAvailable() bool { return true }

func TestInvokeDirectSkipsDisconnected(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 200}}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionDisconnected}, invoker)

	cmd := &datamodel.Command{TargetDevice: "Press1", CommandName: datamodel.CommandEmergencyStop}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, 0, invoker.calls, "a disconnected device must not be invoked")
}

func TestInvokeDirectSkipsOnUnknownConnectionState(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 200}}
	dispatcher := New(&fakeChecker{err: errors.New("registry unreachable")}, invoker)

	cmd := &datamodel.Command{TargetDevice: "Press1", CommandName: datamodel.CommandReset}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, 0, invoker.calls)
}

func TestInvokeDirectSoftFailureOnErrorStatus(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 500}}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionConnected}, invoker)

	cmd := &datamodel.Command{TargetDevice: "Press1", CommandName: datamodel.CommandEmergencyStop}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, 1, invoker.calls)
}

func TestInvokeDirectTransportFailure(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("request timed out")}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionConnected}, invoker)

	cmd := &datamodel.Command{TargetDevice: "Press1", CommandName: datamodel.CommandAdjustSpeed}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Detail, "timed out")
}

func TestInvokeDirectSuccess(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 200}}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionConnected}, invoker)

	cmd := &datamodel.Command{
		TargetDevice: "Press1",
		CommandName:  datamodel.CommandAdjustProductionRate,
		Parameters:   datamodel.ActionParameters{TargetRate: datamodel.Float(65)},
	}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeInvoked, result.Outcome)
	assert.Equal(t, 200, result.Status)
	assert.Zero(t, result.RoundTrip, "no round trip without a correlation id")

	require.NotNil(t, invoker.lastRequest.Payload)
	params, ok := invoker.lastRequest.Payload.(datamodel.ActionParameters)
	require.True(t, ok)
	assert.Equal(t, 65.0, *params.TargetRate)
}

func TestInvokeDirectMeasuresRoundTripWithAlertID(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 200}}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionConnected}, invoker)

	cmd := &datamodel.Command{
		TargetDevice: "Press1",
		CommandName:  datamodel.CommandEmergencyStop,
		AlertID:      "alert-13",
	}
	result := dispatcher.InvokeDirect(context.Background(), cmd)

	assert.Equal(t, OutcomeInvoked, result.Outcome)
	assert.Greater(t, result.RoundTrip, time.Duration(0))
}

func TestInvokeDirectTimeoutSelection(t *testing.T) {
	invoker := &fakeInvoker{result: &registry.MethodResult{Status: 200}}
	dispatcher := New(&fakeChecker{state: datamodel.ConnectionConnected}, invoker)

	safety := &datamodel.Command{TargetDevice: "Press1", CommandName: datamodel.CommandEmergencyStop}
	dispatcher.InvokeDirect(context.Background(), safety)
	assert.Equal(t, 10*time.Second, invoker.lastTimeout)
	assert.Equal(t, 10, invoker.lastRequest.ResponseTimeoutInSeconds)
	assert.Nil(t, invoker.lastRequest.Payload, "bare commands carry no payload")

	production := &datamodel.Command{
		TargetDevice: "Press1",
		CommandName:  datamodel.CommandAdjustProductionRate,
		Parameters:   datamodel.ActionParameters{TargetRate: datamodel.Float(40)},
	}
	dispatcher.InvokeDirect(context.Background(), production)
	assert.Equal(t, 30*time.Second, invoker.lastTimeout)
	assert.Equal(t, 30, invoker.lastRequest.ResponseTimeoutInSeconds)
}
