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

package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/dispatch"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

type invocation struct {
	DeviceID string
	Request  registry.MethodRequest
}

type fakeRegistry struct {
	devices     []registry.DeviceTwin
	invocations []invocation
}

func (f *fakeRegistry) GetDevice(_ context.Context, deviceID string) (*registry.DeviceTwin, error) {
	for i := range f.devices {
		if f.devices[i].DeviceID == deviceID {
			return &f.devices[i], nil
		}
	}
	return nil, registry.ErrDeviceNotFound
}

func (f *fakeRegistry) ListDevices(_ context.Context) ([]registry.DeviceTwin, error) {
	return append([]registry.DeviceTwin(nil), f.devices...), nil
}

func (f *fakeRegistry) InvokeMethod(
	_ context.Context,
	deviceID string,
	request registry.MethodRequest,
	_ time.Duration) (*registry.MethodResult, error) {
	f.invocations = append(f.invocations, invocation{DeviceID: deviceID, Request: request})
	return &registry.MethodResult{Status: http.StatusOK}, nil
}

func (f *fakeRegistry) IsAvailable() bool {
	return true
}

type fakeEventRecorder struct {
	records []datamodel.ErrorEventRecord
	fail    bool
}

func (f *fakeEventRecorder) SaveErrorEvent(_ context.Context, record *datamodel.ErrorEventRecord) error {
	if f.fail {
		return errors.New("database down")
	}
	f.records = append(f.records, *record)
	return nil
}

func fleetFixture() []registry.DeviceTwin {
	twin := func(deviceID string, lineID string) registry.DeviceTwin {
		return registry.DeviceTwin{
			DeviceID:  deviceID,
			Connected: true,
			Reported: registry.ReportedProperties{
				LineID:      lineID,
				Status:      "online",
				LastUpdated: time.Now(),
			},
		}
	}
	return []registry.DeviceTwin{
		twin("Press1", "Line1"),
		twin("Conveyor1", "Line1"),
		twin("QualityStation1", "Line1"),
		twin("Compressor1", "Line1"),
		twin("Conveyor2", "Line2"),
	}
}

type reactorHarness struct {
	reactor  *reactor
	registry *fakeRegistry
	events   *fakeEventRecorder
	dir      *directory.Directory
	commands []datamodel.Command
	fanouts  []datamodel.LineCoordinationMessage
	queueErr error
}

func newHarness() *reactorHarness {
	h := &reactorHarness{
		registry: &fakeRegistry{devices: fleetFixture()},
		events:   &fakeEventRecorder{},
	}
	h.dir = directory.New(h.registry, "Line1", time.Minute)
	h.reactor = newReactor(
		h.dir,
		dispatch.New(h.dir, h.registry),
		h.events,
		func(cmd *datamodel.Command) error {
			if h.queueErr != nil {
				return h.queueErr
			}
			h.commands = append(h.commands, *cmd)
			return nil
		},
		func(msg *datamodel.LineCoordinationMessage) error {
			h.fanouts = append(h.fanouts, *msg)
			return nil
		})
	return h
}

func message(t *testing.T, topic string, payload interface{}) *kafka.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return rawMessage(topic, raw)
}

func rawMessage(topic string, raw []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Value:          raw,
	}
}

func TestProcessDeviceAlertEmergencyStop(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicDeviceAlerts, datamodel.DeviceAlert{
		DeviceID:    "Press1",
		LineID:      "Line1",
		AlertType:   datamodel.AlertTypeTemperature,
		Severity:    5,
		Timestamp:   time.Now(),
		Temperature: 97,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	require.Len(t, h.commands, 1)
	cmd := h.commands[0]
	assert.Equal(t, "Press1", cmd.TargetDevice)
	assert.Equal(t, datamodel.CommandEmergencyStop, cmd.CommandName)
	assert.True(t, cmd.Synchronous)
	assert.Equal(t, datamodel.SenderAlertReactor, cmd.Sender)
	assert.Empty(t, h.fanouts)

	// Synchronous commands additionally go out as direct method calls.
	require.Len(t, h.registry.invocations, 1)
	assert.Equal(t, "Press1", h.registry.invocations[0].DeviceID)
	assert.Equal(t, "EmergencyStop", h.registry.invocations[0].Request.MethodName)
	assert.Equal(t, 10, h.registry.invocations[0].Request.ResponseTimeoutInSeconds)
}

func TestProcessDeviceAlertLineScopedDetour(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicDeviceAlerts, datamodel.DeviceAlert{
		DeviceID:    "Press1",
		LineID:      "Line1",
		AlertType:   datamodel.AlertTypeTemperature,
		Severity:    3,
		Timestamp:   time.Now(),
		Temperature: 91,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	assert.Empty(t, h.commands)
	require.Len(t, h.fanouts, 1)
	fanout := h.fanouts[0]
	assert.Equal(t, datamodel.CoordinationOptimize, fanout.Action)
	assert.Equal(t, "Line1", fanout.LineID)
	assert.Equal(t, datamodel.OptimizeModeReduceLoad, fanout.Parameters.Mode)
	assert.Equal(t, "Press1", fanout.Parameters.TargetDevice)
	assert.Equal(t, []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}, fanout.AffectedDevices)
}

func TestProcessCriticalAlertSensorFailure(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicCriticalAlerts, datamodel.CriticalErrorAlert{
		DeviceID:         "Conveyor2",
		LineID:           "Line2",
		DeviceError:      42,
		HasSensorFailure: 1,
		Timestamp:        time.Now(),
		AlertID:          "alert-42",
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	require.Len(t, h.commands, 1)
	cmd := h.commands[0]
	assert.Equal(t, "Conveyor2", cmd.TargetDevice)
	assert.Equal(t, datamodel.CommandResetErrorStatus, cmd.CommandName)
	assert.False(t, cmd.Synchronous)
	assert.Contains(t, cmd.Reason, "sensor failure")
	assert.Contains(t, cmd.Reason, "42")
	assert.Equal(t, "alert-42", cmd.AlertID)
	assert.Empty(t, h.registry.invocations)

	require.Len(t, h.events.records, 1)
	record := h.events.records[0]
	assert.Equal(t, "Conveyor2", record.DeviceID)
	assert.Equal(t, "Line2", record.LineID)
	assert.Equal(t, 42, record.ErrorCode)
	assert.Equal(t, 1, record.ErrorCount)
	assert.Equal(t, datamodel.ActionSensorDiagnostic, record.ActionTaken)
}

func TestProcessLineAlertFansOutResets(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicLineAlerts, datamodel.LineErrorAlert{
		LineID:       "Line1",
		ErrorCount:   6,
		MaxErrorCode: 909,
		Timestamp:    time.Now(),
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	require.Len(t, h.commands, 4)
	targets := make([]string, 0, len(h.commands))
	for _, cmd := range h.commands {
		targets = append(targets, cmd.TargetDevice)
		assert.Equal(t, datamodel.CommandResetErrorStatus, cmd.CommandName)
		assert.Contains(t, cmd.Reason, "6 errors")
		assert.Contains(t, cmd.Reason, "909")
	}
	assert.Equal(t, []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}, targets)

	require.Len(t, h.events.records, 1)
	record := h.events.records[0]
	assert.Empty(t, record.DeviceID)
	assert.Equal(t, "Line1", record.LineID)
	assert.Equal(t, 909, record.ErrorCode)
	assert.Equal(t, 6, record.ErrorCount)
	assert.Equal(t, datamodel.ActionStopAndReset, record.ActionTaken)
}

func TestProcessLineAlertMidCountCompensates(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicLineAlerts, datamodel.LineErrorAlert{
		LineID:       "Line1",
		ErrorCount:   4,
		MaxErrorCode: 17,
		Timestamp:    time.Now(),
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	// Mid-ladder counts coordinate instead of resetting every device.
	assert.Empty(t, h.commands)
	require.Len(t, h.fanouts, 1)
	fanout := h.fanouts[0]
	assert.Equal(t, datamodel.CoordinationOptimize, fanout.Action)
	assert.Equal(t, datamodel.OptimizeModeCompensate, fanout.Parameters.Mode)
	assert.Equal(t, "Line1", fanout.LineID)
	assert.Equal(t, []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}, fanout.AffectedDevices)
	require.NotNil(t, fanout.Parameters.CompensationRate)
	assert.Equal(t, 20.0, *fanout.Parameters.CompensationRate)

	require.Len(t, h.events.records, 1)
	assert.Equal(t, datamodel.ActionCompensate, h.events.records[0].ActionTaken)
}

func TestProcessLineAlertLowCountResetsLine(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicLineAlerts, datamodel.LineErrorAlert{
		LineID:       "Line1",
		ErrorCount:   2,
		MaxErrorCode: 5,
		Timestamp:    time.Now(),
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	assert.Empty(t, h.commands)
	require.Len(t, h.fanouts, 1)
	assert.Equal(t, datamodel.CoordinationReset, h.fanouts[0].Action)
	assert.Equal(t, []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"}, h.fanouts[0].AffectedDevices)

	require.Len(t, h.events.records, 1)
	assert.Equal(t, datamodel.ActionReset, h.events.records[0].ActionTaken)
}

func TestProcessCoordinationEmergencyStop(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicLineCoordination, datamodel.LineCoordinationMessage{
		Action:          datamodel.CoordinationEmergencyStop,
		LineID:          "Line1",
		AffectedDevices: []string{"Press1", "Conveyor1", "QualityStation1", "Compressor1"},
		Reason:          "Device Press1 triggered emergency stop (error 7)",
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	require.Len(t, h.commands, 4)
	for _, cmd := range h.commands {
		assert.Equal(t, datamodel.CommandEmergencyStop, cmd.CommandName)
		assert.True(t, cmd.Synchronous)
	}
	assert.Len(t, h.registry.invocations, 4)
}

func TestProcessCoordinationResetInvalidatesDirectory(t *testing.T) {
	h := newHarness()

	_, err := h.dir.ResolveDevice(context.Background(), "Press1")
	require.NoError(t, err)
	require.Positive(t, h.dir.CachedDevices())

	msg := message(t, internal.TopicLineCoordination, datamodel.LineCoordinationMessage{
		Action:          datamodel.CoordinationReset,
		LineID:          "Line1",
		AffectedDevices: []string{"Press1", "Conveyor1"},
		Reason:          "Line reset after maintenance",
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	assert.Zero(t, h.dir.CachedDevices())
	require.Len(t, h.commands, 2)
	for _, cmd := range h.commands {
		assert.Equal(t, datamodel.CommandReset, cmd.CommandName)
		assert.True(t, cmd.Parameters.IsZero())
	}
}

func TestProcessCoordinationUnknownActionDropped(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicLineCoordination, datamodel.LineCoordinationMessage{
		Action:          "Defragment",
		LineID:          "Line1",
		AffectedDevices: []string{"Press1"},
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	assert.Empty(t, h.commands)
}

func TestMalformedPayloadCommitted(t *testing.T) {
	h := newHarness()

	for _, topic := range []string{
		internal.TopicDeviceAlerts,
		internal.TopicCriticalAlerts,
		internal.TopicLineAlerts,
		internal.TopicLineCoordination,
	} {
		msg := rawMessage(topic, []byte("{not json"))
		assert.NoError(t, h.reactor.processMessage(context.Background(), msg), topic)
	}
	assert.Empty(t, h.commands)
	assert.Empty(t, h.fanouts)
}

func TestInvalidAlertDropped(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicDeviceAlerts, datamodel.DeviceAlert{
		LineID:      "Line1",
		AlertType:   datamodel.AlertTypeTemperature,
		Temperature: 99,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	assert.Empty(t, h.commands)

	critical := message(t, internal.TopicCriticalAlerts, datamodel.CriticalErrorAlert{
		DeviceID:         "Press1",
		LineID:           "Line1",
		DeviceError:      0,
		HasEmergencyStop: 1,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), critical))
	assert.Empty(t, h.commands)
	assert.Empty(t, h.events.records)
}

func TestDuplicateDeliverySuppressed(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicCriticalAlerts, datamodel.CriticalErrorAlert{
		DeviceID:         "Conveyor2",
		LineID:           "Line2",
		DeviceError:      42,
		HasSensorFailure: 1,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))

	assert.Len(t, h.commands, 1)
	assert.Len(t, h.events.records, 1)
}

func TestQueueFailureTriggersRedelivery(t *testing.T) {
	h := newHarness()
	h.queueErr = errors.New("queue full")

	msg := message(t, internal.TopicLineAlerts, datamodel.LineErrorAlert{
		LineID:       "Line1",
		ErrorCount:   7,
		MaxErrorCode: 17,
	})
	err := h.reactor.processMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Empty(t, h.commands)

	// The failed message was never marked as handled, the redelivery
	// goes through the full pipeline again.
	h.queueErr = nil
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	assert.Len(t, h.commands, 4)
}

func TestErrorEventWriteFailureDoesNotBlock(t *testing.T) {
	h := newHarness()
	h.events.fail = true

	msg := message(t, internal.TopicLineAlerts, datamodel.LineErrorAlert{
		LineID:       "Line1",
		ErrorCount:   9,
		MaxErrorCode: 5,
	})
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	assert.Len(t, h.commands, 4)
}

func TestUnknownDeviceStillClassifies(t *testing.T) {
	h := newHarness()

	msg := message(t, internal.TopicDeviceAlerts, datamodel.DeviceAlert{
		DeviceID:  "Mixer9",
		LineID:    "",
		AlertType: datamodel.AlertTypeDeviceSpecific,
		Timestamp: time.Now(),
	})
	// Monitor decisions dispatch nothing but must still commit.
	require.NoError(t, h.reactor.processMessage(context.Background(), msg))
	assert.Empty(t, h.commands)
	assert.Empty(t, h.fanouts)
}
