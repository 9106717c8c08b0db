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
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/coordination"
	"github.com/united-manufacturing-hub/factory-agent/internal/decision"
	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/dispatch"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// AlertsProcessed is a counter for classified alerts, this is used for stats only
var AlertsProcessed = float64(0)

// AlertsDropped is a counter for unparseable or invalid messages, this is used for stats only
var AlertsDropped = float64(0)

// DuplicateAlerts is a counter for redelivered duplicates, this is used for stats only
var DuplicateAlerts = float64(0)

// CoordinationFanouts is a counter for line-wide fan-outs, this is used for stats only
var CoordinationFanouts = float64(0)

// errorEventRecorder is the slice of the record store the reactor writes to.
type errorEventRecorder interface {
	SaveErrorEvent(ctx context.Context, record *datamodel.ErrorEventRecord) error
}

// reactor joins the pipeline stages: resolve the device environment,
// classify, then either fan out over the coordination topic or emit
// per-device commands. All collaborators are injected so the pipeline can
// run against test doubles.
type reactor struct {
	dir    *directory.Directory
	disp   *dispatch.Dispatcher
	events errorEventRecorder
	filter *messageFilter

	// sendCommand hands a per-device command to the outgoing MQTT queue,
	// sendCoordination produces a fan-out message back onto Kafka.
	sendCommand      func(cmd *datamodel.Command) error
	sendCoordination func(msg *datamodel.LineCoordinationMessage) error
}

func newReactor(
	dir *directory.Directory,
	disp *dispatch.Dispatcher,
	events errorEventRecorder,
	sendCommand func(cmd *datamodel.Command) error,
	sendCoordination func(msg *datamodel.LineCoordinationMessage) error) *reactor {
	return &reactor{
		dir:              dir,
		disp:             disp,
		events:           events,
		filter:           newMessageFilter(dedupCacheSize),
		sendCommand:      sendCommand,
		sendCoordination: sendCoordination,
	}
}

func startAlertProcessor(r *reactor) {
	for !ShuttingDown {
		msg := <-AlertProcessorChannel
		if msg == nil {
			continue
		}

		err := r.processMessage(context.Background(), msg)
		if err != nil {
			errStr := err.Error()
			AlertPutBackChannel <- internal.PutBackChanMsg{
				Msg:         msg,
				Reason:      "Processing failed",
				ErrorString: &errStr,
			}
			continue
		}
		AlertCommitChannel <- msg
	}
	zap.S().Infof("[AR] Alert processor shutting down")
}

// processMessage handles one consumed message. A non-nil error sends the
// message back to its topic for redelivery; malformed payloads are dropped
// with a warning instead, redelivering them can never succeed.
func (r *reactor) processMessage(ctx context.Context, msg *kafka.Message) error {
	if msg.TopicPartition.Topic == nil {
		AlertsDropped += 1
		return nil
	}
	topic := *msg.TopicPartition.Topic
	if r.filter.seenBefore(topic, msg.Value) {
		DuplicateAlerts += 1
		return nil
	}

	var err error
	switch internal.ClassifyTopic(topic) {
	case internal.MessageClassDeviceAlert:
		err = r.handleDeviceAlert(ctx, msg.Value)
	case internal.MessageClassCriticalAlert:
		err = r.handleCriticalAlert(ctx, msg.Value)
	case internal.MessageClassLineAlert:
		err = r.handleLineAlert(ctx, msg.Value)
	case internal.MessageClassLineCoordination:
		err = r.handleCoordination(ctx, msg.Value)
	default:
		zap.S().Warnf("Ignoring message on unexpected topic %s", topic)
		AlertsDropped += 1
		return nil
	}
	if err != nil {
		return err
	}
	// Only fully handled messages count as seen, a putback must be
	// reprocessed on redelivery.
	r.filter.markHandled(topic, msg.Value)
	return nil
}

func (r *reactor) handleDeviceAlert(ctx context.Context, payload []byte) error {
	var alert datamodel.DeviceAlert
	if !internal.GetCacheParsedPayload(internal.TopicDeviceAlerts, payload, &alert) {
		if err := json.Unmarshal(payload, &alert); err != nil {
			zap.S().Warnf("Failed to parse device alert, dropping: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		if err := alert.Validate(); err != nil {
			zap.S().Warnf("Dropping invalid device alert: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		internal.PutCacheParsedPayload(internal.TopicDeviceAlerts, payload, &alert)
	}

	d := decision.ClassifyDeviceAlert(&alert, r.deviceContext(ctx, &alert))
	return r.act(ctx, &d)
}

func (r *reactor) handleCriticalAlert(ctx context.Context, payload []byte) error {
	var alert datamodel.CriticalErrorAlert
	if !internal.GetCacheParsedPayload(internal.TopicCriticalAlerts, payload, &alert) {
		if err := json.Unmarshal(payload, &alert); err != nil {
			zap.S().Warnf("Failed to parse critical alert, dropping: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		if err := alert.Validate(); err != nil {
			zap.S().Warnf("Dropping invalid critical alert: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		internal.PutCacheParsedPayload(internal.TopicCriticalAlerts, payload, &alert)
	}

	d := decision.ClassifyCriticalAlert(&alert, r.lineMembers(ctx, alert.LineID))
	r.recordErrorEvent(ctx, &datamodel.ErrorEventRecord{
		DeviceID:    alert.DeviceID,
		LineID:      alert.LineID,
		ErrorCode:   alert.DeviceError,
		ErrorCount:  1,
		ActionTaken: d.RecommendedAction,
		Reason:      d.Reason,
		Timestamp:   time.Now(),
	})
	return r.act(ctx, &d)
}

func (r *reactor) handleLineAlert(ctx context.Context, payload []byte) error {
	var alert datamodel.LineErrorAlert
	if !internal.GetCacheParsedPayload(internal.TopicLineAlerts, payload, &alert) {
		if err := json.Unmarshal(payload, &alert); err != nil {
			zap.S().Warnf("Failed to parse line alert, dropping: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		if err := alert.Validate(); err != nil {
			zap.S().Warnf("Dropping invalid line alert: %s (%s)", err, payload)
			AlertsDropped += 1
			return nil
		}
		internal.PutCacheParsedPayload(internal.TopicLineAlerts, payload, &alert)
	}

	d := decision.ClassifyLineAlert(&alert, r.lineMembers(ctx, alert.LineID))
	// Line-level events carry no device id, they are keyed by the line.
	r.recordErrorEvent(ctx, &datamodel.ErrorEventRecord{
		LineID:      alert.LineID,
		ErrorCode:   alert.MaxErrorCode,
		ErrorCount:  alert.ErrorCount,
		ActionTaken: d.RecommendedAction,
		Reason:      d.Reason,
		Timestamp:   time.Now(),
	})
	return r.act(ctx, &d)
}

func (r *reactor) handleCoordination(ctx context.Context, payload []byte) error {
	var msg datamodel.LineCoordinationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		zap.S().Warnf("Failed to parse coordination message, dropping: %s (%s)", err, payload)
		AlertsDropped += 1
		return nil
	}

	commands := coordination.Route(&msg)
	if commands == nil {
		zap.S().Warnf("Unknown coordination action %q for line %s, dropping", msg.Action, msg.LineID)
		AlertsDropped += 1
		return nil
	}
	if msg.Action == datamodel.CoordinationReset {
		// Cached device state is stale once a line reset went out.
		r.dir.Invalidate()
	}
	return r.dispatchCommands(ctx, commands)
}

// act routes a classified decision. Line-scoped actions detour over the
// coordination topic, everything else becomes per-device commands directly.
func (r *reactor) act(ctx context.Context, d *datamodel.Decision) error {
	AlertsProcessed += 1
	target := d.DeviceID
	if target == "" {
		target = d.LineID
	}
	if !d.HasAction() {
		zap.S().Infof("Nothing to dispatch for %s alert on %s: %s", d.AlertType, target, d.Reason)
		return nil
	}

	zap.S().Infow(
		"Classified alert",
		"device", d.DeviceID,
		"line", d.LineID,
		"action", d.RecommendedAction,
		"urgency", d.Urgency,
		"reason", d.Reason)

	if coordMsg, lineScoped := coordination.RouteDecision(d); lineScoped {
		CoordinationFanouts += 1
		return r.sendCoordination(coordMsg)
	}
	return r.dispatchCommands(ctx, dispatch.Commands(d, datamodel.SenderAlertReactor))
}

func (r *reactor) dispatchCommands(ctx context.Context, commands []datamodel.Command) error {
	for i := range commands {
		cmd := &commands[i]
		if err := r.sendCommand(cmd); err != nil {
			return fmt.Errorf("failed to queue %s for %s: %w", cmd.CommandName, cmd.TargetDevice, err)
		}
		if cmd.Synchronous {
			r.disp.InvokeDirect(ctx, cmd)
		}
	}
	return nil
}

// deviceContext resolves the alert environment. Resolution degrades instead
// of failing: an unknown device type still classifies (as Monitor), a line
// that cannot be resolved shrinks line-wide decisions to the device itself.
func (r *reactor) deviceContext(ctx context.Context, alert *datamodel.DeviceAlert) decision.DeviceContext {
	dctx := decision.DeviceContext{DeviceType: datamodel.DeviceTypeUnknown}
	meta, err := r.dir.ResolveDevice(ctx, alert.DeviceID)
	if err != nil {
		zap.S().Warnf("Could not resolve device %s: %s", alert.DeviceID, err)
	} else {
		dctx.DeviceType = meta.DeviceType
	}
	dctx.LineMembers = r.lineMembers(ctx, alert.LineID)
	return dctx
}

func (r *reactor) lineMembers(ctx context.Context, lineID string) []string {
	if lineID == "" {
		return nil
	}
	members, err := r.dir.ResolveLineMembers(ctx, lineID)
	if err != nil {
		zap.S().Warnf("Could not resolve members of line %s: %s", lineID, err)
		return nil
	}
	return members
}

// recordErrorEvent writes the audit row. Storage trouble must not stall
// alert handling, failed writes are logged and skipped.
func (r *reactor) recordErrorEvent(ctx context.Context, record *datamodel.ErrorEventRecord) {
	if r.events == nil {
		return
	}
	if err := r.events.SaveErrorEvent(ctx, record); err != nil {
		zap.S().Warnf("Failed to record error event for line %s: %s", record.LineID, err)
	}
}
