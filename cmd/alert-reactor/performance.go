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
	"bytes"
	"math"
	"text/template"
	"time"

	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/dispatch"
	"go.uber.org/zap"
)

type reportData struct {
	LastKafkaMessageReceived string
	Messages                 float64
	MessagesPerSecond        float64
	Commits                  float64
	CommitsPerSecond         float64
	PutBacks                 float64
	PutBacksPerSecond        float64
	Confirmed                float64
	ConfirmedPerSecond       float64
	AlertsProcessed          float64
	AlertsPerSecond          float64
	AlertsDropped            float64
	DuplicateAlerts          float64
	CoordinationFanouts      float64
	CommandsGenerated        float64
	QueuedCommands           float64
	SentCommands             float64
	DroppedCommands          float64
	DirectInvocations        float64
	InvocationsSkipped       float64
	InvocationsFailed        float64
	DirectoryHitRate         float64
	CachedDevices            int
	ProcessorQueueLength     int
	PutBackQueueLength       int
	CommitQueueLength        int
	CommandQueueLength       uint64
}

const reportTemplate = `Performance report
| Commits: {{.Commits}}, Commits/s: {{.CommitsPerSecond}}
| Messages: {{.Messages}}, Messages/s: {{.MessagesPerSecond}}
| PutBacks: {{.PutBacks}}, PutBacks/s: {{.PutBacksPerSecond}}
| Confirmed: {{.Confirmed}}, Confirmed/s: {{.ConfirmedPerSecond}}
| Alerts: {{.AlertsProcessed}}, Alerts/s: {{.AlertsPerSecond}}, dropped: {{.AlertsDropped}}, duplicates: {{.DuplicateAlerts}}
| Coordination fan-outs: {{.CoordinationFanouts}}
| Commands generated: {{.CommandsGenerated}}, queued: {{.QueuedCommands}}, sent: {{.SentCommands}}, dropped: {{.DroppedCommands}}
| Direct invocations: {{.DirectInvocations}}, skipped: {{.InvocationsSkipped}}, failed: {{.InvocationsFailed}}
| Directory hitrate: {{.DirectoryHitRate}}, cached devices: {{.CachedDevices}}
| Processor queue length: {{.ProcessorQueueLength}}
| PutBack queue length: {{.PutBackQueueLength}}
| Commit queue length: {{.CommitQueueLength}}
| Command queue length: {{.CommandQueueLength}}
| Last Kafka message received: {{.LastKafkaMessageReceived}}`

func PerformanceReport() {
	lastCommits := float64(0)
	lastMessages := float64(0)
	lastPutbacks := float64(0)
	lastConfirmed := float64(0)
	lastAlerts := float64(0)
	sleepS := 10.0

	t, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		zap.S().Errorf("Error parsing template: %s", err.Error())
		ShutdownApplicationGraceful()
		return
	}

	for !ShuttingDown {
		// Prevent data-race with channel creation
		if AlertProcessorChannel == nil ||
			AlertPutBackChannel == nil ||
			AlertCommitChannel == nil ||
			commandOutGoingQueue == nil {
			time.Sleep(time.Second * 1)
			continue
		}

		preExecutionTime := time.Now()
		commitsPerSecond := (internal.KafkaCommits - lastCommits) / sleepS
		messagesPerSecond := (internal.KafkaMessages - lastMessages) / sleepS
		putbacksPerSecond := (internal.KafkaPutBacks - lastPutbacks) / sleepS
		confirmedPerSecond := (internal.KafkaConfirmed - lastConfirmed) / sleepS
		alertsPerSecond := (AlertsProcessed - lastAlerts) / sleepS
		lastCommits = internal.KafkaCommits
		lastMessages = internal.KafkaMessages
		lastPutbacks = internal.KafkaPutBacks
		lastConfirmed = internal.KafkaConfirmed
		lastAlerts = AlertsProcessed

		lookups := directory.RegistryLookups + directory.CacheHits
		hitRate := float64(0)
		if lookups > 0 {
			hitRate = directory.CacheHits / lookups
		}

		data := reportData{
			Commits:                  internal.KafkaCommits,
			CommitsPerSecond:         commitsPerSecond,
			Messages:                 internal.KafkaMessages,
			MessagesPerSecond:        messagesPerSecond,
			PutBacks:                 internal.KafkaPutBacks,
			PutBacksPerSecond:        putbacksPerSecond,
			Confirmed:                internal.KafkaConfirmed,
			ConfirmedPerSecond:       confirmedPerSecond,
			AlertsProcessed:          AlertsProcessed,
			AlertsPerSecond:          alertsPerSecond,
			AlertsDropped:            AlertsDropped,
			DuplicateAlerts:          DuplicateAlerts,
			CoordinationFanouts:      CoordinationFanouts,
			CommandsGenerated:        dispatch.CommandsGenerated,
			QueuedCommands:           QueuedCommands,
			SentCommands:             SentCommands,
			DroppedCommands:          DroppedCommands,
			DirectInvocations:        dispatch.DirectInvocations,
			InvocationsSkipped:       dispatch.InvocationsSkipped,
			InvocationsFailed:        dispatch.InvocationsFailed,
			DirectoryHitRate:         hitRate,
			CachedDevices:            deviceDirectory.CachedDevices(),
			ProcessorQueueLength:     len(AlertProcessorChannel),
			PutBackQueueLength:       len(AlertPutBackChannel),
			CommitQueueLength:        len(AlertCommitChannel),
			CommandQueueLength:       commandOutGoingQueue.Length(),
			LastKafkaMessageReceived: internal.LastKafkaMessageReceived.Format(time.RFC3339),
		}
		var report bytes.Buffer
		err := t.Execute(&report, data)
		if err != nil {
			zap.S().Errorf("Error executing performance report template: %v", err)
			return
		}
		zap.S().Infof("Performance report: %s", report.String())

		if internal.KafkaCommits > math.MaxFloat64/2 || lastCommits > math.MaxFloat64/2 {
			internal.KafkaCommits = 0
			lastCommits = 0
			zap.S().Warnf("Resetting commit statistics")
		}
		if internal.KafkaMessages > math.MaxFloat64/2 || lastMessages > math.MaxFloat64/2 {
			internal.KafkaMessages = 0
			lastMessages = 0
			zap.S().Warnf("Resetting message statistics")
		}
		if internal.KafkaPutBacks > math.MaxFloat64/2 || lastPutbacks > math.MaxFloat64/2 {
			internal.KafkaPutBacks = 0
			lastPutbacks = 0
			zap.S().Warnf("Resetting putback statistics")
		}
		if internal.KafkaConfirmed > math.MaxFloat64/2 || lastConfirmed > math.MaxFloat64/2 {
			internal.KafkaConfirmed = 0
			lastConfirmed = 0
			zap.S().Warnf("Resetting confirmed statistics")
		}

		postExecutionTime := time.Now()
		executionTimeDiff := postExecutionTime.Sub(preExecutionTime).Seconds()
		if executionTimeDiff <= 0 {
			continue
		}
		time.Sleep(time.Second * time.Duration(sleepS-executionTimeDiff))
	}
}
