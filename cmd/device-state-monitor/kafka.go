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
	"strings"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/producer"
	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/shared"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// statusPublisher wraps the async producer for the status change topic.
// Production errors are counted by the wrapper and reported per sweep.
type statusPublisher struct {
	producer *producer.Producer
}

func newStatusPublisher(brokers string) (*statusPublisher, error) {
	p, err := producer.NewProducer(strings.Split(brokers, ","))
	if err != nil {
		return nil, err
	}
	return &statusPublisher{producer: p}, nil
}

func (s *statusPublisher) SendMessage(message *shared.KafkaMessage) {
	s.producer.SendMessage(message)
}

func (s *statusPublisher) stats() (produced uint64, errored uint64) {
	return s.producer.GetProducedMessages()
}

func (s *statusPublisher) close() error {
	return s.producer.Close()
}

type messageSender interface {
	SendMessage(message *shared.KafkaMessage)
}

// publishTransitions sends one message per recorded transition, keyed by
// device id so consumers see each device's transitions in order.
func publishTransitions(sender messageSender, transitions []datamodel.StatusChangeRecord) {
	for i := range transitions {
		payload, err := json.Marshal(&transitions[i])
		if err != nil {
			zap.S().Warnf("Failed to marshal status change for %s: %s", transitions[i].DeviceID, err)
			continue
		}
		sender.SendMessage(&shared.KafkaMessage{
			Topic: internal.TopicDeviceStatusChanges,
			Key:   []byte(transitions[i].DeviceID),
			Value: payload,
		})
	}
}
