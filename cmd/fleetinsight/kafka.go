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

// coordinationSender is what the apply and reset handlers need from Kafka.
type coordinationSender interface {
	SendMessage(message *shared.KafkaMessage)
	Close() error
}

var planPublisher coordinationSender

// coordinationPublisher wraps the async producer for the line coordination
// topic. The reactor consumes these messages and turns them into per-device
// commands.
type coordinationPublisher struct {
	producer *producer.Producer
}

func newCoordinationPublisher(brokers string) (*coordinationPublisher, error) {
	p, err := producer.NewProducer(strings.Split(brokers, ","))
	if err != nil {
		return nil, err
	}
	return &coordinationPublisher{producer: p}, nil
}

func (c *coordinationPublisher) SendMessage(message *shared.KafkaMessage) {
	c.producer.SendMessage(message)
}

func (c *coordinationPublisher) Close() error {
	return c.producer.Close()
}

// publishCoordinationMessages sends the messages keyed by line id so the
// reactor sees each line's coordination stream in order. Returns how many
// were handed to the producer.
func publishCoordinationMessages(sender coordinationSender, messages []datamodel.LineCoordinationMessage) int {
	sent := 0
	for i := range messages {
		payload, err := json.Marshal(&messages[i])
		if err != nil {
			zap.S().Warnf("Failed to marshal coordination message for line %s: %s", messages[i].LineID, err)
			continue
		}
		sender.SendMessage(&shared.KafkaMessage{
			Topic: internal.TopicLineCoordination,
			Key:   []byte(messages[i].LineID),
			Value: payload,
		})
		sent++
	}
	return sent
}
