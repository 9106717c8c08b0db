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
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

var AlertProcessorChannel chan *kafka.Message
var AlertCommitChannel chan *kafka.Message
var AlertPutBackChannel chan internal.PutBackChanMsg

// AlertKafkaConsumer reads the alert and coordination topics
var AlertKafkaConsumer *kafka.Consumer

// AlertKafkaProducer writes coordination fan-outs and putbacks
var AlertKafkaProducer *kafka.Producer

// AlertKafkaAdminClient is used by the topic probes
var AlertKafkaAdminClient *kafka.AdminClient

// SetupAlertKafka sets up the alert Kafka consumer, producer and admin
func SetupAlertKafka(configMap kafka.ConfigMap) {
	var err error
	AlertKafkaConsumer, err = kafka.NewConsumer(&configMap)
	if err != nil {
		zap.S().Fatalf("Failed to create consumer: %s", err)
	}

	AlertKafkaProducer, err = kafka.NewProducer(&configMap)
	if err != nil {
		zap.S().Fatalf("Failed to create producer: %s", err)
	}

	AlertKafkaAdminClient, err = kafka.NewAdminClient(&configMap)
	if err != nil {
		zap.S().Fatalf("Failed to create new admin client: %s", err)
	}

}

// CloseAlertKafka closes the alert Kafka consumer, producer and admin
func CloseAlertKafka() {
	if AlertKafkaConsumer == nil {
		return
	}
	zap.S().Infof("[AR]Closing Kafka Consumer")
	err := AlertKafkaConsumer.Close()
	if err != nil {
		zap.S().Fatalf("[AR]Failed to close Kafka Consumer: %s", err)
	}

	zap.S().Infof("[AR]Closing Kafka Producer")
	AlertKafkaProducer.Flush(100)
	AlertKafkaProducer.Close()

	zap.S().Infof("[AR]Closing Kafka Admin Client")
	AlertKafkaAdminClient.Close()
}

// produceCoordinationMessage feeds a line-wide fan-out back onto the
// coordination topic, where the reactor consumes it again and expands it
// into per-device commands. Broker level failures surface on the producer
// event channel and go through the putback processor.
func produceCoordinationMessage(msg *datamodel.LineCoordinationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic := internal.TopicLineCoordination
	return AlertKafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Value: payload,
	}, nil)
}
