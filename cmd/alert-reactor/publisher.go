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
	"errors"
	"fmt"
	"time"

	"github.com/beeker1121/goque"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

var mqttClient MQTT.Client
var commandOutGoingQueue *goque.Queue

var QueuedCommands = float64(0)
var SentCommands = float64(0)
var DroppedCommands = float64(0)

var MQTTSenderThreads int

// queuedCommand is the disk representation of one pending MQTT publish.
type queuedCommand struct {
	Topic   string
	Payload []byte
}

func setupCommandQueue(queuePath string) (err error) {
	commandOutGoingQueue, err = goque.OpenQueue(queuePath + "/commands")
	if err != nil {
		zap.S().Errorf("Error opening command queue: %s", err)
		return
	}
	return
}

func closeCommandQueue() {
	if commandOutGoingQueue == nil {
		return
	}
	err := commandOutGoingQueue.Close()
	if err != nil {
		zap.S().Errorf("Error closing command queue: %s", err)
	}
}

// enqueueCommand serializes a command into the outgoing queue. Commands for
// device ids the topic scheme cannot carry are dropped, retrying them can
// never succeed.
func enqueueCommand(cmd *datamodel.Command) error {
	topic, err := internal.GetCommandTopic(cmd.TargetDevice)
	if err != nil {
		zap.S().Warnf("Dropping %s command: %s", cmd.CommandName, err)
		DroppedCommands += 1
		return nil
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		zap.S().Warnf("Dropping unserializable %s command for %s: %s", cmd.CommandName, cmd.TargetDevice, err)
		DroppedCommands += 1
		return nil
	}
	return storeCommandIntoQueue(topic, payload)
}

func storeCommandIntoQueue(topic string, payload []byte) error {
	newElement := queuedCommand{
		Topic:   topic,
		Payload: payload,
	}
	_, err := commandOutGoingQueue.EnqueueObject(newElement)
	if err != nil {
		return err
	}
	QueuedCommands += 1
	return nil
}

func retrieveCommandFromQueue() (*queuedCommand, error) {
	if commandOutGoingQueue.Length() == 0 {
		return nil, nil
	}
	item, err := commandOutGoingQueue.Dequeue()
	if err != nil {
		if errors.Is(err, goque.ErrEmpty) {
			return nil, nil
		}
		return nil, err
	}

	var object queuedCommand
	err = item.ToObject(&object)
	if err != nil {
		return nil, err
	}
	return &object, nil
}

func processOutgoingCommands() {
	for i := 0; i < MQTTSenderThreads; i++ {
		go SendQueuedCommands()
	}
}

// SendQueuedCommands drains the disk queue onto the broker. While the broker
// is away commands keep accumulating in the queue and AutoReconnect brings
// the session back, device commands must survive a broker restart.
func SendQueuedCommands() {
	var loopsSinceLastCommand = int64(0)
	for !ShuttingDown {
		internal.SleepBackedOff(loopsSinceLastCommand, time.Millisecond, internal.OneSecond)
		loopsSinceLastCommand += 1

		if !mqttClient.IsConnected() {
			continue
		}

		command, err := retrieveCommandFromQueue()
		if err != nil {
			zap.S().Errorf("Failed to dequeue command: %s", err)
			continue
		}
		if command == nil {
			continue
		}

		token := mqttClient.Publish(command.Topic, 1, false, command.Payload)

		for i := 0; i < 10; i++ {
			if token.WaitTimeout(internal.TenSeconds) {
				loopsSinceLastCommand = 0
				break
			}
		}

		// Failed to reach the broker
		err = token.Error()
		if err != nil {
			zap.S().Warnf("Failed to publish command (%v), re-queueing", err)
			if err = storeCommandIntoQueue(command.Topic, command.Payload); err != nil {
				zap.S().Errorf("Failed to re-queue command: %s", err)
			}
			continue
		}
		SentCommands += 1
	}
	zap.S().Infof("Command sender thread stopped")
}

// setupMQTT connects to the broker the devices listen on. The reactor only
// publishes, there is no subscription to restore on reconnect.
func setupMQTT(mqttBrokerURL string, podName string, password string, health healthcheck.Handler) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(mqttBrokerURL)
	opts.SetUsername("ALERT_REACTOR")
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetClientID(podName)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)
	opts.SetOrderMatters(false)

	zap.S().Debugf("Broker configured (%s) (%s)", mqttBrokerURL, podName)

	mqttClient = MQTT.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		zap.S().Fatalf("Failed to connect: %s", token.Error())
	}

	health.AddReadinessCheck("mqtt-check", checkConnected(mqttClient))
}

func onConnect(c MQTT.Client) {
	optionsReader := c.OptionsReader()
	zap.S().Infof("Connected to MQTT broker (%s)", optionsReader.ClientID())
}

// onConnectionLost outputs a warn message, AutoReconnect handles the rest
func onConnectionLost(c MQTT.Client, err error) {
	optionsReader := c.OptionsReader()
	zap.S().Warnf("Connection lost, reconnecting (%v) (%s)", err, optionsReader.ClientID())
}

func checkConnected(c MQTT.Client) healthcheck.Check {

	return func() error {
		if c.IsConnected() {
			return nil
		}
		return fmt.Errorf("not connected")
	}
}
