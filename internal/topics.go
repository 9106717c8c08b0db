package internal

import (
	"fmt"
	"regexp"
)

const (
	// TopicDeviceAlerts carries standard telemetry alerts from devices.
	TopicDeviceAlerts = "device-alerts"

	// TopicCriticalAlerts carries structured critical device errors.
	TopicCriticalAlerts = "critical-alerts"

	// TopicLineAlerts carries aggregated error reports per production line.
	TopicLineAlerts = "line-alerts"

	// TopicLineCoordination carries line-wide coordination fan-out
	// messages produced by the decision stage.
	TopicLineCoordination = "line-coordination"

	// TopicDeviceStatusChanges carries health state transitions observed
	// by the device state monitor.
	TopicDeviceStatusChanges = "device-status-changes"
)

// AlertsSubscriptionRegex matches every topic the alert reactor consumes.
// Confluent treats a "^" prefixed subscription as a regex.
const AlertsSubscriptionRegex = "^(" + TopicDeviceAlerts + "|" + TopicCriticalAlerts + "|" + TopicLineAlerts + "|" + TopicLineCoordination + ")$"

type MessageClass int

const (
	MessageClassUnknown MessageClass = iota
	MessageClassDeviceAlert
	MessageClassCriticalAlert
	MessageClassLineAlert
	MessageClassLineCoordination
)

// ClassifyTopic maps a consumed topic name to the payload class expected on
// it. Unknown topics classify as MessageClassUnknown and must not be
// redelivered, the subscription regex should never let them through.
func ClassifyTopic(topic string) MessageClass {
	switch topic {
	case TopicDeviceAlerts:
		return MessageClassDeviceAlert
	case TopicCriticalAlerts:
		return MessageClassCriticalAlert
	case TopicLineAlerts:
		return MessageClassLineAlert
	case TopicLineCoordination:
		return MessageClassLineCoordination
	}
	return MessageClassUnknown
}

const mqttCommandTopicFormat = "ia/factoryagent/%s/command"

var deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// GetCommandTopic returns the MQTT topic a device listens on for commands.
func GetCommandTopic(deviceID string) (string, error) {
	if !deviceIDRegex.MatchString(deviceID) {
		return "", fmt.Errorf("invalid device id: %q", deviceID)
	}
	return fmt.Sprintf(mqttCommandTopicFormat, deviceID), nil
}
