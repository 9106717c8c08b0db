package internal

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTopic(t *testing.T) {
	assert.Equal(t, MessageClassDeviceAlert, ClassifyTopic(TopicDeviceAlerts))
	assert.Equal(t, MessageClassCriticalAlert, ClassifyTopic(TopicCriticalAlerts))
	assert.Equal(t, MessageClassLineAlert, ClassifyTopic(TopicLineAlerts))
	assert.Equal(t, MessageClassLineCoordination, ClassifyTopic(TopicLineCoordination))
	assert.Equal(t, MessageClassUnknown, ClassifyTopic("device-status-changes"))
	assert.Equal(t, MessageClassUnknown, ClassifyTopic(""))
}

func TestAlertsSubscriptionRegex(t *testing.T) {
	// Confluent strips the leading "^" marker and compiles the rest
	re := regexp.MustCompile(AlertsSubscriptionRegex)

	assert.True(t, re.MatchString(TopicDeviceAlerts))
	assert.True(t, re.MatchString(TopicCriticalAlerts))
	assert.True(t, re.MatchString(TopicLineAlerts))
	assert.True(t, re.MatchString(TopicLineCoordination))
	assert.False(t, re.MatchString(TopicDeviceStatusChanges))
	assert.False(t, re.MatchString("device-alerts-dead-letter"))
}

func TestGetCommandTopic(t *testing.T) {
	topic, err := GetCommandTopic("Press0")
	assert.NoError(t, err)
	assert.Equal(t, "ia/factoryagent/Press0/command", topic)

	topic, err = GetCommandTopic("quality-station_3")
	assert.NoError(t, err)
	assert.Equal(t, "ia/factoryagent/quality-station_3/command", topic)

	_, err = GetCommandTopic("press/0")
	assert.Error(t, err)

	_, err = GetCommandTopic("")
	assert.Error(t, err)

	_, err = GetCommandTopic("press#0")
	assert.Error(t, err)
}
