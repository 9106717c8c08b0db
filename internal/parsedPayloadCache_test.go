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

package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedAlert struct {
	DeviceID    string
	Temperature float64
}

func TestPayloadCacheRoundTrip(t *testing.T) {
	InitPayloadCache(1024 * 1024)

	payload := []byte(`{"deviceId":"Press1","temperature":97}`)
	parsed := cachedAlert{DeviceID: "Press1", Temperature: 97}

	var miss cachedAlert
	require.False(t, GetCacheParsedPayload("device-alerts", payload, &miss))

	PutCacheParsedPayload("device-alerts", payload, &parsed)

	var hit cachedAlert
	require.True(t, GetCacheParsedPayload("device-alerts", payload, &hit))
	assert.Equal(t, parsed, hit)

	// Same payload on another topic is a different message
	var otherTopic cachedAlert
	assert.False(t, GetCacheParsedPayload("critical-alerts", payload, &otherTopic))
}

func TestPayloadCacheUninitialized(t *testing.T) {
	Payloadcache = nil

	var target cachedAlert
	assert.False(t, GetCacheParsedPayload("device-alerts", []byte(`{}`), &target))
	// Must not panic either
	PutCacheParsedPayload("device-alerts", []byte(`{}`), &target)
}
