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
	"bytes"
	"encoding/gob"

	"github.com/coocood/freecache"
	"go.uber.org/zap"
)

// Payloadcache holds decoded alert payloads keyed by topic and raw bytes,
// this prevents double parsing of payloads the broker redelivers
var Payloadcache *freecache.Cache

func InitPayloadCache(payloadCacheSizeBytes int) {
	Payloadcache = freecache.NewCache(payloadCacheSizeBytes)
}

// PutCacheParsedPayload stores the decoded form of a payload. Encoding
// failures only cost the cache entry, the caller already holds the value.
func PutCacheParsedPayload(topic string, payload []byte, parsed interface{}) {
	if Payloadcache == nil {
		return
	}

	var cacheKey = AsXXHash([]byte(topic), payload)

	var buffer bytes.Buffer
	err := gob.NewEncoder(&buffer).Encode(parsed)
	if err != nil {
		zap.S().Errorf("Failed to encode payload: %s", err)
		return
	}
	err = Payloadcache.Set(cacheKey, buffer.Bytes(), 0)
	if err != nil {
		zap.S().Debugf("Error putting payload in cache: %s", err)
	}
}

// GetCacheParsedPayload looks up the decoded form of a payload and decodes it
// into target, returning whether the lookup hit.
func GetCacheParsedPayload(topic string, payload []byte, target interface{}) (found bool) {
	if Payloadcache == nil {
		return false
	}

	var cacheKey = AsXXHash([]byte(topic), payload)
	get, err := Payloadcache.Get(cacheKey)
	if err != nil {
		return false
	}

	reader := bytes.NewReader(get)
	err = gob.NewDecoder(reader).Decode(target)
	if err != nil {
		zap.S().Debugf("Error decoding cached payload: %s", err)
		return false
	}

	return true
}
