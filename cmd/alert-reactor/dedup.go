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
	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/xxh3"
)

const dedupCacheSize = 1_000_000

// messageFilter suppresses exact redeliveries of messages that were already
// handled. Marking is split from checking on purpose: a message that went
// back for redelivery was never marked, so the retry gets processed.
type messageFilter struct {
	arc *lru.ARCCache
}

func newMessageFilter(size int) *messageFilter {
	arc, _ := lru.NewARC(size)
	return &messageFilter{arc: arc}
}

func (f *messageFilter) hash(topic string, payload []byte) uint64 {
	hasher := xxh3.New()
	_, _ = hasher.Write([]byte(topic))
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}

func (f *messageFilter) seenBefore(topic string, payload []byte) bool {
	_, ok := f.arc.Get(f.hash(topic, payload))
	return ok
}

func (f *messageFilter) markHandled(topic string, payload []byte) {
	f.arc.Add(f.hash(topic, payload), true)
}
