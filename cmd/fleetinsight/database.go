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
	"context"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// recordReader is the slice of the record store the read handlers need.
type recordReader interface {
	StatusHistory(ctx context.Context, deviceID string, from time.Time, to time.Time) ([]datamodel.StatusChangeRecord, error)
	ErrorEvents(ctx context.Context, lineID string, from time.Time, to time.Time) ([]datamodel.ErrorEventRecord, error)
	LineKPIs(ctx context.Context, lineID string, from time.Time, to time.Time) ([]datamodel.LineKPIRecord, error)
}

var records recordReader

// A closed time range never changes, an open one still accumulates rows and
// only lives for the memory tier's lifetime.
const (
	closedRangeExpiration = 12 * time.Hour
	openRangeExpiration   = 10 * time.Second
)

var queryMutex = mapmutex.NewCustomizedMapMutex(
	800,
	100000000,
	10,
	1.1,
	0.2) // default configs: maxDelay:  100000000, // 0.1 second baseDelay: 10,        // 10 nanosecond

func cacheExpiration(to time.Time) time.Duration {
	if to.Before(time.Now()) {
		return closedRangeExpiration
	}
	return openRangeExpiration
}

// getStatusHistory returns the status transitions of one device in the range,
// newest first.
func getStatusHistory(
	ctx context.Context,
	deviceID string,
	from time.Time,
	to time.Time) (data []datamodel.StatusChangeRecord, err error) {
	key := fmt.Sprintf("getStatusHistory-%s-%d-%d", deviceID, from.UnixMilli(), to.UnixMilli())
	if queryMutex.TryLock(key) { // is it already running?
		defer queryMutex.Unlock(key)

		// Get from cache if possible
		if internal.GetTieredStruct(key, &data) {
			zap.S().Debugf("getStatusHistory cache hit")
			return
		}

		data, err = records.StatusHistory(ctx, deviceID, from, to)
		if err != nil {
			return
		}

		internal.SetTieredStruct(key, data, cacheExpiration(to))
	} else {
		zap.S().Error("Failed to get Mutex")
	}

	return
}

// getErrorEvents returns the error events recorded for a line in the range,
// newest first.
func getErrorEvents(
	ctx context.Context,
	lineID string,
	from time.Time,
	to time.Time) (data []datamodel.ErrorEventRecord, err error) {
	key := fmt.Sprintf("getErrorEvents-%s-%d-%d", lineID, from.UnixMilli(), to.UnixMilli())
	if queryMutex.TryLock(key) { // is it already running?
		defer queryMutex.Unlock(key)

		// Get from cache if possible
		if internal.GetTieredStruct(key, &data) {
			zap.S().Debugf("getErrorEvents cache hit")
			return
		}

		data, err = records.ErrorEvents(ctx, lineID, from, to)
		if err != nil {
			return
		}

		internal.SetTieredStruct(key, data, cacheExpiration(to))
	} else {
		zap.S().Error("Failed to get Mutex")
	}

	return
}

// getLineKPIs returns the KPI rollups recorded for a line in the range,
// newest first.
func getLineKPIs(
	ctx context.Context,
	lineID string,
	from time.Time,
	to time.Time) (data []datamodel.LineKPIRecord, err error) {
	key := fmt.Sprintf("getLineKPIs-%s-%d-%d", lineID, from.UnixMilli(), to.UnixMilli())
	if queryMutex.TryLock(key) { // is it already running?
		defer queryMutex.Unlock(key)

		// Get from cache if possible
		if internal.GetTieredStruct(key, &data) {
			zap.S().Debugf("getLineKPIs cache hit")
			return
		}

		data, err = records.LineKPIs(ctx, lineID, from, to)
		if err != nil {
			return
		}

		internal.SetTieredStruct(key, data, cacheExpiration(to))
	} else {
		zap.S().Error("Failed to get Mutex")
	}

	return
}
