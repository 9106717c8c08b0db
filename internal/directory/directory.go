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

// Package directory resolves device and line identifiers to metadata. Both
// caches share one TTL, a miss triggers a registry lookup and registry
// failures degrade to name-pattern fallbacks instead of failing the alert.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// ErrUnknownDeviceType is returned when neither the device name nor any
// fallback yields a usable device type.
var ErrUnknownDeviceType = errors.New("unknown device type")

// RegistryLookups and CacheHits are counters for stats only
var RegistryLookups = float64(0)
var CacheHits = float64(0)

// Directory caches device metadata and line membership on top of the
// registry. Safe for concurrent use by every alert handler and the health
// monitor.
type Directory struct {
	reg           registry.API
	primaryLineID string

	// mu only guards the cache pointers, which Invalidate swaps out
	// wholesale. Entry level safety is the expiremap's business.
	mu      sync.RWMutex
	devices *expiremap.ExpireMap[string, datamodel.DeviceMetadata]
	lines   *expiremap.ExpireMap[string, []string]

	// locks deduplicates concurrent lookups for the same key. Losing the
	// lock race is harmless, the loser just resolves on its own.
	locks *mapmutex.Mutex

	ttl time.Duration
}

// New builds a Directory over the given registry. primaryLineID is the line
// a fallback-resolved device is attributed to when the registry cannot be
// asked.
func New(reg registry.API, primaryLineID string, ttl time.Duration) *Directory {
	return &Directory{
		reg:           reg,
		primaryLineID: primaryLineID,
		devices:       expiremap.NewEx[string, datamodel.DeviceMetadata](ttl/2, ttl),
		lines:         expiremap.NewEx[string, []string](ttl/2, ttl),
		locks: mapmutex.NewCustomizedMapMutex(
			800,
			100000000,
			10,
			1.1,
			0.2), // default configs: maxDelay:  100000000, // 0.1 second baseDelay: 10,        // 10 nanosecond
		ttl: ttl,
	}
}

// ResolveDevice returns metadata for a device, from cache when fresh. On a
// miss it queries the registry, on registry failure it falls back to a
// record inferred from the device name. Fallback records are cached like
// normal results so a dead registry is not hammered once per alert.
func (d *Directory) ResolveDevice(ctx context.Context, deviceID string) (datamodel.DeviceMetadata, error) {
	if meta, ok := d.deviceCache().Load(deviceID); ok {
		CacheHits += 1
		return *meta, nil
	}

	if d.locks.TryLock(deviceID) {
		defer d.locks.Unlock(deviceID)
		// Another resolver may have filled the cache while we waited
		if meta, ok := d.deviceCache().Load(deviceID); ok {
			CacheHits += 1
			return *meta, nil
		}
	}

	return d.resolveDeviceUncached(ctx, deviceID)
}

func (d *Directory) resolveDeviceUncached(ctx context.Context, deviceID string) (datamodel.DeviceMetadata, error) {
	RegistryLookups += 1
	twin, err := d.reg.GetDevice(ctx, deviceID)
	if err != nil {
		return d.fallbackDevice(deviceID, err)
	}

	deviceType := TypeFromName(deviceID)
	if deviceType == datamodel.DeviceTypeUnknown {
		return datamodel.DeviceMetadata{}, fmt.Errorf("%w: %s", ErrUnknownDeviceType, deviceID)
	}

	meta := datamodel.DeviceMetadata{
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		LineID:      twin.Reported.LineID,
		LineName:    twin.Reported.LineName,
		RefreshedAt: time.Now(),
	}
	if twin.Connected {
		meta.ConnectionState = datamodel.ConnectionConnected
	} else {
		meta.ConnectionState = datamodel.ConnectionDisconnected
	}
	if state, ok := datamodel.ParseHealthState(twin.Reported.Status); ok {
		meta.HealthState = state
	}

	d.deviceCache().Set(deviceID, meta)
	return meta, nil
}

func (d *Directory) fallbackDevice(deviceID string, cause error) (datamodel.DeviceMetadata, error) {
	deviceType := TypeFromName(deviceID)
	if deviceType == datamodel.DeviceTypeUnknown {
		return datamodel.DeviceMetadata{}, fmt.Errorf("%w: %s (registry lookup failed: %s)", ErrUnknownDeviceType, deviceID, cause)
	}

	zap.S().Warnf("Registry lookup for %s failed, using fallback metadata: %s", deviceID, cause)
	meta := datamodel.DeviceMetadata{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		LineID:     d.primaryLineID,
		// Fallback devices count as connected so commands still get
		// attempted, delivery failures surface at invocation time.
		ConnectionState: datamodel.ConnectionConnected,
		RefreshedAt:     time.Now(),
		Fallback:        true,
	}

	d.deviceCache().Set(deviceID, meta)
	return meta, nil
}

// ResolveLineMembers returns the device ids belonging to a line, in registry
// scan order. Callers feeding the optimizer rely on this order matching the
// physical line order. On registry failure the canonical four-role member
// list is synthesized from the line's numeric suffix.
func (d *Directory) ResolveLineMembers(ctx context.Context, lineID string) ([]string, error) {
	if members, ok := d.lineCache().Load(lineID); ok {
		CacheHits += 1
		return append([]string(nil), *members...), nil
	}

	if d.locks.TryLock(lineID) {
		defer d.locks.Unlock(lineID)
		if members, ok := d.lineCache().Load(lineID); ok {
			CacheHits += 1
			return append([]string(nil), *members...), nil
		}
	}

	RegistryLookups += 1
	twins, err := d.reg.ListDevices(ctx)
	if err != nil {
		members := SynthesizeLineMembers(lineID)
		if members == nil {
			zap.S().Warnf("Registry scan for line %s failed and no members could be synthesized: %s", lineID, err)
			return nil, nil
		}
		zap.S().Warnf("Registry scan for line %s failed, synthesized members %v: %s", lineID, members, err)
		d.lineCache().Set(lineID, members)
		return append([]string(nil), members...), nil
	}

	var members []string
	for _, twin := range twins {
		if twin.Reported.LineID == lineID {
			members = append(members, twin.DeviceID)
		}
	}

	d.lineCache().Set(lineID, members)
	return append([]string(nil), members...), nil
}

// ConnectionState looks up the live connection state of a device, bypassing
// the TTL. A successful lookup refreshes the cached metadata on the side. On
// lookup failure the cached state is returned, an unknown device counts as
// disconnected.
func (d *Directory) ConnectionState(ctx context.Context, deviceID string) (datamodel.ConnectionState, error) {
	twin, err := d.reg.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return datamodel.ConnectionDisconnected, nil
		}
		if meta, ok := d.deviceCache().Load(deviceID); ok {
			zap.S().Warnf("Live connection check for %s failed, using cached state: %s", deviceID, err)
			return meta.ConnectionState, nil
		}
		return "", fmt.Errorf("connection check for %s failed: %w", deviceID, err)
	}

	state := datamodel.ConnectionDisconnected
	if twin.Connected {
		state = datamodel.ConnectionConnected
	}
	if meta, ok := d.deviceCache().Load(deviceID); ok {
		refreshed := *meta
		refreshed.ConnectionState = state
		refreshed.RefreshedAt = time.Now()
		d.deviceCache().Set(deviceID, refreshed)
	}
	return state, nil
}

// Invalidate drops both caches. Used for operational recovery, the next
// access repopulates from the registry.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = expiremap.NewEx[string, datamodel.DeviceMetadata](d.ttl/2, d.ttl)
	d.lines = expiremap.NewEx[string, []string](d.ttl/2, d.ttl)
	zap.S().Infof("Device directory invalidated")
}

// CachedDevices reports the number of device entries currently cached.
func (d *Directory) CachedDevices() int {
	return d.deviceCache().Length()
}

// WaitForRegistry blocks until the registry answers its health probe, backing
// off exponentially between attempts.
func (d *Directory) WaitForRegistry() {
	tries := int64(1)
	for !d.reg.IsAvailable() {
		zap.S().Infof("Registry not yet available, waiting")
		internal.SleepBackedOff(tries, internal.OneSecond, internal.TenSeconds)
		tries++
	}
}

func (d *Directory) deviceCache() *expiremap.ExpireMap[string, datamodel.DeviceMetadata] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.devices
}

func (d *Directory) lineCache() *expiremap.ExpireMap[string, []string] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lines
}
