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

// Package registry talks to the external device registry. It resolves device
// twins, lists the fleet and proxies synchronous direct method calls to
// devices. Everything above this package goes through the API interface, so
// tests can swap in a double.
package registry

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/go-resty/resty/v2"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"go.uber.org/zap"
)

// ErrDeviceNotFound is returned when the registry does not know the device.
var ErrDeviceNotFound = errors.New("device not found in registry")

// API is the registry surface the rest of the system consumes.
type API interface {
	GetDevice(ctx context.Context, deviceID string) (*DeviceTwin, error)
	ListDevices(ctx context.Context) ([]DeviceTwin, error)
	InvokeMethod(ctx context.Context, deviceID string, request MethodRequest, timeout time.Duration) (*MethodResult, error)
	IsAvailable() bool
}

// Client implements API against the registry's HTTP interface.
type Client struct {
	rst *resty.Client

	// listCache keeps the full fleet scan for a few seconds. The health
	// sweep and every line membership resolution hit the same endpoint,
	// a short-lived cache keeps that from hammering the registry.
	listCache    *freecache.Cache
	listCacheTTL int
}

const listCacheSizeBytes = 8 * 1024 * 1024

var listCacheKey = internal.AsXXHash([]byte("registry-device-list"))

// NewClient builds a registry client for the given base URL. timeout bounds
// a single HTTP attempt, transient failures are retried with backoff before
// the caller sees an error.
func NewClient(baseURL string, timeout time.Duration) *Client {
	rst := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		rst:          rst,
		listCache:    freecache.NewCache(listCacheSizeBytes),
		listCacheTTL: 15,
	}
}

// GetDevice fetches a single device twin.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*DeviceTwin, error) {
	var twin DeviceTwin
	resp, err := c.rst.R().
		SetContext(ctx).
		SetResult(&twin).
		Get(fmt.Sprintf("/api/v1/devices/%s", deviceID))
	if err != nil {
		return nil, fmt.Errorf("registry request for %s failed: %w", deviceID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrDeviceNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %d for %s", resp.StatusCode(), deviceID)
	}
	return &twin, nil
}

// ListDevices fetches every device twin known to the registry. Results are
// served from the short-lived response cache when possible.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceTwin, error) {
	if cached, err := c.listCache.Get(listCacheKey); err == nil {
		var twins []DeviceTwin
		decoder := gob.NewDecoder(bytes.NewReader(cached))
		if err = decoder.Decode(&twins); err == nil {
			return twins, nil
		}
		zap.S().Warnf("Failed to decode cached device list: %s", err)
	}

	var twins []DeviceTwin
	resp, err := c.rst.R().
		SetContext(ctx).
		SetResult(&twins).
		Get("/api/v1/devices")
	if err != nil {
		return nil, fmt.Errorf("registry device list failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %d for device list", resp.StatusCode())
	}

	var buffer bytes.Buffer
	encoder := gob.NewEncoder(&buffer)
	if err = encoder.Encode(twins); err != nil {
		zap.S().Warnf("Failed to encode device list for caching: %s", err)
		return twins, nil
	}
	err = c.listCache.Set(listCacheKey, buffer.Bytes(), c.listCacheTTL)
	if err != nil {
		zap.S().Warnf("Failed to cache device list: %s", err)
	}
	return twins, nil
}

// InvokeMethod proxies a synchronous method call to a device through the
// registry. timeout covers the full round trip including the device's
// processing time, it overrides the client default for this one call.
func (c *Client) InvokeMethod(
	ctx context.Context,
	deviceID string,
	request MethodRequest,
	timeout time.Duration) (*MethodResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result MethodResult
	resp, err := c.rst.R().
		SetContext(callCtx).
		SetBody(request).
		SetResult(&result).
		Post(fmt.Sprintf("/api/v1/devices/%s/methods/%s", deviceID, request.MethodName))
	if err != nil {
		return nil, fmt.Errorf("method %s on %s failed: %w", request.MethodName, deviceID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrDeviceNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %d for method %s on %s", resp.StatusCode(), request.MethodName, deviceID)
	}
	return &result, nil
}

// IsAvailable pings the registry, used by the readiness probes.
func (c *Client) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), internal.FiveSeconds)
	defer cancel()
	resp, err := c.rst.R().SetContext(ctx).Get("/api/v1/health")
	if err != nil {
		return false
	}
	return resp.StatusCode() == 200
}
