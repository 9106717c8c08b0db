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
	"net/http"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

// nodeReport is the anonymized host inventory sent once at node startup.
type nodeReport struct { //nolint:govet
	OS      string
	Arch    string
	Version string
	Memory  *mem.VirtualMemoryStat
	CPUInfo []cpu.InfoStat
	Host    *host.InfoStat
	Load    *load.AvgStat
	Reason  string
}

func main() {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)

	version, err := env.GetAsString("VERSION", false, "UNKNOWN")
	if err != nil {
		zap.S().Error(err)
	}

	// Get start reason
	reason, err := env.GetAsString("REASON", false, "UNKNOWN")
	if err != nil {
		zap.S().Error(err)
	}

	endpoint, err := env.GetAsString("NODE_REPORT_ENDPOINT", false, "")
	if err != nil {
		zap.S().Error(err)
	}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		zap.S().Warnf("error: %s", err)
	}

	cpuInfo, err := cpu.Info()
	if err != nil {
		zap.S().Warnf("error: %s", err)
	}

	hostInfo, err := host.Info()
	if err != nil {
		zap.S().Warnf("error: %s", err)
	}

	loadInfo, err := load.Avg()
	if err != nil {
		zap.S().Warnf("error: %s", err)
	}

	// remove PII before the report leaves the node
	if hostInfo != nil {
		hostInfo.Hostname = internal.AsSha3Hex([]byte(hostInfo.Hostname))
		hostInfo.HostID = internal.AsSha3Hex([]byte(hostInfo.HostID))
	}

	// Strip tailing whitespace from CPUInfo.modelName
	for i := 0; i < len(cpuInfo); i++ {
		cpuInfo[i].ModelName = strings.Trim(cpuInfo[i].ModelName, " ")
	}

	report := nodeReport{
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Version: version,
		Memory:  vmStat,
		CPUInfo: cpuInfo,
		Host:    hostInfo,
		Load:    loadInfo,
		Reason:  reason,
	}

	jsonReport, err := json.Marshal(report)
	if err != nil {
		zap.S().Errorf("error: %s", err)
		return
	}

	// Output the report to stdout even when no endpoint is configured
	zap.S().Infof("%s", string(jsonReport))

	if endpoint != "" {
		req, err := http.NewRequestWithContext(
			context.Background(),
			http.MethodPost,
			endpoint,
			strings.NewReader(string(jsonReport)))
		if err != nil {
			zap.S().Errorf("error: %s", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		_, err = http.DefaultClient.Do(req) //nolint:bodyclose
		if err != nil {
			zap.S().Errorf("error: %s", err)
			return
		}
	}
	_ = log.Sync() //nolint:errcheck
}
