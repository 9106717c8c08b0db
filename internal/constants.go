package internal

import "time"

var OneSecond = 1 * time.Second
var FiveSeconds = 5 * time.Second
var TenSeconds = 10 * time.Second
var FifteenSeconds = 15 * time.Second

// DeviceCacheTTL bounds how long device metadata and connection state may be
// served without asking the device registry again.
var DeviceCacheTTL = 30 * time.Minute

// HealthSweepInterval is the pause between two health evaluation sweeps.
// A slow sweep delays the next one, sweeps never overlap.
var HealthSweepInterval = 2 * time.Minute

// StaleTelemetryAge marks a device offline once its last telemetry update is
// older than this.
var StaleTelemetryAge = 5 * time.Minute

// SafetyCommandTimeout applies to EmergencyStop and ResetErrorStatus
// invocations, which must fail fast.
var SafetyCommandTimeout = 10 * time.Second

// ProductionCommandTimeout applies to all other direct command invocations.
var ProductionCommandTimeout = 30 * time.Second

// ProcessorChannelSize buffers messages between the consumer loop and the
// processors, PutBackChannelSize buffers messages on their way back to the
// broker.
var ProcessorChannelSize = 100
var PutBackChannelSize = 200
