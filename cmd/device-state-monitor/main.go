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
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/healthstate"
	"github.com/united-manufacturing-hub/factory-agent/internal/recordstore"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

const pruneInterval = time.Hour

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		err := logger.Sync()
		if err != nil {
			panic(err)
		}
	}(log)

	internal.Initfgtrace()

	zap.S().Debug("Starting healthcheck")
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	registryURL, err := env.GetAsString("REGISTRY_URL", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	registryTimeoutMs, err := env.GetAsInt("REGISTRY_TIMEOUT_MS", false, 10000)
	if err != nil {
		zap.S().Error(err)
	}
	warningTemperature, err := env.GetAsFloat64("TEMPERATURE_WARNING_C", false, 80)
	if err != nil {
		zap.S().Error(err)
	}

	registryClient := registry.NewClient(registryURL, time.Duration(registryTimeoutMs)*time.Millisecond)
	health.AddReadinessCheck("registry", func() error {
		if registryClient.IsAvailable() {
			return nil
		}
		return fmt.Errorf("registry not reachable")
	})

	PQHost, _ := env.GetAsString("POSTGRES_HOST", false, "db") //nolint:errcheck
	PQPort, _ := env.GetAsInt("POSTGRES_PORT", false, 5432)    //nolint:errcheck
	PQUser, err := env.GetAsString("POSTGRES_USER", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	PQPassword, err := env.GetAsString("POSTGRES_PASSWORD", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	PQDBName, err := env.GetAsString("POSTGRES_DATABASE", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	PQSSLMode, err := env.GetAsString("POSTGRES_SSL_MODE", false, "require")
	if err != nil {
		zap.S().Error(err)
	}

	store, err := recordstore.Connect(
		context.Background(),
		PQHost,
		PQPort,
		PQUser,
		PQPassword,
		PQDBName,
		PQSSLMode)
	if err != nil {
		zap.S().Fatalf("Failed to connect to PostgreSQL: %s", err)
	}
	err = store.CreateSchema(context.Background())
	if err != nil {
		zap.S().Fatalf("Failed to create schema: %s", err)
	}
	health.AddReadinessCheck("database", func() error {
		if store.IsAvailable() {
			return nil
		}
		return fmt.Errorf("database not reachable")
	})

	kafkaBrokers, err := env.GetAsString("KAFKA_BROKERS", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	publisher, err := newStatusPublisher(kafkaBrokers)
	if err != nil {
		zap.S().Fatalf("Failed to create kafka producer: %s", err)
	}

	gs := internal.NewGracefulShutdown(func() error {
		zap.S().Info("shutting down")
		err := publisher.close()
		store.Shutdown()
		return err
	})

	monitor := healthstate.New(registryClient, store, internal.StaleTelemetryAge, warningTemperature)
	runSweeps(gs, monitor, publisher, store)
	gs.Wait()
}

// runSweeps drives the periodic fleet evaluation. Sweeps run inline, so two
// sweeps never overlap; a slow registry delays the next round instead.
func runSweeps(
	gs internal.GracefulShutdownHandler,
	monitor *healthstate.Monitor,
	publisher *statusPublisher,
	store *recordstore.Store) {
	sweepTicker := time.NewTicker(internal.HealthSweepInterval)
	defer sweepTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	// The fleet state should be known right after startup, not two minutes
	// later.
	sweepOnce(monitor, publisher)

	for !gs.ShuttingDown() {
		select {
		case <-sweepTicker.C:
			sweepOnce(monitor, publisher)
		case <-pruneTicker.C:
			err := store.PruneExpired(context.Background())
			if err != nil {
				zap.S().Warnf("Failed to prune expired records: %s", err)
			}
		}
	}
}

func sweepOnce(monitor *healthstate.Monitor, publisher *statusPublisher) {
	// One sweep gets at most one interval, a hung registry call must not
	// stall the loop forever.
	ctx, cncl := context.WithTimeout(context.Background(), internal.HealthSweepInterval)
	defer cncl()

	start := time.Now()
	transitions := monitor.Sweep(ctx)
	publishTransitions(publisher, transitions)

	produced, errored := publisher.stats()
	zap.S().Infof(
		"Sweep finished in %s: %d transitions (produced: %d, errored: %d)",
		time.Since(start),
		len(transitions),
		produced,
		errored)
}
