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

/*
Important principles: stateless as much as possible
*/

/*
Target architecture:

Incoming REST call --> http.go
There is one function for that specific call. It parses the parameters and executes further functions:
1. One or multiple functions getting the data from the registry or the database (database.go)
2. Only one function processing everything. In this function no database calls are allowed to be as stateless as possible (dataprocessing.go)
Then the results are bundled together and a return JSON is created.
*/

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/recordstore"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

var buildtime string
var shutdownEnabled bool

var registryClient registry.API
var recordStore *recordstore.Store
var warningTemperature float64

func main() {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		err := logger.Sync()
		if err != nil {
			panic(err)
		}
	}(log)

	zap.S().Infof("This is fleetinsight build date: %s", buildtime)

	internal.Initfgtrace()

	// Prometheus
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	// Loading up user accounts
	accounts := gin.Accounts{}

	zap.S().Debugf("Loading accounts from environment..")

	for i := 1; i <= 100; i++ {
		tempUser := os.Getenv("CUSTOMER_NAME_" + strconv.Itoa(i))
		tempPassword := os.Getenv("CUSTOMER_PASSWORD_" + strconv.Itoa(i))
		if tempUser != "" && tempPassword != "" {
			zap.S().Infof("Added account for " + tempUser)
			accounts[tempUser] = tempPassword
		}
	}

	// also add admin access
	RESTUser, err := env.GetAsString("FLEETINSIGHT_USER", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	RESTPassword, err := env.GetAsString("FLEETINSIGHT_PASSWORD", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	accounts[RESTUser] = RESTPassword

	// get currentVersion
	version, _ := env.GetAsString("VERSION", false, "1") //nolint:errcheck

	redisURI, _ := env.GetAsString("REDIS_URI", false, "")           //nolint:errcheck
	redisURI2, _ := env.GetAsString("REDIS_URI2", false, "")         //nolint:errcheck
	redisURI3, _ := env.GetAsString("REDIS_URI3", false, "")         //nolint:errcheck
	redisPassword, _ := env.GetAsString("REDIS_PASSWORD", false, "") //nolint:errcheck
	redisDB := 0 // default database

	dryRun, _ := env.GetAsString("DRY_RUN", false, "") //nolint:errcheck
	internal.InitCache(redisURI, redisURI2, redisURI3, redisPassword, redisDB, dryRun)

	zap.S().Debugf("Cache initialized..")

	health := healthcheck.NewHandler()
	shutdownEnabled = false
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("shutdownEnabled", isShutdownEnabled())
	go func() {
		/* #nosec G114 */
		err = http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	zap.S().Debugf("Setting up device registry")
	registryURL, err := env.GetAsString("REGISTRY_URL", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	registryTimeoutMs, err := env.GetAsInt("REGISTRY_TIMEOUT_MS", false, 10000)
	if err != nil {
		zap.S().Error(err)
	}
	registryClient = registry.NewClient(registryURL, time.Duration(registryTimeoutMs)*time.Millisecond)
	health.AddReadinessCheck("registry", func() error {
		if registryClient.IsAvailable() {
			return nil
		}
		return fmt.Errorf("registry not reachable")
	})

	warningTemperature, err = env.GetAsFloat64("WARNING_TEMPERATURE", false, 80)
	if err != nil {
		zap.S().Error(err)
	}

	// Postgres
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

	recordStore, err = recordstore.Connect(
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
	err = recordStore.CreateSchema(context.Background())
	if err != nil {
		zap.S().Fatalf("Failed to create schema: %s", err)
	}
	records = recordStore
	health.AddReadinessCheck("database", func() error {
		if recordStore.IsAvailable() {
			return nil
		}
		return fmt.Errorf("database not reachable")
	})

	// Kafka producer for applying optimization plans
	zap.S().Debugf("Setting up Kafka")
	kafkaBrokers, err := env.GetAsString("KAFKA_BROKERS", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	planPublisher, err = newCoordinationPublisher(kafkaBrokers)
	if err != nil {
		zap.S().Fatalf("Failed to create Kafka producer: %s", err)
	}

	// Allow graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)

	go func() {
		// Kubernetes sends SIGTERM 30 seconds before
		// shutting down the pod.

		sig := <-sigs

		// Log the received signal
		zap.S().Infof("Received SIG %v", sig)

		// ... close TCP connections here.
		ShutdownApplicationGraceful()

	}()

	SetupRestAPI(accounts, version)
}

func isShutdownEnabled() healthcheck.Check {
	return func() error {
		if shutdownEnabled {
			return fmt.Errorf("shutdown")
		}
		return nil
	}
}

// ShutdownApplicationGraceful flips the readiness probe, gives the ingress
// time to stop routing new requests and then closes the connections.
func ShutdownApplicationGraceful() {
	if shutdownEnabled {
		zap.S().Infof("Application is already shutting down")
		return
	}

	zap.S().Infof("Shutting down application")
	shutdownEnabled = true

	// Wait until the failing readiness probe took the pod out of rotation
	time.Sleep(internal.FiveSeconds)

	if planPublisher != nil {
		err := planPublisher.Close()
		if err != nil {
			zap.S().Errorf("Error closing Kafka producer: %s", err)
		}
	}

	if recordStore != nil {
		recordStore.Shutdown()
	}

	zap.S().Infof("Successful shutdown. Exiting.")

	// Gracefully exit.
	// (Use runtime.GoExit() if you need to call defers)
	os.Exit(0)
}
