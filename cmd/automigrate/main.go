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
	"database/sql"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/factory-agent/cmd/automigrate/migrations"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

/*
	To add new migrations follow these steps:
	1. If the new release is a major or minor release, create a new folder in the migrations folder with the name of the new release.
	2. Then create a .go file in the new folder (or old folder if no major/minor) with the patch number of the new release.
	3. Inside create a function, which accept *sql.DB as argument and returns an error.
		- The function name must be V<MAJOR>x<MINOR>x<PATCH> (e.g. V0x2x0)
	4. Add the function to the migrationsList at the bottom of the migrations.go file.
	5. Done!
*/

var buildtime string

func setupLoggingMetricsHealthcheck() healthcheck.Handler {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	logger.New(logLevel)

	zap.S().Infof("This is automigrate build date: %s", buildtime)

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

	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
	return health
}

func setupPostgres(health healthcheck.Handler) *sql.DB {
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

	return SetupDB(PQUser, PQPassword, PQDBName, PQHost, PQPort, health, PQSSLMode)
}

func main() {
	health := setupLoggingMetricsHealthcheck()
	db := setupPostgres(health)

	version, err := env.GetAsString("VERSION", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	deployedVersion, ok := migrations.StringToSemver(version)
	if !ok {
		zap.S().Fatalf("VERSION is not a valid semver: %s", version)
	}
	migrations.Migrate(deployedVersion, db)

	ShutdownDB(db)
}
