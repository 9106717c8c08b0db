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
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/factory-agent/internal"
	"github.com/united-manufacturing-hub/factory-agent/internal/directory"
	"github.com/united-manufacturing-hub/factory-agent/internal/dispatch"
	"github.com/united-manufacturing-hub/factory-agent/internal/recordstore"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

var deviceDirectory *directory.Directory
var recordStore *recordstore.Store

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

	zap.S().Debugf("Setting up device registry")
	registryURL, err := env.GetAsString("REGISTRY_URL", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	registryTimeoutMs, err := env.GetAsInt("REGISTRY_TIMEOUT_MS", false, 10000)
	if err != nil {
		zap.S().Error(err)
	}
	primaryLineID, err := env.GetAsString("PRIMARY_LINE_ID", false, "Line1")
	if err != nil {
		zap.S().Error(err)
	}
	cacheTTLMinutes, err := env.GetAsInt("DEVICE_CACHE_TTL_MINUTES", false, 30)
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

	deviceDirectory = directory.New(registryClient, primaryLineID, time.Duration(cacheTTLMinutes)*time.Minute)
	deviceDirectory.WaitForRegistry()

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
	health.AddReadinessCheck("database", func() error {
		if recordStore.IsAvailable() {
			return nil
		}
		return fmt.Errorf("database not reachable")
	})

	// MQTT and the disk backed command queue
	podName, _ := env.GetAsString("MY_POD_NAME", false, "alert-reactor") //nolint:errcheck
	mqttBrokerURL, err := env.GetAsString("MQTT_BROKER_URL", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	mqttPassword, _ := env.GetAsString("MQTT_PASSWORD", false, "") //nolint:errcheck
	MQTTSenderThreads, err = env.GetAsInt("MQTT_SENDER_THREADS", false, 1)
	if err != nil {
		zap.S().Error(err)
	}

	queuePath, _ := env.GetAsString("MQTT_QUEUE_PATH", false, "/data/queue") //nolint:errcheck
	err = setupCommandQueue(queuePath)
	if err != nil {
		zap.S().Fatalf("Failed to open command queue: %s", err)
	}
	setupMQTT(mqttBrokerURL, podName, mqttPassword, health)
	processOutgoingCommands()

	zap.S().Debugf("Setting up Kafka")
	// 100 MiB, redelivered payloads skip the JSON parse
	internal.InitPayloadCache(1024 * 1024 * 100)
	KafkaBootstrapServer, err := env.GetAsString("KAFKA_BOOTSTRAP_SERVER", true, "")
	if err != nil {
		zap.S().Fatal(err)
	}
	kafkaSslPassword, err := env.GetAsString("KAFKA_SSL_KEY_PASSWORD", false, "")
	if err != nil {
		zap.S().Error(err)
	}

	securityProtocol := "plaintext"
	useSsl, err := env.GetAsBool("KAFKA_USE_SSL", false, false)
	if err != nil {
		zap.S().Error(err)
	}
	if useSsl {
		securityProtocol = "ssl"

		_, err = os.Open("/SSL_certs/kafka/tls.key")
		if err != nil {
			zap.S().Fatalf("Error opening kafka tls.key: %s", err)
		}
		_, err = os.Open("/SSL_certs/kafka/tls.crt")
		if err != nil {
			zap.S().Fatalf("Error opening certificate: %s", err)
		}
		_, err = os.Open("/SSL_certs/kafka/ca.crt")
		if err != nil {
			zap.S().Fatalf("Error opening ca.crt: %s", err)
		}
	}

	SetupAlertKafka(
		kafka.ConfigMap{
			"security.protocol":        securityProtocol,
			"ssl.key.location":         "/SSL_certs/kafka/tls.key",
			"ssl.key.password":         kafkaSslPassword,
			"ssl.certificate.location": "/SSL_certs/kafka/tls.crt",
			"ssl.ca.location":          "/SSL_certs/kafka/ca.crt",
			"bootstrap.servers":        KafkaBootstrapServer,
			"group.id":                 "alert-reactor",
			"enable.auto.commit":       true,
			"enable.auto.offset.store": false,
			"auto.offset.reset":        "earliest",
			"metadata.max.age.ms":      180000,
		})

	AlertProcessorChannel = make(chan *kafka.Message, internal.ProcessorChannelSize)
	AlertCommitChannel = make(chan *kafka.Message)
	AlertPutBackChannel = make(chan internal.PutBackChanMsg, internal.PutBackChannelSize)
	alertEventChannel := AlertKafkaProducer.Events()

	go internal.StartPutbackProcessor(
		"[AR]",
		AlertPutBackChannel,
		AlertKafkaProducer,
		AlertCommitChannel,
		internal.PutBackChannelSize)
	go internal.ProcessKafkaQueue(
		"[AR]",
		internal.AlertsSubscriptionRegex,
		AlertProcessorChannel,
		AlertKafkaConsumer,
		AlertPutBackChannel,
		ShutdownApplicationGraceful)
	go internal.StartCommitProcessor("[AR]", AlertCommitChannel, AlertKafkaConsumer)
	go internal.StartEventHandler("[AR]", alertEventChannel, AlertPutBackChannel)

	alertReactor := newReactor(
		deviceDirectory,
		dispatch.New(deviceDirectory, registryClient),
		recordStore,
		enqueueCommand,
		produceCoordinationMessage)
	go startAlertProcessor(alertReactor)

	// Allow graceful shutdown
	sigs := make(chan os.Signal, 1)
	// It's important to handle both signals, allowing Kafka to shut down gracefully !
	// If this is not possible, it will attempt to rebalance itself, which will increase startup time
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

	// The following code keeps the memory usage low
	debug.SetGCPercent(10)

	go PerformanceReport()
	select {} // block forever
}

var ShuttingDown bool

// ShutdownApplicationGraceful drains the processing channels, returns
// everything unprocessed to Kafka and only then closes the connections.
func ShutdownApplicationGraceful() {
	if ShuttingDown {
		zap.S().Infof("Application is already shutting down")
		// Already shutting down
		return
	}

	zap.S().Infof("Shutting down application")
	ShuttingDown = true

	internal.ShuttingDownKafka = true

	// Important, allows high load processors to finish
	time.Sleep(time.Second * 5)

	zap.S().Infof("Cleaning up alert processor channel (%d)", len(AlertProcessorChannel))

	if !internal.DrainChannelSimple(AlertProcessorChannel, AlertPutBackChannel) {
		time.Sleep(internal.FiveSeconds)
	}

	time.Sleep(internal.OneSecond)

	maxAttempts := 50
	attempt := 0

	for len(AlertPutBackChannel) > 0 {
		zap.S().Infof("Waiting for putback channel to empty: %d", len(AlertPutBackChannel))
		time.Sleep(internal.OneSecond)
		attempt++
		if attempt > maxAttempts {
			zap.S().Errorf("Putback channel is not empty after %d attempts, exiting", maxAttempts)
			break
		}
	}

	internal.ShutdownPutback = true

	time.Sleep(internal.OneSecond)

	CloseAlertKafka()

	if mqttClient != nil {
		mqttClient.Disconnect(1000)
	}
	closeCommandQueue()

	if recordStore != nil {
		recordStore.Shutdown()
	}

	zap.S().Infof("Successful shutdown. Exiting.")

	// Gracefully exit.
	// (Use runtime.GoExit() if you need to call defers)
	os.Exit(0)
}
