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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/factory-agent/internal/decision"
	"github.com/united-manufacturing-hub/factory-agent/internal/registry"
	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
	"go.uber.org/zap"
)

// recentWindow bounds the implicit lookbacks: the status history on the
// device detail and the error counts feeding optimization snapshots.
const recentWindow = 24 * time.Hour

// SetupRestAPI initializes the REST API and starts listening
func SetupRestAPI(accounts gin.Accounts, version string) {
	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(accounts, version)

	err := router.Run(":80")
	if err != nil {
		zap.S().Errorf("Failed to bind to port 80: %s", err)
		ShutdownApplicationGraceful()
		return
	}
}

func setupRouter(accounts gin.Accounts, version string) *gin.Engine {
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Healthcheck
	router.GET(
		"/", func(c *gin.Context) {
			if shutdownEnabled {
				c.String(http.StatusOK, "shutdown")
			} else {
				c.String(http.StatusOK, "online")
			}
		})

	apiString := fmt.Sprintf("/api/v%s", version)

	// Version of the API
	v1 := router.Group(apiString, gin.BasicAuth(accounts))
	{
		v1.GET("/devices", getDevicesHandler)
		v1.GET("/devices/:deviceId", getDeviceHandler)
		v1.GET("/devices/:deviceId/status-history", getStatusHistoryHandler)
		v1.GET("/lines/:lineId/kpis", getLineKPIsHandler)
		v1.GET("/lines/:lineId/errors", getLineErrorsHandler)
		v1.POST("/lines/:lineId/optimize", postOptimizeLineHandler)
		v1.POST("/lines/:lineId/reset", postResetLineHandler)
		v1.POST("/plant/analyze", postAnalyzePlantHandler)
	}

	return router
}

func handleInternalServerError(c *gin.Context, err error) {

	zap.S().Errorw(
		"Internal server error",
		"error", err,
	)

	c.String(http.StatusInternalServerError, "The server had an internal error.")
}

func handleInvalidInputError(c *gin.Context, err error) {

	zap.S().Errorw(
		"Invalid input error",
		"error", err,
	)

	c.String(400, "You have provided a wrong input. Please check your parameters")
}

// ---------------------- getDevices ----------------------

func getDevicesHandler(c *gin.Context) {
	twins, err := registryClient.ListDevices(c.Request.Context())
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, buildFleetOverview(twins, time.Now(), warningTemperature))
}

// ---------------------- getDevice ----------------------

type getDeviceRequest struct {
	DeviceID string `uri:"deviceId" binding:"required"`
}

func getDeviceHandler(c *gin.Context) {
	var getDeviceRequestInstance getDeviceRequest
	var err error

	err = c.BindUri(&getDeviceRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	twin, err := registryClient.GetDevice(c.Request.Context(), getDeviceRequestInstance.DeviceID)
	if errors.Is(err, registry.ErrDeviceNotFound) {
		c.String(http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	now := time.Now()
	history, err := getStatusHistory(
		c.Request.Context(),
		getDeviceRequestInstance.DeviceID,
		now.Add(-recentWindow),
		now)
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, buildDeviceDetail(twin, history, now, warningTemperature))
}

// ---------------------- getStatusHistory ----------------------

type getStatusHistoryRequest struct {
	From time.Time `form:"from" binding:"required"`
	To   time.Time `form:"to" binding:"required"`
}

func getStatusHistoryHandler(c *gin.Context) {
	var getDeviceRequestInstance getDeviceRequest
	var getStatusHistoryRequestInstance getStatusHistoryRequest
	var err error

	err = c.BindUri(&getDeviceRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	err = c.BindQuery(&getStatusHistoryRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	rows, err := getStatusHistory(
		c.Request.Context(),
		getDeviceRequestInstance.DeviceID,
		getStatusHistoryRequestInstance.From,
		getStatusHistoryRequestInstance.To)
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, statusHistoryResponse(rows))
}

// ---------------------- getLineKPIs ----------------------

type getLineRequest struct {
	LineID string `uri:"lineId" binding:"required"`
}

type getLineKPIsRequest struct {
	From time.Time `form:"from" binding:"required"`
	To   time.Time `form:"to" binding:"required"`
}

func getLineKPIsHandler(c *gin.Context) {
	var getLineRequestInstance getLineRequest
	var getLineKPIsRequestInstance getLineKPIsRequest
	var err error

	err = c.BindUri(&getLineRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	err = c.BindQuery(&getLineKPIsRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	rows, err := getLineKPIs(
		c.Request.Context(),
		getLineRequestInstance.LineID,
		getLineKPIsRequestInstance.From,
		getLineKPIsRequestInstance.To)
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, lineKPIResponse(rows))
}

// ---------------------- getLineErrors ----------------------

type getLineErrorsRequest struct {
	From time.Time `form:"from" binding:"required"`
	To   time.Time `form:"to" binding:"required"`
}

func getLineErrorsHandler(c *gin.Context) {
	var getLineRequestInstance getLineRequest
	var getLineErrorsRequestInstance getLineErrorsRequest
	var err error

	err = c.BindUri(&getLineRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	err = c.BindQuery(&getLineErrorsRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	rows, err := getErrorEvents(
		c.Request.Context(),
		getLineRequestInstance.LineID,
		getLineErrorsRequestInstance.From,
		getLineErrorsRequestInstance.To)
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, errorEventsResponse(rows))
}

// ---------------------- optimizeLine ----------------------

type postOptimizeLineRequest struct {
	Apply bool `form:"apply"`
}

func postOptimizeLineHandler(c *gin.Context) {
	var getLineRequestInstance getLineRequest
	var postOptimizeLineRequestInstance postOptimizeLineRequest
	var err error

	err = c.BindUri(&getLineRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	err = c.BindQuery(&postOptimizeLineRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	lineID := getLineRequestInstance.LineID

	twins, err := registryClient.ListDevices(c.Request.Context())
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	now := time.Now()
	events, err := getErrorEvents(c.Request.Context(), lineID, now.Add(-recentWindow), now)
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	snapshots := lineSnapshot(twins, lineID, countErrorsByDevice(events), now, warningTemperature)
	if len(snapshots) == 0 {
		c.String(http.StatusNotFound, "no devices registered for line "+lineID)
		return
	}

	plan := decision.OptimizeProductionLine(lineID, snapshots)

	if postOptimizeLineRequestInstance.Apply {
		sent := publishCoordinationMessages(planPublisher, balancePlanMessages(&plan, snapshots))
		zap.S().Infof("Published %d balance messages for line %s", sent, lineID)
	}

	c.JSON(http.StatusOK, plan)
}

// ---------------------- resetLine ----------------------

func postResetLineHandler(c *gin.Context) {
	var getLineRequestInstance getLineRequest
	var err error

	err = c.BindUri(&getLineRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	lineID := getLineRequestInstance.LineID

	twins, err := registryClient.ListDevices(c.Request.Context())
	if err != nil {
		handleInternalServerError(c, err)
		return
	}

	members := lineMembers(twins, lineID)
	if len(members) == 0 {
		c.String(http.StatusNotFound, "no devices registered for line "+lineID)
		return
	}

	message := resetLineMessage(lineID, members)
	publishCoordinationMessages(planPublisher, []datamodel.LineCoordinationMessage{message})
	zap.S().Infof("Published reset for line %s covering %d devices", lineID, len(members))

	c.JSON(http.StatusOK, message)
}

// ---------------------- analyzePlant ----------------------

type postAnalyzePlantRequest struct {
	Lines []datamodel.LineStatusSnapshot `json:"lines" binding:"required"`
}

func postAnalyzePlantHandler(c *gin.Context) {
	var postAnalyzePlantRequestInstance postAnalyzePlantRequest
	var err error

	err = c.BindJSON(&postAnalyzePlantRequestInstance)
	if err != nil {
		handleInvalidInputError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision.AnalyzePlantOptimization(postAnalyzePlantRequestInstance.Lines))
}
