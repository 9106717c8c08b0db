package datamodel

import "time"

// CommandName is the closed vocabulary of instructions devices understand.
type CommandName string

const (
	CommandEmergencyStop        CommandName = "EmergencyStop"
	CommandResetErrorStatus     CommandName = "ResetErrorStatus"
	CommandAdjustProductionRate CommandName = "AdjustProductionRate"
	CommandReset                CommandName = "Reset"
	CommandAdjustSpeed          CommandName = "AdjustSpeed"
	CommandAdjustPressure       CommandName = "AdjustPressure"
	CommandCalibrate            CommandName = "Calibrate"
	CommandRunDiagnostics       CommandName = "RunDiagnostics"
	CommandScheduleMaintenance  CommandName = "ScheduleMaintenance"
)

// Senders identify which subsystem issued a command.
const (
	SenderAlertReactor    = "alert-reactor"
	SenderLineCoordinator = "line-coordinator"
	SenderFleetinsight    = "fleetinsight"
)

// Command is one outbound instruction for one device. Synchronous commands
// are additionally invoked as direct registry methods; all commands go out
// on the device-commands channel.
type Command struct {
	TargetDevice string           `json:"targetDevice"`
	CommandName  CommandName      `json:"commandName"`
	Parameters   ActionParameters `json:"parameters"`
	Reason       string           `json:"reason"`
	Sender       string           `json:"sender"`
	Synchronous  bool             `json:"synchronous,omitempty"`
	IssuedAt     time.Time        `json:"issuedAt"`
	AlertID      string           `json:"alertId,omitempty"`
}
