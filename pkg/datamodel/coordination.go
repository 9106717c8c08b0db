package datamodel

// CoordinationAction is a line-scoped action routed through the
// line-coordination channel.
type CoordinationAction string

const (
	CoordinationEmergencyStop CoordinationAction = "EmergencyStop"
	CoordinationOptimize      CoordinationAction = "Optimize"
	CoordinationBalance       CoordinationAction = "Balance"
	CoordinationReset         CoordinationAction = "Reset"
)

// Optimize sub-modes, carried in Parameters.Mode.
const (
	OptimizeModeReduceLoad = "ReduceLoad"
	OptimizeModeCompensate = "Compensate"
)

// LineCoordinationMessage asks the coordinator to spread an action over all
// devices of a line. AffectedDevices is the resolved membership in physical
// line order; Parameters.TargetDevice names the device the action centers on.
type LineCoordinationMessage struct {
	Action          CoordinationAction `json:"action"`
	LineID          string             `json:"lineId"`
	AffectedDevices []string           `json:"affectedDevices"`
	Parameters      ActionParameters   `json:"parameters"`
	Reason          string             `json:"reason"`
	AlertID         string             `json:"alertId,omitempty"`
}
