package datamodel

import "time"

// DeviceStatusSnapshot is the optimization input for one device. Callers must
// supply snapshots in physical line order; the bottleneck compensation rules
// treat slice position as position on the line.
type DeviceStatusSnapshot struct {
	DeviceID          string     `json:"deviceId"`
	DeviceType        DeviceType `json:"deviceType"`
	IsOnline          bool       `json:"isOnline"`
	ProductionRate    float64    `json:"productionRate"`
	QualityPercentage float64    `json:"qualityPercentage"`
	MaxProductionRate float64    `json:"maxProductionRate"`
	Temperature       float64    `json:"temperature"`
	RecentErrorCount  int        `json:"recentErrorCount"`
}

// DeviceRateAssignment is one per-device target rate from a line optimization.
type DeviceRateAssignment struct {
	DeviceID   string  `json:"deviceId"`
	TargetRate float64 `json:"targetRate"`
}

// LineOptimizationResult reports the bottleneck and the assigned rates, in
// the same order the snapshots came in. BottleneckDevice is empty when no
// device was online.
type LineOptimizationResult struct {
	LineID             string                 `json:"lineId"`
	BottleneckDevice   string                 `json:"bottleneckDevice,omitempty"`
	Assignments        []DeviceRateAssignment `json:"assignments"`
	ExpectedThroughput float64                `json:"expectedThroughput"`
	GeneratedAt        time.Time              `json:"generatedAt"`
}

// LineStatusSnapshot is the plant-analysis input for one line.
type LineStatusSnapshot struct {
	LineID                string  `json:"lineId"`
	UtilizationPercent    float64 `json:"utilizationPercent"`
	EnergyConsumption     float64 `json:"energyConsumption"`
	HoursSinceMaintenance float64 `json:"hoursSinceMaintenance"`
}

// OptimizationFlag classifies a plant-level recommendation.
type OptimizationFlag string

const (
	FlagLoadBalance         OptimizationFlag = "LoadBalance"
	FlagEnergyOptimize      OptimizationFlag = "EnergyOptimize"
	FlagScheduleMaintenance OptimizationFlag = "ScheduleMaintenance"
)

// PlantRecommendation is one flagged finding; several may co-occur in a
// single analysis run.
type PlantRecommendation struct {
	Type              OptimizationFlag `json:"type"`
	Lines             []string         `json:"lines,omitempty"`
	TargetUtilization *float64         `json:"targetUtilization,omitempty"`
	Reason            string           `json:"reason"`
}

// PlantOptimizationResult bundles all recommendations of one analysis run.
type PlantOptimizationResult struct {
	Recommendations []PlantRecommendation `json:"recommendations"`
	GeneratedAt     time.Time             `json:"generatedAt"`
}
