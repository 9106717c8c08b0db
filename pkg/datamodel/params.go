package datamodel

// ActionParameters carries the auxiliary numbers a decision or command needs.
// The wire shape is a flat key/value object, so every field is optional and
// PascalCase to stay compatible with the payloads devices already understand.
type ActionParameters struct {
	TargetReduction  *float64 `json:"TargetReduction,omitempty"`
	CompensationRate *float64 `json:"CompensationRate,omitempty"`
	BoostTarget      *float64 `json:"BoostTarget,omitempty"`
	BalanceTarget    *float64 `json:"BalanceTarget,omitempty"`
	TargetPressure   *float64 `json:"TargetPressure,omitempty"`
	TargetSpeed      *float64 `json:"TargetSpeed,omitempty"`
	TargetPassRate   *float64 `json:"TargetPassRate,omitempty"`
	TargetRate       *float64 `json:"TargetRate,omitempty"`
	CurrentRate      *float64 `json:"CurrentRate,omitempty"`
	SystemPressure   *float64 `json:"SystemPressure,omitempty"`
	OutputPressure   *float64 `json:"OutputPressure,omitempty"`
	ErrorCount       *int     `json:"ErrorCount,omitempty"`
	MaxErrorCode     *int     `json:"MaxErrorCode,omitempty"`
	TargetDevice     string   `json:"TargetDevice,omitempty"`
	Mode             string   `json:"Mode,omitempty"`
}

// IsZero reports whether no parameter is set.
func (p ActionParameters) IsZero() bool {
	return p == ActionParameters{}
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
