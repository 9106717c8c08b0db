package datamodel

import "time"

// ConnectionState mirrors the registry's view of a device connection.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "Connected"
	ConnectionDisconnected ConnectionState = "Disconnected"
)

// DeviceMetadata is a directory cache entry: everything the pipeline needs
// to know about a device without asking the registry again. Entries expire
// after the directory TTL and are refreshed on the next access.
type DeviceMetadata struct {
	DeviceID        string          `json:"deviceId"`
	DeviceType      DeviceType      `json:"deviceType"`
	LineID          string          `json:"lineId"`
	LineName        string          `json:"lineName,omitempty"`
	ConnectionState ConnectionState `json:"connectionState"`
	HealthState     HealthState     `json:"healthState,omitempty"`
	RefreshedAt     time.Time       `json:"refreshedAt"`
	Fallback        bool            `json:"fallback,omitempty"`
}

// IsConnected reports whether the registry last saw the device connected.
func (m *DeviceMetadata) IsConnected() bool {
	return m.ConnectionState == ConnectionConnected
}
