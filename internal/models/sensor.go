// Package models contains domain types for the air-quality visualizer.
package models

import (
	"encoding/json"
	"strings"
)

// SensorStatus is the connectivity status reported by the snapshot producer.
type SensorStatus string

const (
	SensorStatusOnline  SensorStatus = "online"
	SensorStatusOffline SensorStatus = "offline"
	SensorStatusUnknown SensorStatus = "unknown"
)

// UnmarshalJSON normalizes any unrecognized or missing status to unknown.
func (s *SensorStatus) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSensorStatus("")
	if raw != nil {
		*s = ParseSensorStatus(*raw)
	}
	return nil
}

// ParseSensorStatus maps a raw status string onto the three known values.
func ParseSensorStatus(raw string) SensorStatus {
	switch SensorStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case SensorStatusOnline:
		return SensorStatusOnline
	case SensorStatusOffline:
		return SensorStatusOffline
	default:
		return SensorStatusUnknown
	}
}

// SensorSnapshot is one fetched, fully-replacing view of all sensors.
type SensorSnapshot struct {
	Sensors             map[string]Sensor `json:"sensors"`
	LastUpdateTimestamp *string           `json:"lastUpdateTimestamp,omitempty"`
}

// Len returns the number of sensors in the snapshot. Safe on nil.
func (s *SensorSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Sensors)
}

// Lookup returns the sensor with the given id.
func (s *SensorSnapshot) Lookup(id string) (Sensor, bool) {
	if s == nil {
		return Sensor{}, false
	}
	sensor, ok := s.Sensors[id]
	return sensor, ok
}

// Sensor is the state of a single fixed sensor.
// History is ordered newest-first as delivered by the producer.
type Sensor struct {
	Name        string       `json:"name,omitempty"`
	Status      SensorStatus `json:"status"`
	Location    *Location    `json:"location,omitempty"`
	LastReading *Reading     `json:"lastReading,omitempty"`
	History     []Reading    `json:"history"`
}

// DisplayName returns the sensor name, falling back to its id.
func (s Sensor) DisplayName(id string) string {
	if s.Name != "" {
		return s.Name
	}
	return id
}

// Location is a pixel position on the floor-plan image.
type Location struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.X != nil && l.Y != nil
}

// Reading is one timestamped measurement. A nil gas value means no valid
// measurement for that gas at this instant.
type Reading struct {
	Timestamp string   `json:"timestamp"`
	CO2       *float64 `json:"co2"`  // ppm
	TVOC      *float64 `json:"tvoc"` // ppb
}

// HasAnyGas reports whether at least one gas value is present.
func (r Reading) HasAnyGas() bool {
	return r.CO2 != nil || r.TVOC != nil
}

// Float returns a pointer to v. Handy for building readings.
func Float(v float64) *float64 {
	return &v
}
