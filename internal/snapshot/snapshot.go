// Package snapshot validates fetched sensor snapshots and projects sensor
// history into chronological chart series.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
)

// ValidationError is returned when a payload does not have the snapshot shape.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid snapshot: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate parses raw JSON into a snapshot. The document must be an object
// whose sensors field is itself an object keyed by sensor id.
func Validate(raw []byte) (*models.SensorSnapshot, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON document", Err: err}
	}
	if envelope == nil {
		return nil, &ValidationError{Reason: "document is null"}
	}

	sensorsRaw, ok := envelope["sensors"]
	if !ok {
		return nil, &ValidationError{Reason: "missing sensors field"}
	}
	trimmed := bytes.TrimSpace(sensorsRaw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{Reason: "sensors is not a keyed mapping"}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, &ValidationError{Reason: "sensors is not a keyed mapping", Err: err}
	}

	snap := &models.SensorSnapshot{Sensors: make(map[string]models.Sensor, len(entries))}
	for id, entry := range entries {
		var s models.Sensor
		if err := json.Unmarshal(entry, &s); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("sensor %q", id), Err: err}
		}
		if s.Status == "" {
			s.Status = models.SensorStatusUnknown
		}
		snap.Sensors[id] = s
	}

	if ts, ok := envelope["lastUpdateTimestamp"]; ok {
		var last *string
		if err := json.Unmarshal(ts, &last); err == nil {
			snap.LastUpdateTimestamp = last
		}
	}

	return snap, nil
}

// Decode reads a whole document from r and validates it.
func Decode(r io.Reader) (*models.SensorSnapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Validate(raw)
}

// SortedIDs returns the sensor ids in ascending order.
func SortedIDs(snap *models.SensorSnapshot) []string {
	if snap == nil {
		return nil
	}
	ids := make([]string, 0, len(snap.Sensors))
	for id := range snap.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 forms seen in snapshots. Timestamps
// without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
