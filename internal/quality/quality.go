// Package quality classifies CO2/TVOC readings and resolves how a sensor is
// displayed. Both the map and the dashboard go through this package so the
// two views never disagree about a sensor.
package quality

import (
	"fmt"

	"github.com/airq-visualizer/backend/internal/models"
)

// Level is the qualitative air-quality level derived from a reading.
type Level string

const (
	LevelGood     Level = "good"
	LevelModerate Level = "moderate"
	LevelPoor     Level = "poor"
	LevelUnknown  Level = "unknown"
)

// Default thresholds. CO2 in ppm, TVOC in ppb.
const (
	DefaultCO2Good      = 800
	DefaultCO2Moderate  = 1000
	DefaultTVOCGood     = 100
	DefaultTVOCModerate = 150
)

// Thresholds holds the band limits for each gas. A value strictly above the
// good limit is at least moderate; strictly above the moderate limit is poor.
type Thresholds struct {
	CO2Good      float64 `json:"co2Good" yaml:"co2_good" mapstructure:"co2_good"`
	CO2Moderate  float64 `json:"co2Moderate" yaml:"co2_moderate" mapstructure:"co2_moderate"`
	TVOCGood     float64 `json:"tvocGood" yaml:"tvoc_good" mapstructure:"tvoc_good"`
	TVOCModerate float64 `json:"tvocModerate" yaml:"tvoc_moderate" mapstructure:"tvoc_moderate"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CO2Good:      DefaultCO2Good,
		CO2Moderate:  DefaultCO2Moderate,
		TVOCGood:     DefaultTVOCGood,
		TVOCModerate: DefaultTVOCModerate,
	}
}

// Validate checks that each gas has good <= moderate.
func (t Thresholds) Validate() error {
	if t.CO2Good > t.CO2Moderate {
		return fmt.Errorf("co2 good threshold %v exceeds moderate threshold %v", t.CO2Good, t.CO2Moderate)
	}
	if t.TVOCGood > t.TVOCModerate {
		return fmt.Errorf("tvoc good threshold %v exceeds moderate threshold %v", t.TVOCGood, t.TVOCModerate)
	}
	return nil
}

// Classifier maps readings onto levels using a fixed set of thresholds.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier for the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Thresholds returns the thresholds in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify returns the level for a (co2, tvoc) pair. The worse gas wins.
func (c *Classifier) Classify(co2, tvoc *float64) Level {
	if co2 == nil || tvoc == nil {
		return LevelUnknown
	}
	t := c.thresholds
	switch {
	case *co2 > t.CO2Moderate || *tvoc > t.TVOCModerate:
		return LevelPoor
	case *co2 > t.CO2Good || *tvoc > t.TVOCGood:
		return LevelModerate
	default:
		return LevelGood
	}
}

// ClassifyReading classifies a reading; a nil reading is unknown.
func (c *Classifier) ClassifyReading(r *models.Reading) Level {
	if r == nil {
		return LevelUnknown
	}
	return c.Classify(r.CO2, r.TVOC)
}

// SensorLevel classifies the last reading of an online sensor. Any other
// sensor is unknown.
func (c *Classifier) SensorLevel(s models.Sensor) Level {
	if s.Status != models.SensorStatusOnline || s.LastReading == nil {
		return LevelUnknown
	}
	return c.ClassifyReading(s.LastReading)
}
