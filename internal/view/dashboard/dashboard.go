// Package dashboard builds the per-sensor dashboard: selector, detail panel
// and chart series.
package dashboard

import (
	"net/url"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/airq-visualizer/backend/internal/view"
)

// Option is one entry of the sensor selector.
type Option struct {
	ID    string `json:"id" msgpack:"id"`
	Label string `json:"label" msgpack:"label"`
}

// Details is the detail panel of the selected sensor.
type Details struct {
	SensorID  string          `json:"sensorId" msgpack:"sensorId"`
	Name      string          `json:"name" msgpack:"name"`
	Status    string          `json:"status" msgpack:"status"`
	Level     quality.Level   `json:"level" msgpack:"level"`
	Timestamp string          `json:"timestamp" msgpack:"timestamp"`
	CO2       string          `json:"co2" msgpack:"co2"`
	CO2Unit   string          `json:"co2Unit" msgpack:"co2Unit"`
	TVOC      string          `json:"tvoc" msgpack:"tvoc"`
	TVOCUnit  string          `json:"tvocUnit" msgpack:"tvocUnit"`
	Indicator quality.Display `json:"indicator" msgpack:"indicator"`
}

// Point is one chart value; a nil value is drawn as a gap.
type Point struct {
	Timestamp string   `json:"timestamp" msgpack:"timestamp"`
	Value     *float64 `json:"value" msgpack:"value"`
}

// Series is one named chart line.
type Series struct {
	Name   string  `json:"name" msgpack:"name"`
	Unit   string  `json:"unit" msgpack:"unit"`
	Points []Point `json:"points" msgpack:"points"`
}

// Charts holds both series of the selected sensor.
type Charts struct {
	CO2  Series `json:"co2" msgpack:"co2"`
	TVOC Series `json:"tvoc" msgpack:"tvoc"`
}

// State is everything the dashboard page renders.
type State struct {
	State           string    `json:"state" msgpack:"state"`
	Options         []Option  `json:"options" msgpack:"options"`
	SelectorEnabled bool      `json:"selectorEnabled" msgpack:"selectorEnabled"`
	Selected        string    `json:"selected,omitempty" msgpack:"selected,omitempty"`
	DeepLink        string    `json:"deepLink,omitempty" msgpack:"deepLink,omitempty"`
	ShowDetails     bool      `json:"showDetails" msgpack:"showDetails"`
	Details         *Details  `json:"details,omitempty" msgpack:"details,omitempty"`
	Charts          *Charts   `json:"charts,omitempty" msgpack:"charts,omitempty"`
	Loading         string    `json:"loading,omitempty" msgpack:"loading,omitempty"`
	Banner          string    `json:"banner,omitempty" msgpack:"banner,omitempty"`
	Notice          string    `json:"notice,omitempty" msgpack:"notice,omitempty"`
	LastUpdate      string    `json:"lastUpdate,omitempty" msgpack:"lastUpdate,omitempty"`
	GeneratedAt     time.Time `json:"generatedAt" msgpack:"generatedAt"`
}

// Input is what Build reads: the controller status and the selection.
type Input struct {
	Status   refresh.Status
	Selected string
}

// Builder renders dashboard state for one locale and time zone.
type Builder struct {
	classifier *quality.Classifier
	labels     quality.Labels
	messages   view.Messages
	loc        *time.Location
}

// NewBuilder creates a dashboard builder.
func NewBuilder(c *quality.Classifier, locale string, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		classifier: c,
		labels:     quality.LabelsFor(locale),
		messages:   view.MessagesFor(locale),
		loc:        loc,
	}
}

// Messages returns the builder's messages.
func (b *Builder) Messages() view.Messages {
	return b.messages
}

// Options lists the sensors by id with their display name.
func Options(snap *models.SensorSnapshot) []Option {
	ids := snapshot.SortedIDs(snap)
	opts := make([]Option, 0, len(ids))
	for _, id := range ids {
		opts = append(opts, Option{ID: id, Label: snap.Sensors[id].DisplayName(id)})
	}
	return opts
}

// Preselect returns requested if the snapshot has it, otherwise "".
func Preselect(snap *models.SensorSnapshot, requested string) string {
	if requested == "" {
		return ""
	}
	if _, ok := snap.Lookup(requested); ok {
		return requested
	}
	return ""
}

// DeepLink returns the query string that reselects id on load.
func DeepLink(id string) string {
	if id == "" {
		return ""
	}
	return "?" + url.Values{"sensor": {id}}.Encode()
}

// BuildDetails renders the detail panel of one sensor.
func (b *Builder) BuildDetails(id string, s models.Sensor) Details {
	level, d := quality.DescribeSensor(b.classifier, b.labels, s)
	det := Details{
		SensorID:  id,
		Name:      s.DisplayName(id),
		Level:     level,
		Timestamp: view.NoTimestamp,
		CO2:       view.NoValue,
		CO2Unit:   "ppm",
		TVOC:      view.NoValue,
		TVOCUnit:  "ppb",
		Indicator: d,
	}

	switch s.Status {
	case models.SensorStatusOnline:
		det.Status = string(s.Status)
		if s.LastReading != nil {
			det.CO2 = view.FormatValue(s.LastReading.CO2)
			det.TVOC = view.FormatValue(s.LastReading.TVOC)
			det.Timestamp = view.FormatTimestamp(s.LastReading.Timestamp, b.loc)
		}
	case models.SensorStatusOffline:
		det.Status = b.labels.Offline
	default:
		det.Status = b.labels.Unknown
	}
	return det
}

// BuildCharts projects a newest-first history into the two chart series.
func BuildCharts(history []models.Reading) Charts {
	points := snapshot.ProjectSeries(history)
	c := Charts{
		CO2:  Series{Name: "co2", Unit: "ppm", Points: make([]Point, 0, len(points))},
		TVOC: Series{Name: "tvoc", Unit: "ppb", Points: make([]Point, 0, len(points))},
	}
	for _, p := range points {
		c.CO2.Points = append(c.CO2.Points, Point{Timestamp: p.Timestamp, Value: p.CO2})
		c.TVOC.Points = append(c.TVOC.Points, Point{Timestamp: p.Timestamp, Value: p.TVOC})
	}
	return c
}

// Build renders the dashboard. It never mutates its input.
func (b *Builder) Build(in Input) State {
	st := in.Status
	out := State{
		State:       st.State.String(),
		Options:     []Option{},
		GeneratedAt: time.Now().UTC(),
	}

	snap := st.Snapshot
	if snap == nil {
		if st.LastError != nil {
			out.Banner = b.messages.InitialFailure(st.LastError)
		} else {
			out.Loading = b.messages.Loading
		}
		return out
	}

	if snap.LastUpdateTimestamp != nil {
		out.LastUpdate = view.FormatTimestamp(*snap.LastUpdateTimestamp, b.loc)
	}
	if st.LastError != nil {
		out.Banner = b.messages.RefreshFailure(st.LastError, st.Interval)
	}

	if snap.Len() == 0 {
		out.Notice = b.messages.NoSensors
		return out
	}

	out.Options = Options(snap)
	out.SelectorEnabled = true

	if in.Selected == "" {
		return out
	}
	out.Selected = in.Selected
	out.DeepLink = DeepLink(in.Selected)

	sensor, ok := snap.Lookup(in.Selected)
	if !ok {
		out.Notice = b.messages.NoSensorData
		return out
	}

	details := b.BuildDetails(in.Selected, sensor)
	charts := BuildCharts(sensor.History)
	out.Details = &details
	out.Charts = &charts
	out.ShowDetails = true
	return out
}
