// Package mapview projects snapshots onto floor-plan markers.
package mapview

import (
	"net/url"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/airq-visualizer/backend/internal/view"
)

// DashboardPage is the page the popup history link points at.
const DashboardPage = "dashboard.html"

// Marker is what the map renderer needs to place and style one sensor.
type Marker struct {
	SensorID string  `json:"sensorId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	StyleKey string  `json:"styleKey"`
	Color    string  `json:"color"`
	Label    string  `json:"label"`
	Bucket   string  `json:"bucket"`
	Popup    Popup   `json:"popup"`
}

// Popup is the text shown when a marker is clicked.
type Popup struct {
	Title       string `json:"title"`
	Status      string `json:"status"`
	CO2         string `json:"co2"`
	TVOC        string `json:"tvoc"`
	LastReading string `json:"lastReading"`
	HistoryLink string `json:"historyLink"`
	LinkText    string `json:"linkText"`
}

// Builder turns snapshots into markers for one locale and time zone.
type Builder struct {
	classifier *quality.Classifier
	labels     quality.Labels
	messages   view.Messages
	loc        *time.Location
}

// NewBuilder creates a marker builder.
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

// Markers returns one marker per sensor with coordinates, sorted by id. Ids of
// sensors without coordinates are returned in skipped.
func (b *Builder) Markers(snap *models.SensorSnapshot) (markers []Marker, skipped []string) {
	markers = []Marker{}
	for _, id := range snapshot.SortedIDs(snap) {
		s := snap.Sensors[id]
		if !s.Location.HasCoordinates() {
			skipped = append(skipped, id)
			continue
		}
		markers = append(markers, b.Marker(id, s))
	}
	return markers, skipped
}

// Marker builds the marker of a sensor known to have coordinates.
func (b *Builder) Marker(id string, s models.Sensor) Marker {
	_, d := quality.DescribeSensor(b.classifier, b.labels, s)
	m := Marker{
		SensorID: id,
		StyleKey: d.StyleKey,
		Color:    d.Color,
		Label:    d.Label,
		Bucket:   d.Bucket,
		Popup:    b.Popup(id, s),
	}
	if s.Location.HasCoordinates() {
		m.X = *s.Location.X
		m.Y = *s.Location.Y
	}
	return m
}

// Popup builds popup text. Values are only shown for an online sensor with a
// last reading.
func (b *Builder) Popup(id string, s models.Sensor) Popup {
	p := Popup{
		Title:       s.DisplayName(id),
		Status:      string(s.Status),
		CO2:         view.NoValue,
		TVOC:        view.NoValue,
		LastReading: view.NoTimestamp,
		HistoryLink: HistoryLink(id),
		LinkText:    b.messages.ViewHistory,
	}
	if s.Status == models.SensorStatusOnline && s.LastReading != nil {
		p.CO2 = view.FormatValue(s.LastReading.CO2)
		p.TVOC = view.FormatValue(s.LastReading.TVOC)
		p.LastReading = view.FormatTimestamp(s.LastReading.Timestamp, b.loc)
	}
	return p
}

// HistoryLink returns the dashboard deep link for a sensor.
func HistoryLink(id string) string {
	return DashboardPage + "?" + url.Values{"sensor": {id}}.Encode()
}
