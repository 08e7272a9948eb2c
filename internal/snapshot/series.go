package snapshot

import "github.com/airq-visualizer/backend/internal/models"

// SeriesPoint is one chronological chart point. A nil gas is a gap.
type SeriesPoint struct {
	Timestamp string   `json:"timestamp" msgpack:"timestamp"`
	CO2       *float64 `json:"co2" msgpack:"co2"`
	TVOC      *float64 `json:"tvoc" msgpack:"tvoc"`
}

// ProjectSeries turns a newest-first history into oldest-first points.
// Entries without a timestamp or without any gas value are dropped. The input
// slice is not modified.
func ProjectSeries(history []models.Reading) []SeriesPoint {
	points := make([]SeriesPoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if r.Timestamp == "" || !r.HasAnyGas() {
			continue
		}
		points = append(points, SeriesPoint{
			Timestamp: r.Timestamp,
			CO2:       copyFloat(r.CO2),
			TVOC:      copyFloat(r.TVOC),
		})
	}
	return points
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
