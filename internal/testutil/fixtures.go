package testutil

import "github.com/airq-visualizer/backend/internal/models"

// OnlineSensor builds an online sensor whose last reading is also its only
// history entry.
func OnlineSensor(name string, x, y float64, timestamp string, co2, tvoc *float64) models.Sensor {
	reading := models.Reading{Timestamp: timestamp, CO2: co2, TVOC: tvoc}
	return models.Sensor{
		Name:        name,
		Status:      models.SensorStatusOnline,
		Location:    &models.Location{X: models.Float(x), Y: models.Float(y)},
		LastReading: &reading,
		History:     []models.Reading{reading},
	}
}

// OfflineSensor builds an offline sensor with a stale reading.
func OfflineSensor(name string, x, y float64) models.Sensor {
	reading := models.Reading{Timestamp: "2024-01-01T09:00:00Z", CO2: models.Float(600), TVOC: models.Float(40)}
	return models.Sensor{
		Name:        name,
		Status:      models.SensorStatusOffline,
		Location:    &models.Location{X: models.Float(x), Y: models.Float(y)},
		LastReading: &reading,
		History:     []models.Reading{reading},
	}
}

// Snapshot wraps sensors into a snapshot.
func Snapshot(sensors map[string]models.Sensor) *models.SensorSnapshot {
	if sensors == nil {
		sensors = map[string]models.Sensor{}
	}
	return &models.SensorSnapshot{Sensors: sensors}
}

// R1Snapshot is the single-room snapshot used across scenarios.
func R1Snapshot(co2, tvoc float64) *models.SensorSnapshot {
	return Snapshot(map[string]models.Sensor{
		"R1": OnlineSensor("Room 1", 100, 200, "2024-01-01T10:00:00Z", models.Float(co2), models.Float(tvoc)),
	})
}
