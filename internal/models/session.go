package models

import "time"

// DashboardSession is one dashboard client's view state. Only the selection
// handler changes SelectedSensor.
type DashboardSession struct {
	ID             string    `json:"id"`
	SelectedSensor string    `json:"selectedSensor,omitempty"`
	Locale         string    `json:"locale,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessed   time.Time `json:"lastAccessed"`
}

// NewDashboardSession creates a session with the given selection.
func NewDashboardSession(id, selected string) *DashboardSession {
	now := time.Now()
	return &DashboardSession{
		ID:             id,
		SelectedSensor: selected,
		CreatedAt:      now,
		LastAccessed:   now,
	}
}

// HasSelection reports whether a sensor is selected.
func (s *DashboardSession) HasSelection() bool {
	return s != nil && s.SelectedSensor != ""
}
