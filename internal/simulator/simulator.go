// Package simulator produces development snapshots: a random walk of CO2 and
// TVOC per room, written atomically as the JSON document the viewer polls.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// Simulation bounds.
const (
	CO2Base            = 450
	CO2Range           = 800
	TVOCBase           = 5
	TVOCRange          = 250
	OfflineProbability = 0.05
	HistoryLimit       = 144
)

// Room is one simulated sensor location.
type Room struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
	} `yaml:"location"`
}

// RoomsFile is the YAML layout of a rooms file.
type RoomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// LoadRooms reads rooms from a YAML file.
func LoadRooms(path string) ([]Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms file: %w", err)
	}
	var f RoomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rooms file: %w", err)
	}
	if len(f.Rooms) == 0 {
		return nil, fmt.Errorf("no rooms defined in %s", path)
	}
	for i, r := range f.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("room %d has no id", i)
		}
	}
	return f.Rooms, nil
}

// DefaultRooms returns a small floor used when no rooms file is given.
func DefaultRooms() []Room {
	mk := func(id, name string, x, y float64) Room {
		r := Room{ID: id, Name: name}
		r.Location.X = x
		r.Location.Y = y
		return r
	}
	return []Room{
		mk("R101", "Salle 101", 220, 180),
		mk("R102", "Salle 102", 520, 180),
		mk("R103", "Salle 103", 820, 180),
		mk("AMPHI", "Amphithéâtre", 1100, 520),
	}
}

type roomState struct {
	co2     float64
	tvoc    float64
	history []models.Reading
	last    *models.Reading
	status  models.SensorStatus
}

// Simulator advances every room one step at a time.
type Simulator struct {
	mu      sync.Mutex
	rooms   []Room
	state   map[string]*roomState
	rng     *rand.Rand
	now     func() time.Time
	offline float64
}

// New creates a simulator seeded with seed.
func New(rooms []Room, seed int64) *Simulator {
	s := &Simulator{
		rooms:   rooms,
		state:   make(map[string]*roomState, len(rooms)),
		rng:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
		offline: OfflineProbability,
	}
	for _, r := range rooms {
		s.state[r.ID] = &roomState{
			co2:    float64(CO2Base + s.rng.Intn(CO2Range/2+1)),
			tvoc:   float64(TVOCBase + s.rng.Intn(TVOCRange/2+1)),
			status: models.SensorStatusUnknown,
		}
	}
	return s
}

// Step advances the simulation and returns a fresh snapshot.
func (s *Simulator) Step() *models.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(time.RFC3339)
	snap := &models.SensorSnapshot{
		Sensors:             make(map[string]models.Sensor, len(s.rooms)),
		LastUpdateTimestamp: &now,
	}

	for _, r := range s.rooms {
		st := s.state[r.ID]
		if s.rng.Float64() < s.offline {
			st.status = models.SensorStatusOffline
		} else {
			st.status = models.SensorStatusOnline
			st.co2 = clamp(st.co2+float64(s.rng.Intn(121)-50), CO2Base, CO2Base+CO2Range)
			st.tvoc = clamp(st.tvoc+float64(s.rng.Intn(41)-15), TVOCBase, TVOCBase+TVOCRange)

			reading := models.Reading{Timestamp: now, CO2: models.Float(st.co2), TVOC: models.Float(st.tvoc)}
			st.last = &reading
			st.history = append([]models.Reading{reading}, st.history...)
			if len(st.history) > HistoryLimit {
				st.history = st.history[:HistoryLimit]
			}
		}

		sensor := models.Sensor{
			Name:     r.Name,
			Status:   st.status,
			Location: &models.Location{X: models.Float(r.Location.X), Y: models.Float(r.Location.Y)},
			History:  append([]models.Reading(nil), st.history...),
		}
		if sensor.History == nil {
			sensor.History = []models.Reading{}
		}
		if st.last != nil {
			last := *st.last
			sensor.LastReading = &last
		}
		snap.Sensors[r.ID] = sensor
	}
	return snap
}

// WriteFile writes snap as indented JSON, replacing path atomically.
func WriteFile(path string, snap *models.SensorSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Run writes a new snapshot to path every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, path string, interval time.Duration, log logr.Logger) error {
	log = log.WithName("simulator")
	write := func() error {
		snap := s.Step()
		if err := WriteFile(path, snap); err != nil {
			return err
		}
		log.V(1).Info("snapshot written", "path", path, "sensors", snap.Len())
		return nil
	}

	if err := write(); err != nil {
		return err
	}
	log.Info("simulator started", "path", path, "rooms", len(s.rooms), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := write(); err != nil {
				log.Error(err, "failed to write snapshot")
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
