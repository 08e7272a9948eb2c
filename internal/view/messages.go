// Package view holds what the map and dashboard adapters share: localized
// messages and value formatting.
package view

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/airq-visualizer/backend/internal/snapshot"
)

// Placeholders for absent values.
const (
	NoValue     = "--"
	NoTimestamp = "N/A"
)

// TimestampLayout is how reading timestamps are shown to users.
const TimestampLayout = "02/01/2006 15:04:05"

// Messages are the user-visible texts of one locale.
type Messages struct {
	Loading           string
	InitialLoadFailed string // %s: error
	NoSensors         string
	NoSensorData      string
	RefreshFailed     string // %s: error, %d: retry seconds
	ViewHistory       string
	SelectPrompt      string
}

var messagesByLocale = map[string]Messages{
	"en": {
		Loading:           "Loading initial data...",
		InitialLoadFailed: "Initial load failed: %s",
		NoSensors:         "No sensors found in the data.",
		NoSensorData:      "No data available for this sensor.",
		RefreshFailed:     "Error loading data: %s. Retrying in %ds.",
		ViewHistory:       "View history",
		SelectPrompt:      "-- Select a sensor --",
	},
	"fr": {
		Loading:           "Chargement des données initiales...",
		InitialLoadFailed: "Erreur de chargement initial: %s",
		NoSensors:         "Aucun capteur trouvé dans les données.",
		NoSensorData:      "Données non disponibles pour ce capteur.",
		RefreshFailed:     "Erreur de chargement des données: %s. Tentative de rafraîchissement dans %ds.",
		ViewHistory:       "Voir historique",
		SelectPrompt:      "-- Sélectionnez un capteur --",
	},
}

// MessagesFor returns the messages of a locale, defaulting to English.
func MessagesFor(locale string) Messages {
	if m, ok := messagesByLocale[strings.ToLower(locale)]; ok {
		return m
	}
	return messagesByLocale["en"]
}

// InitialFailure formats the banner shown when nothing was ever loaded.
func (m Messages) InitialFailure(err error) string {
	return fmt.Sprintf(m.InitialLoadFailed, errText(err))
}

// RefreshFailure formats the transient banner shown after a failed refresh.
func (m Messages) RefreshFailure(err error, retry time.Duration) string {
	return fmt.Sprintf(m.RefreshFailed, errText(err), int(retry/time.Second))
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// FormatValue renders a gas value, or the placeholder when absent.
func FormatValue(v *float64) string {
	if v == nil {
		return NoValue
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FormatTimestamp renders a reading timestamp in loc. Unparseable input is
// returned as is; empty input gives the placeholder.
func FormatTimestamp(ts string, loc *time.Location) string {
	if ts == "" {
		return NoTimestamp
	}
	t, err := snapshot.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimestampLayout)
}
