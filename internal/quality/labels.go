package quality

import "strings"

// Labels holds the localized words shown for each display bucket.
type Labels struct {
	Good     string
	Moderate string
	Poor     string
	Unknown  string
	Offline  string
}

var labelsByLocale = map[string]Labels{
	"en": {
		Good:     "good",
		Moderate: "moderate",
		Poor:     "poor",
		Unknown:  "unknown",
		Offline:  "offline",
	},
	"fr": {
		Good:     "Bon",
		Moderate: "Modéré",
		Poor:     "Dégradé",
		Unknown:  "Inconnu",
		Offline:  "Hors ligne",
	},
}

// LabelsFor returns the labels of a locale, defaulting to English.
func LabelsFor(locale string) Labels {
	if l, ok := labelsByLocale[strings.ToLower(locale)]; ok {
		return l
	}
	return labelsByLocale["en"]
}

// ForLevel returns the label of a level.
func (l Labels) ForLevel(level Level) string {
	switch level {
	case LevelGood:
		return l.Good
	case LevelModerate:
		return l.Moderate
	case LevelPoor:
		return l.Poor
	default:
		return l.Unknown
	}
}
