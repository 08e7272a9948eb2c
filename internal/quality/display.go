package quality

import "github.com/airq-visualizer/backend/internal/models"

// Style keys handed to renderers.
const (
	StyleOffline  = "offline"
	StyleUnknown  = "unknown"
	stylePrefix   = "quality-"
	defaultColor  = "#adb5bd"
	BucketOffline = "offline"
	BucketUnknown = "unknown"
)

var styleColors = map[string]string{
	stylePrefix + string(LevelGood):     "#28a745",
	stylePrefix + string(LevelModerate): "#ffc107",
	stylePrefix + string(LevelPoor):     "#dc3545",
	StyleOffline:                        "#6c757d",
}

// Display is the user-facing combination of connectivity status and level.
type Display struct {
	Label    string `json:"label" msgpack:"label"`
	StyleKey string `json:"styleKey" msgpack:"styleKey"`
	Color    string `json:"color" msgpack:"color"`
	// Bucket is one of offline, unknown, good, moderate, poor.
	Bucket string `json:"bucket" msgpack:"bucket"`
}

// ResolveDisplay maps a status and a level onto a Display. Offline always
// wins over the level; a non-online status is always unknown.
func ResolveDisplay(labels Labels, status models.SensorStatus, level Level) Display {
	var d Display
	switch {
	case status == models.SensorStatusOffline:
		d = Display{Label: labels.Offline, StyleKey: StyleOffline, Bucket: BucketOffline}
	case status != models.SensorStatusOnline:
		d = Display{Label: labels.Unknown, StyleKey: StyleUnknown, Bucket: BucketUnknown}
	default:
		d = Display{
			Label:    labels.ForLevel(level),
			StyleKey: stylePrefix + string(normalizeLevel(level)),
			Bucket:   string(normalizeLevel(level)),
		}
	}
	d.Color = ColorFor(d.StyleKey)
	return d
}

// DescribeSensor classifies a sensor and resolves its display in one step.
func DescribeSensor(c *Classifier, labels Labels, s models.Sensor) (Level, Display) {
	level := c.SensorLevel(s)
	return level, ResolveDisplay(labels, s.Status, level)
}

// ColorFor returns the marker fill color for a style key.
func ColorFor(styleKey string) string {
	if color, ok := styleColors[styleKey]; ok {
		return color
	}
	return defaultColor
}

func normalizeLevel(l Level) Level {
	switch l {
	case LevelGood, LevelModerate, LevelPoor:
		return l
	default:
		return LevelUnknown
	}
}
