package mapview

import (
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/view"
)

// ImageConfig describes the floor-plan image the markers sit on.
type ImageConfig struct {
	URL    string `json:"url" yaml:"url" mapstructure:"url"`
	Width  int    `json:"width" yaml:"width" mapstructure:"width"`
	Height int    `json:"height" yaml:"height" mapstructure:"height"`
}

// View is the complete map view model.
type View struct {
	Image      ImageConfig `json:"image"`
	State      string      `json:"state"`
	Loaded     bool        `json:"loaded"`
	Markers    []Marker    `json:"markers"`
	Skipped    []string    `json:"skipped,omitempty"`
	Banner     string      `json:"banner,omitempty"`
	Loading    string      `json:"loading,omitempty"`
	LastUpdate string      `json:"lastUpdate,omitempty"`
}

// BuildView renders the map from a controller status. Markers always come
// from the last good snapshot; a failure only adds a banner.
func (b *Builder) BuildView(st refresh.Status, img ImageConfig) View {
	v := View{
		Image:   img,
		State:   st.State.String(),
		Loaded:  st.Loaded,
		Markers: []Marker{},
	}

	if st.Snapshot != nil {
		v.Markers, v.Skipped = b.Markers(st.Snapshot)
		if st.Snapshot.LastUpdateTimestamp != nil {
			v.LastUpdate = view.FormatTimestamp(*st.Snapshot.LastUpdateTimestamp, b.loc)
		}
	}

	switch {
	case st.LastError != nil && !st.Loaded:
		v.Banner = b.messages.InitialFailure(st.LastError)
	case st.LastError != nil:
		v.Banner = b.messages.RefreshFailure(st.LastError, st.Interval)
	case !st.Loaded:
		v.Loading = b.messages.Loading
	}
	return v
}

// FailureBanner is the transient message pushed after a failed refresh.
func (b *Builder) FailureBanner(st refresh.Status) string {
	if !st.Loaded {
		return b.messages.InitialFailure(st.LastError)
	}
	return b.messages.RefreshFailure(st.LastError, st.Interval)
}
