// Package state holds the session snapshot shared by the orchestrator and its
// subsystems, and the store through which every mutation flows.
//
// The snapshot is replaced by a one-level merge on each Set. Slices and maps
// inside a snapshot are shared between snapshots and must be treated as
// read-only; to change one, build a new slice and set it.
package state

import "time"

// Source types recognised by the orchestrator.
const (
	SourceMP4        = "mp4"
	SourceWebM       = "webm"
	SourceOgg        = "ogg"
	SourceHLS        = "hls"
	SourceDASH       = "dash"
	SourceMPEGTS     = "mpegts"
	SourceWebTorrent = "webtorrent"
)

// Source describes one playable media resource.
type Source struct {
	URL string `json:"url"`
	// OriginalURL is the URL the user supplied when URL is an opaque playback
	// address (an object URL handed out by a plugin, for instance).
	OriginalURL string `json:"original_url,omitempty"`
	Type        string `json:"type,omitempty"`
	Label       string `json:"label,omitempty"`
}

// EffectiveURL prefers the original address over the playback address.
func (s Source) EffectiveURL() string {
	if s.OriginalURL != "" {
		return s.OriginalURL
	}
	return s.URL
}

// SourceStatus records whether a source has played successfully.
type SourceStatus string

const (
	SourceSuccess SourceStatus = "success"
	SourceError   SourceStatus = "error"
)

// TimeRange is a buffered interval in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// QualityLevel is one rendition reported by a format plugin.
type QualityLevel struct {
	Height  int `json:"height"`
	Bitrate int `json:"bitrate"`
	Index   int `json:"index"`
}

// AudioTrack is one audio rendition reported by a format plugin.
type AudioTrack struct {
	Label    string `json:"label"`
	Language string `json:"language"`
	Index    int    `json:"index"`
}

// SubtitleStatus is the load state of a subtitle track.
type SubtitleStatus string

const (
	SubtitleIdle    SubtitleStatus = "idle"
	SubtitleLoading SubtitleStatus = "loading"
	SubtitleSuccess SubtitleStatus = "success"
	SubtitleError   SubtitleStatus = "error"
)

// SubtitleTrackState is the observable state of one registered subtitle track.
type SubtitleTrackState struct {
	Src       string         `json:"src"`
	Label     string         `json:"label"`
	SrcLang   string         `json:"srclang"`
	Kind      string         `json:"kind"`
	Index     int            `json:"index"`
	Status    SubtitleStatus `json:"status"`
	IsDefault bool           `json:"is_default"`
}

// SubtitleSettings controls how the presentation layer draws cues.
type SubtitleSettings struct {
	Size       float64 `json:"size"`
	Color      string  `json:"color"`
	Background string  `json:"background"`
	Style      string  `json:"style"`
	// UseNative renders cues through the media element's own track renderer
	// instead of the custom overlay driven by ActiveCues.
	UseNative bool `json:"use_native"`
}

// DefaultSubtitleSettings returns the settings used when none are persisted.
func DefaultSubtitleSettings() SubtitleSettings {
	return SubtitleSettings{
		Size:       1.0,
		Color:      "#ffffff",
		Background: "rgba(0,0,0,0.75)",
		Style:      "none",
	}
}

// NotificationType classifies a notification for display.
type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
	NotifyLoading NotificationType = "loading"
)

// Action is an optional button attached to a notification.
type Action struct {
	Label string `json:"label"`
	// Name identifies the action for remote clients (e.g. "cancel-download").
	Name string `json:"name,omitempty"`
	Run  func() `json:"-"`
}

// Notification is a user-visible message. A notification with the same ID as
// an existing one replaces it in place.
type Notification struct {
	ID       string           `json:"id"`
	Message  string           `json:"message"`
	Type     NotificationType `json:"type"`
	Duration time.Duration    `json:"duration,omitempty"`
	Progress *float64         `json:"progress,omitempty"`
	Action   *Action          `json:"action,omitempty"`
}

// State is the complete session snapshot.
type State struct {
	// playback
	IsPlaying    bool        `json:"is_playing"`
	IsBuffering  bool        `json:"is_buffering"`
	CurrentTime  float64     `json:"current_time"`
	Duration     float64     `json:"duration"`
	Buffered     []TimeRange `json:"buffered"`
	PlaybackRate float64     `json:"playback_rate"`
	Volume       float64     `json:"volume"`
	IsMuted      bool        `json:"is_muted"`

	// sources
	Sources            []Source             `json:"sources"`
	CurrentSourceIndex int                  `json:"current_source_index"`
	SourceStatuses     map[int]SourceStatus `json:"source_statuses"`

	// quality and audio
	QualityLevels     []QualityLevel `json:"quality_levels"`
	CurrentQuality    int            `json:"current_quality"`
	AudioTracks       []AudioTrack   `json:"audio_tracks"`
	CurrentAudioTrack int            `json:"current_audio_track"`

	// subtitles
	SubtitleTracks   []SubtitleTrackState `json:"subtitle_tracks"`
	CurrentSubtitle  int                  `json:"current_subtitle"`
	SubtitleOffset   float64              `json:"subtitle_offset"`
	ActiveCues       []string             `json:"active_cues"`
	SubtitleSettings SubtitleSettings     `json:"subtitle_settings"`

	// diagnostics
	Error         string         `json:"error,omitempty"`
	Notifications []Notification `json:"notifications"`

	// presentation preferences
	IconSize   string  `json:"icon_size"`
	ThemeColor string  `json:"theme_color"`
	Theme      string  `json:"theme"`
	IsLive     bool    `json:"is_live"`
	IsLooping  bool    `json:"is_looping"`
	Brightness float64 `json:"brightness"`
	VideoFit   string  `json:"video_fit"`
}

// Initial returns the snapshot a new session starts from.
func Initial() State {
	return State{
		PlaybackRate:       1,
		Volume:             1,
		CurrentSourceIndex: -1,
		SourceStatuses:     map[int]SourceStatus{},
		CurrentQuality:     -1,
		CurrentAudioTrack:  -1,
		CurrentSubtitle:    -1,
		SubtitleSettings:   DefaultSubtitleSettings(),
		IconSize:           "medium",
		ThemeColor:         "#3b82f6",
		Theme:              "dark",
		Brightness:         1,
		VideoFit:           "contain",
	}
}
