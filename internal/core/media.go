package core

import (
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/subtitle"
)

// MediaElement is the playback surface the Player drives. It also renders
// the subtitle tracks the subtitle manager attaches.
type MediaElement interface {
	subtitle.Renderer

	SetSource(src state.Source)
	Play()
	Pause()
	Seek(position float64)
	SetVolume(volume float64)
	SetMuted(muted bool)
	SetPlaybackRate(rate float64)
}

// Media event types reported by the element.
const (
	MediaLoadedData     = "loadeddata"
	MediaCanPlay        = "canplay"
	MediaError          = "error"
	MediaTimeUpdate     = "timeupdate"
	MediaPlay           = "play"
	MediaPause          = "pause"
	MediaEnded          = "ended"
	MediaDurationChange = "durationchange"
	MediaProgress       = "progress"
	MediaVolumeChange   = "volumechange"
	MediaRateChange     = "ratechange"
	MediaWaiting        = "waiting"
	MediaPlaying        = "playing"
)

// MediaEvent is an observation reported by the media element. Only the
// fields relevant to Type are set. Host events (fullscreen, pip, resize,
// control) use the lifecycle event name as Type and carry their payload in
// Active or Width/Height.
type MediaEvent struct {
	Type         string            `json:"type"`
	CurrentTime  float64           `json:"current_time,omitempty"`
	Duration     float64           `json:"duration,omitempty"`
	Buffered     []state.TimeRange `json:"buffered,omitempty"`
	Volume       float64           `json:"volume,omitempty"`
	Muted        bool              `json:"muted,omitempty"`
	PlaybackRate float64           `json:"playback_rate,omitempty"`
	Message      string            `json:"message,omitempty"`
	Active       bool              `json:"active,omitempty"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
}
