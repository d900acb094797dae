package events

// Plugin-facing request channels.
const (
	ChannelLoad              = "load"
	ChannelQualityRequest    = "quality-request"
	ChannelAudioTrackRequest = "audio-track-request"
)

// Host-facing channels used by the remote media element and the download fallback.
const (
	ChannelMediaCommand = "media-command"
	ChannelOpenURL      = "open-url"
)

// Lifecycle events observable by the presentation layer.
const (
	EventReady          = "ready"
	EventLoad           = ChannelLoad
	EventPlay           = "play"
	EventPause          = "pause"
	EventEnded          = "ended"
	EventError          = "error"
	EventSeek           = "seek"
	EventLoading        = "loading"
	EventFullscreen     = "fullscreen"
	EventFullscreenExit = "fullscreen_exit"
	EventPIP            = "pip"
	EventResize         = "resize"
	EventControl        = "control"
	EventDestroy        = "destroy"
)

// LifecycleEvents lists every event a presentation layer may observe.
var LifecycleEvents = []string{
	EventReady, EventLoad, EventPlay, EventPause, EventEnded, EventError, EventSeek,
	EventLoading, EventFullscreen, EventFullscreenExit, EventPIP, EventResize,
	EventControl, EventDestroy,
}

// LoadRequest is published on ChannelLoad for plugins to claim.
type LoadRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Resize is the payload of EventResize.
type Resize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsHostEvent reports whether name is a lifecycle event that the presentation
// layer itself originates (fullscreen, pip, resize, control).
func IsHostEvent(name string) bool {
	switch name {
	case EventFullscreen, EventFullscreenExit, EventPIP, EventResize, EventControl:
		return true
	}
	return false
}
