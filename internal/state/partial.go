package state

// Partial is a one-level patch over State. Every non-nil field replaces the
// corresponding State field wholesale; slices and maps are never merged
// element-wise.
type Partial struct {
	IsPlaying    *bool
	IsBuffering  *bool
	CurrentTime  *float64
	Duration     *float64
	Buffered     *[]TimeRange
	PlaybackRate *float64
	Volume       *float64
	IsMuted      *bool

	Sources            *[]Source
	CurrentSourceIndex *int
	SourceStatuses     *map[int]SourceStatus

	QualityLevels     *[]QualityLevel
	CurrentQuality    *int
	AudioTracks       *[]AudioTrack
	CurrentAudioTrack *int

	SubtitleTracks   *[]SubtitleTrackState
	CurrentSubtitle  *int
	SubtitleOffset   *float64
	ActiveCues       *[]string
	SubtitleSettings *SubtitleSettings

	Error         *string
	Notifications *[]Notification

	IconSize   *string
	ThemeColor *string
	Theme      *string
	IsLive     *bool
	IsLooping  *bool
	Brightness *float64
	VideoFit   *string
}

// Ptr returns a pointer to v, for building Partials inline.
func Ptr[T any](v T) *T {
	return &v
}

// Merge applies p over s and returns the result. s is not modified.
func Merge(s State, p Partial) State {
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.IsBuffering != nil {
		s.IsBuffering = *p.IsBuffering
	}
	if p.CurrentTime != nil {
		s.CurrentTime = *p.CurrentTime
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Buffered != nil {
		s.Buffered = *p.Buffered
	}
	if p.PlaybackRate != nil {
		s.PlaybackRate = *p.PlaybackRate
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.IsMuted != nil {
		s.IsMuted = *p.IsMuted
	}
	if p.Sources != nil {
		s.Sources = *p.Sources
	}
	if p.CurrentSourceIndex != nil {
		s.CurrentSourceIndex = *p.CurrentSourceIndex
	}
	if p.SourceStatuses != nil {
		s.SourceStatuses = *p.SourceStatuses
	}
	if p.QualityLevels != nil {
		s.QualityLevels = *p.QualityLevels
	}
	if p.CurrentQuality != nil {
		s.CurrentQuality = *p.CurrentQuality
	}
	if p.AudioTracks != nil {
		s.AudioTracks = *p.AudioTracks
	}
	if p.CurrentAudioTrack != nil {
		s.CurrentAudioTrack = *p.CurrentAudioTrack
	}
	if p.SubtitleTracks != nil {
		s.SubtitleTracks = *p.SubtitleTracks
	}
	if p.CurrentSubtitle != nil {
		s.CurrentSubtitle = *p.CurrentSubtitle
	}
	if p.SubtitleOffset != nil {
		s.SubtitleOffset = *p.SubtitleOffset
	}
	if p.ActiveCues != nil {
		s.ActiveCues = *p.ActiveCues
	}
	if p.SubtitleSettings != nil {
		s.SubtitleSettings = *p.SubtitleSettings
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.IconSize != nil {
		s.IconSize = *p.IconSize
	}
	if p.ThemeColor != nil {
		s.ThemeColor = *p.ThemeColor
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.IsLive != nil {
		s.IsLive = *p.IsLive
	}
	if p.IsLooping != nil {
		s.IsLooping = *p.IsLooping
	}
	if p.Brightness != nil {
		s.Brightness = *p.Brightness
	}
	if p.VideoFit != nil {
		s.VideoFit = *p.VideoFit
	}
	return s
}
