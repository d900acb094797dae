package core

import (
	"strings"

	"github.com/opd-ai/go-strata/internal/state"
)

// Classify guesses the source type of url from its scheme and extension.
// Anything unrecognised is treated as progressive MP4.
func Classify(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	if strings.HasPrefix(lower, "magnet:") {
		return state.SourceWebTorrent
	}

	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}

	switch {
	case strings.HasSuffix(lower, ".m3u8"):
		return state.SourceHLS
	case strings.HasSuffix(lower, ".mpd"):
		return state.SourceDASH
	case strings.HasSuffix(lower, ".flv"), strings.HasSuffix(lower, ".ts"):
		return state.SourceMPEGTS
	case strings.HasSuffix(lower, ".torrent"):
		return state.SourceWebTorrent
	default:
		return state.SourceMP4
	}
}

// IsContainer reports whether sources of type typ play directly on the media
// element without a format plugin.
func IsContainer(typ string) bool {
	switch typ {
	case state.SourceMP4, state.SourceWebM, state.SourceOgg:
		return true
	}
	return false
}
