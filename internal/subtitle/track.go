package subtitle

import "sync"

// Mode is the visibility of a track attached to the media element.
type Mode string

const (
	// ModeDisabled stops cue processing for the track.
	ModeDisabled Mode = "disabled"
	// ModeHidden keeps cues active for the custom overlay without native rendering.
	ModeHidden Mode = "hidden"
	// ModeShowing renders cues with the element's native renderer.
	ModeShowing Mode = "showing"
)

// Track is a loaded, renderable set of cues.
type Track struct {
	Label    string
	Language string
	Kind     string

	mu   sync.RWMutex
	cues []*Cue
}

// NewTrack creates a Track owning cues.
func NewTrack(label, language, kind string, cues []*Cue) *Track {
	return &Track{Label: label, Language: language, Kind: kind, cues: cues}
}

// Cues returns a copy of the track's cues.
func (t *Track) Cues() []Cue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Cue, len(t.cues))
	for i, c := range t.cues {
		out[i] = *c
	}
	return out
}

// Shift moves every cue by delta seconds in place.
func (t *Track) Shift(delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.cues {
		c.Start += delta
		c.End += delta
	}
}

// ActiveAt returns the text of every cue active at position, in track order.
func (t *Track) ActiveAt(position float64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var texts []string
	for _, c := range t.cues {
		if c.Start <= position && position < c.End {
			texts = append(texts, c.Text)
		}
	}
	return texts
}
