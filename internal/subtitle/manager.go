package subtitle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/opd-ai/go-strata/internal/fetch"
	"github.com/opd-ai/go-strata/internal/metrics"
	"github.com/opd-ai/go-strata/internal/state"
)

const (
	// offsetEpsilon is the smallest offset change that moves cues.
	offsetEpsilon = 0.001

	defaultWarningDuration = 4 * time.Second
)

// TrackConfig describes a subtitle source supplied with a load.
type TrackConfig struct {
	Src     string `json:"src"`
	Label   string `json:"label"`
	SrcLang string `json:"srclang"`
	Kind    string `json:"kind,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Renderer is the part of the media element that displays text tracks.
type Renderer interface {
	AttachTrack(index int, track *Track)
	DetachTracks()
	SetTrackMode(index int, mode Mode)
}

// Fetcher retrieves subtitle files.
type Fetcher interface {
	Get(ctx context.Context, url string) fetch.Result
}

// CustomizationUpdate carries the subtitle settings to change. Nil fields are
// left as they are.
type CustomizationUpdate struct {
	Size       *float64 `json:"size,omitempty"`
	Color      *string  `json:"color,omitempty"`
	Background *string  `json:"background,omitempty"`
	Style      *string  `json:"style,omitempty"`
	UseNative  *bool    `json:"use_native,omitempty"`
}

// Manager owns the subtitle tracks of the current source. Observable state
// (track list, selection, offset, active cues) lives in the Store; the
// Manager keeps the loaded cue data.
type Manager struct {
	store    *state.Store
	notifier *state.Notifier
	renderer Renderer
	fetcher  Fetcher
	logger   *slog.Logger

	mu         sync.Mutex
	tracks     map[int]*Track
	active     int
	generation uint64
}

// NewManager creates a Manager.
func NewManager(store *state.Store, notifier *state.Notifier, renderer Renderer, fetcher Fetcher, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		renderer: renderer,
		fetcher:  fetcher,
		logger:   logger,
		tracks:   make(map[int]*Track),
		active:   -1,
	}
}

// RegisterTracks replaces the track list with idle entries and returns the
// index of the track marked default, or -1. The caller selects it.
func (m *Manager) RegisterTracks(configs []TrackConfig) int {
	m.mu.Lock()
	m.generation++
	m.tracks = make(map[int]*Track)
	m.active = -1
	m.mu.Unlock()

	entries := make([]state.SubtitleTrackState, len(configs))
	defaultIndex := -1
	for i, cfg := range configs {
		entries[i] = trackState(cfg, i)
		if cfg.Default && defaultIndex < 0 {
			defaultIndex = i
		}
	}

	m.store.Set(state.Partial{
		SubtitleTracks:  &entries,
		CurrentSubtitle: state.Ptr(-1),
		SubtitleOffset:  state.Ptr(0.0),
		ActiveCues:      &[]string{},
	})

	m.logger.Debug("Registered subtitle tracks", "count", len(configs), "default", defaultIndex)
	return defaultIndex
}

// AddTrack appends a track to the list and returns its index.
func (m *Manager) AddTrack(cfg TrackConfig) int {
	index := -1
	m.store.Update(func(prev state.State) state.Partial {
		index = len(prev.SubtitleTracks)
		next := append(slices.Clone(prev.SubtitleTracks), trackState(cfg, index))
		return state.Partial{SubtitleTracks: &next}
	})
	return index
}

func trackState(cfg TrackConfig, index int) state.SubtitleTrackState {
	kind := cfg.Kind
	if kind == "" {
		kind = "subtitles"
	}
	return state.SubtitleTrackState{
		Src:       cfg.Src,
		Label:     cfg.Label,
		SrcLang:   cfg.SrcLang,
		Kind:      kind,
		Index:     index,
		Status:    state.SubtitleIdle,
		IsDefault: cfg.Default,
	}
}

// Select activates the track at index, fetching and converting it first when
// it has not loaded yet. Index -1 turns subtitles off. A failed load leaves
// subtitles off and raises a warning; a cancelled load does neither.
func (m *Manager) Select(ctx context.Context, index int) error {
	snapshot := m.store.Get()
	if index < -1 || index >= len(snapshot.SubtitleTracks) {
		return fmt.Errorf("subtitle index %d out of range", index)
	}

	m.mu.Lock()
	gen := m.generation
	previous := m.active
	var previousTrack *Track
	if previous >= 0 {
		previousTrack = m.tracks[previous]
	}
	loaded := make([]int, 0, len(m.tracks))
	for idx := range m.tracks {
		loaded = append(loaded, idx)
	}
	m.active = -1
	m.mu.Unlock()

	for _, idx := range loaded {
		m.renderer.SetTrackMode(idx, ModeDisabled)
	}
	if previousTrack != nil && snapshot.SubtitleOffset != 0 {
		previousTrack.Shift(-snapshot.SubtitleOffset)
	}

	m.store.Set(state.Partial{
		CurrentSubtitle: &index,
		SubtitleOffset:  state.Ptr(0.0),
		ActiveCues:      &[]string{},
	})

	if index == -1 {
		return nil
	}

	entry := snapshot.SubtitleTracks[index]
	if entry.Status == state.SubtitleIdle || entry.Status == state.SubtitleError {
		track, err := m.load(ctx, index, entry)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			m.logger.Debug("Discarding subtitle track loaded for a previous source", "label", entry.Label)
			return nil
		}
		m.tracks[index] = track
		m.mu.Unlock()

		m.renderer.AttachTrack(index, track)
		m.setStatus(index, entry.Src, state.SubtitleSuccess)
	}

	current := m.store.Get()
	if current.CurrentSubtitle != index {
		// Another selection happened while this one was loading.
		return nil
	}

	m.mu.Lock()
	if gen != m.generation || m.tracks[index] == nil {
		m.mu.Unlock()
		return nil
	}
	m.active = index
	m.mu.Unlock()

	m.renderer.SetTrackMode(index, modeFor(current.SubtitleSettings))
	m.UpdateActiveCues(current.CurrentTime)
	return nil
}

func (m *Manager) load(ctx context.Context, index int, entry state.SubtitleTrackState) (*Track, error) {
	m.setStatus(index, entry.Src, state.SubtitleLoading)

	result := m.fetcher.Get(ctx, entry.Src)
	if result.Outcome == fetch.Cancelled {
		m.setStatus(index, entry.Src, state.SubtitleIdle)
		return nil, result.Err
	}

	var cues []*Cue
	err := result.Err
	if result.OK() {
		cues, err = ParseWebVTT(ToWebVTT(string(result.Body)))
	}
	if err != nil {
		m.logger.Warn("Failed to load subtitle track",
			"label", entry.Label,
			"src", entry.Src,
			"outcome", result.Outcome.String(),
			"attempts", result.Attempts,
			"error", err)
		metrics.IncSubtitleLoad("error")

		m.setStatus(index, entry.Src, state.SubtitleError)
		m.store.Update(func(prev state.State) state.Partial {
			if prev.CurrentSubtitle != index {
				return state.Partial{}
			}
			return state.Partial{CurrentSubtitle: state.Ptr(-1)}
		})
		m.notifier.Notify(state.Notification{
			Message:  fmt.Sprintf("Failed to load subtitles: %s", entry.Label),
			Type:     state.NotifyWarning,
			Duration: defaultWarningDuration,
		})
		return nil, fmt.Errorf("failed to load subtitle track %q: %w", entry.Label, err)
	}

	metrics.IncSubtitleLoad("success")
	m.logger.Debug("Loaded subtitle track", "label", entry.Label, "cues", len(cues))
	return NewTrack(entry.Label, entry.SrcLang, entry.Kind, cues), nil
}

// setStatus updates one entry of the track list, unless the list has been
// replaced and the entry at index now refers to a different source.
func (m *Manager) setStatus(index int, src string, status state.SubtitleStatus) {
	m.store.Update(func(prev state.State) state.Partial {
		if index >= len(prev.SubtitleTracks) || prev.SubtitleTracks[index].Src != src {
			return state.Partial{}
		}
		next := slices.Clone(prev.SubtitleTracks)
		next[index].Status = status
		return state.Partial{SubtitleTracks: &next}
	})
}

// SetOffset moves the active track's cues so that the total shift equals
// offset seconds. Changes smaller than a millisecond are ignored.
func (m *Manager) SetOffset(offset float64) {
	m.mu.Lock()
	current := m.store.Get()
	delta := offset - current.SubtitleOffset
	if math.Abs(delta) < offsetEpsilon {
		m.mu.Unlock()
		return
	}
	if track := m.tracks[m.active]; track != nil {
		track.Shift(delta)
	}
	m.store.Set(state.Partial{SubtitleOffset: &offset})
	m.mu.Unlock()

	m.UpdateActiveCues(current.CurrentTime)
}

// UpdateCustomization merges rendering settings. Switching between native and
// custom rendering re-applies the active track's mode without refetching.
func (m *Manager) UpdateCustomization(update CustomizationUpdate) {
	var toggled bool
	var settings state.SubtitleSettings
	m.store.Update(func(prev state.State) state.Partial {
		settings = prev.SubtitleSettings
		if update.Size != nil {
			settings.Size = *update.Size
		}
		if update.Color != nil {
			settings.Color = *update.Color
		}
		if update.Background != nil {
			settings.Background = *update.Background
		}
		if update.Style != nil {
			settings.Style = *update.Style
		}
		if update.UseNative != nil && *update.UseNative != settings.UseNative {
			settings.UseNative = *update.UseNative
			toggled = true
		}
		return state.Partial{SubtitleSettings: &settings}
	})

	if !toggled {
		return
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active >= 0 {
		m.renderer.SetTrackMode(active, modeFor(settings))
	}
}

// UpdateActiveCues recomputes the texts of the cues active at position and
// publishes them when they changed.
func (m *Manager) UpdateActiveCues(position float64) {
	m.mu.Lock()
	track := m.tracks[m.active]
	m.mu.Unlock()

	texts := []string{}
	if track != nil {
		texts = append(texts, track.ActiveAt(position)...)
	}

	if slices.Equal(m.store.Get().ActiveCues, texts) {
		return
	}
	m.store.Set(state.Partial{ActiveCues: &texts})
}

// ActiveTrack returns the loaded track that is currently selected, if any.
func (m *Manager) ActiveTrack() (*Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	track, ok := m.tracks[m.active]
	return track, ok
}

// Reset detaches every track and clears subtitle state. In-flight loads for
// the previous track list are discarded when they finish.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.generation++
	m.tracks = make(map[int]*Track)
	m.active = -1
	m.mu.Unlock()

	m.renderer.DetachTracks()
	m.store.Set(state.Partial{
		SubtitleTracks:  &[]state.SubtitleTrackState{},
		CurrentSubtitle: state.Ptr(-1),
		SubtitleOffset:  state.Ptr(0.0),
		ActiveCues:      &[]string{},
	})
}

func modeFor(settings state.SubtitleSettings) Mode {
	if settings.UseNative {
		return ModeShowing
	}
	return ModeHidden
}
