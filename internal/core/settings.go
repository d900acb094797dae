package core

import (
	"encoding/json"
	"log/slog"

	"github.com/opd-ai/go-strata/internal/state"
)

// SettingsRepository loads and saves persisted preferences. storage.Manager
// satisfies it.
type SettingsRepository interface {
	LoadSettings() (map[string]json.RawMessage, error)
	SaveSettings(values map[string]any) error
}

// settingFields maps each persisted setting name to its field in s. Source
// statuses and other transient fields are never listed.
func settingFields(s *state.State) map[string]any {
	return map[string]any{
		"volume":           &s.Volume,
		"muted":            &s.IsMuted,
		"playbackRate":     &s.PlaybackRate,
		"subtitleSettings": &s.SubtitleSettings,
		"iconSize":         &s.IconSize,
		"themeColor":       &s.ThemeColor,
		"theme":            &s.Theme,
		"isLive":           &s.IsLive,
		"isLooping":        &s.IsLooping,
		"brightness":       &s.Brightness,
		"videoFit":         &s.VideoFit,
	}
}

// applySettings overlays stored values onto s. Values that fail to decode
// are skipped.
func applySettings(s *state.State, stored map[string]json.RawMessage, logger *slog.Logger) {
	for name, field := range settingFields(s) {
		raw, ok := stored[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, field); err != nil {
			logger.Warn("Ignoring invalid persisted setting", "key", name, "error", err)
		}
	}
}

// settingsChanged reports whether any persisted field differs.
func settingsChanged(a, b state.State) bool {
	return a.Volume != b.Volume ||
		a.IsMuted != b.IsMuted ||
		a.PlaybackRate != b.PlaybackRate ||
		a.SubtitleSettings != b.SubtitleSettings ||
		a.IconSize != b.IconSize ||
		a.ThemeColor != b.ThemeColor ||
		a.Theme != b.Theme ||
		a.IsLive != b.IsLive ||
		a.IsLooping != b.IsLooping ||
		a.Brightness != b.Brightness ||
		a.VideoFit != b.VideoFit
}

// persist is the store listener that writes preferences back.
func (p *Player) persist(next, prev state.State) {
	if !settingsChanged(next, prev) {
		return
	}
	if err := p.settings.SaveSettings(settingFields(&next)); err != nil {
		p.logger.Error("Failed to persist settings", "error", err)
	}
}
