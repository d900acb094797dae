package core

import (
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/subtitle"
)

// Command names published by RemoteElement.
const (
	CommandSetSource    = "set-source"
	CommandPlay         = "play"
	CommandPause        = "pause"
	CommandSeek         = "seek"
	CommandVolume       = "volume"
	CommandMuted        = "muted"
	CommandRate         = "rate"
	CommandAttachTrack  = "attach-track"
	CommandDetachTracks = "detach-tracks"
	CommandTrackMode    = "track-mode"
)

// Command is an instruction for a media element hosted elsewhere.
type Command struct {
	Name   string        `json:"name"`
	Source *state.Source `json:"source,omitempty"`
	Value  float64       `json:"value,omitempty"`
	Muted  bool          `json:"muted,omitempty"`
	Index  int           `json:"index,omitempty"`
	Mode   subtitle.Mode `json:"mode,omitempty"`
	Track  *TrackPayload `json:"track,omitempty"`
}

// TrackPayload carries a converted subtitle track to the host.
type TrackPayload struct {
	Label    string         `json:"label"`
	Language string         `json:"language"`
	Kind     string         `json:"kind"`
	Cues     []subtitle.Cue `json:"cues"`
}

// RemoteElement implements MediaElement by publishing Commands on
// events.ChannelMediaCommand. The host reports back through
// Player.HandleMediaEvent.
type RemoteElement struct {
	bus *events.Bus
}

// NewRemoteElement creates a RemoteElement publishing on bus.
func NewRemoteElement(bus *events.Bus) *RemoteElement {
	return &RemoteElement{bus: bus}
}

func (r *RemoteElement) send(cmd Command) {
	r.bus.Publish(events.ChannelMediaCommand, cmd)
}

func (r *RemoteElement) SetSource(src state.Source) {
	r.send(Command{Name: CommandSetSource, Source: &src})
}

func (r *RemoteElement) Play() {
	r.send(Command{Name: CommandPlay})
}

func (r *RemoteElement) Pause() {
	r.send(Command{Name: CommandPause})
}

func (r *RemoteElement) Seek(position float64) {
	r.send(Command{Name: CommandSeek, Value: position})
}

func (r *RemoteElement) SetVolume(volume float64) {
	r.send(Command{Name: CommandVolume, Value: volume})
}

func (r *RemoteElement) SetMuted(muted bool) {
	r.send(Command{Name: CommandMuted, Muted: muted})
}

func (r *RemoteElement) SetPlaybackRate(rate float64) {
	r.send(Command{Name: CommandRate, Value: rate})
}

func (r *RemoteElement) AttachTrack(index int, track *subtitle.Track) {
	r.send(Command{
		Name:  CommandAttachTrack,
		Index: index,
		Track: &TrackPayload{
			Label:    track.Label,
			Language: track.Language,
			Kind:     track.Kind,
			Cues:     track.Cues(),
		},
	})
}

func (r *RemoteElement) DetachTracks() {
	r.send(Command{Name: CommandDetachTracks})
}

func (r *RemoteElement) SetTrackMode(index int, mode subtitle.Mode) {
	r.send(Command{Name: CommandTrackMode, Index: index, Mode: mode})
}
