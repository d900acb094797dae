// Package core composes the session: it owns the state store and event bus,
// drives the media element, and delegates recovery, subtitles and downloads
// to their subsystems. Format engines for sources the element cannot play
// directly attach as plugins and claim sources published on the load channel.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/opd-ai/go-strata/internal/clock"
	"github.com/opd-ai/go-strata/internal/downloader"
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/fetch"
	"github.com/opd-ai/go-strata/internal/retry"
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/subtitle"
	"github.com/opd-ai/go-strata/pkg/config"
)

var (
	// ErrNoSource is returned by operations that need a loaded source.
	ErrNoSource = errors.New("no source loaded")
	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("player destroyed")
)

const defaultErrorMessage = "Media playback error"

// Options configures a Player. Only Config is required in practice; every
// other field has a usable default.
type Options struct {
	Config *config.Config
	// Element defaults to a RemoteElement publishing on Bus.
	Element MediaElement
	Bus     *events.Bus
	// Scheduler arms retry and notification timers. Defaults to the system clock.
	Scheduler  clock.Scheduler
	HTTPClient *http.Client
	// Settings persists preferences when player.persist_settings is on.
	Settings SettingsRepository
	History  downloader.History
	Logger   *slog.Logger
}

// LoadOptions accompanies a Load.
type LoadOptions struct {
	// Sources replaces the source list. When empty the current list is kept
	// if it contains the loaded source.
	Sources   []state.Source
	Subtitles []subtitle.TrackConfig
}

// DownloadOptions selects the saved file name and, for HLS, the container.
type DownloadOptions struct {
	Filename string `json:"filename,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Player is the session orchestrator.
type Player struct {
	cfg       *config.Config
	element   MediaElement
	bus       *events.Bus
	store     *state.Store
	notifier  *state.Notifier
	retry     *retry.Controller
	subtitles *subtitle.Manager
	downloads *downloader.Engine
	settings  SettingsRepository
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	tracks         []subtitle.TrackConfig
	pendingSeek    float64
	subtitleCancel context.CancelFunc
	plugins        []Plugin
	unsubscribe    []func()
	destroyed      bool
}

// New builds a Player, restoring persisted preferences first, and publishes
// the ready event.
func New(opts Options) (*Player, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	element := opts.Element
	if element == nil {
		element = NewRemoteElement(bus)
	}
	persist := opts.Settings != nil && cfg.Player.PersistSettings

	initial := state.Initial()
	initial.SubtitleSettings.UseNative = cfg.Subtitle.NativeRendering
	if persist {
		stored, err := opts.Settings.LoadSettings()
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		applySettings(&initial, stored, logger)
	}

	store := state.NewStore(initial)
	notifier := state.NewNotifier(store, opts.Scheduler)
	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		cfg:      cfg,
		element:  element,
		bus:      bus,
		store:    store,
		notifier: notifier,
		settings: opts.Settings,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	subtitleClient := fetch.New(opts.HTTPClient, fetch.Policy{
		Attempts:  cfg.Subtitle.FetchAttempts,
		Timeout:   cfg.Subtitle.FetchTimeout,
		BaseDelay: cfg.Download.RetryDelay,
		MaxDelay:  cfg.Download.MaxRetryDelay,
	}, logger)
	p.subtitles = subtitle.NewManager(store, notifier, element, subtitleClient, logger)

	downloadClient := fetch.New(opts.HTTPClient, fetch.Policy{
		Attempts:  cfg.Download.RetryAttempts,
		Timeout:   cfg.Download.RequestTimeout,
		BaseDelay: cfg.Download.RetryDelay,
		MaxDelay:  cfg.Download.MaxRetryDelay,
	}, logger)
	p.downloads = downloader.New(&cfg.Download, downloadClient, notifier, logger)
	p.downloads.SetOpener(p)
	if opts.History != nil {
		p.downloads.SetHistory(opts.History)
	}

	p.retry = retry.New(retry.Config{
		MaxRetries: cfg.Player.MaxRetries,
		BaseDelay:  cfg.Player.RetryBaseDelay,
	}, store, notifier, bus, opts.Scheduler, p.reload, logger)

	if persist {
		p.unsubscribe = append(p.unsubscribe, store.Subscribe(p.persist))
	}

	element.SetVolume(initial.Volume)
	element.SetMuted(initial.IsMuted)
	element.SetPlaybackRate(initial.PlaybackRate)

	logger.Info("Player initialized",
		"persist_settings", persist,
		"max_retries", cfg.Player.MaxRetries,
		"native_subtitles", initial.SubtitleSettings.UseNative)

	bus.Publish(events.EventReady, nil)
	return p, nil
}

// State returns the current snapshot.
func (p *Player) State() state.State {
	return p.store.Get()
}

// Store returns the session store.
func (p *Player) Store() *state.Store {
	return p.store
}

// Bus returns the session event bus.
func (p *Player) Bus() *events.Bus {
	return p.bus
}

// LoadURL loads a bare URL with no subtitles.
func (p *Player) LoadURL(url string) error {
	return p.Load(state.Source{URL: url}, LoadOptions{})
}

// Load makes src the current source. It starts a fresh recovery streak,
// clears error, quality, audio and subtitle selections, publishes a load
// request carrying the URL and type, and hands container formats to the
// media element. Other types are left to plugins listening on the load
// channel.
func (p *Player) Load(src state.Source, opts LoadOptions) error {
	return p.load(src, opts, false)
}

func (p *Player) load(src state.Source, opts LoadOptions, isRetry bool) error {
	p.retry.Cancel()

	src.URL = strings.TrimSpace(src.URL)
	src.OriginalURL = strings.TrimSpace(src.OriginalURL)
	if src.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	if src.Type == "" {
		src.Type = Classify(src.EffectiveURL())
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.subtitleCancel != nil {
		p.subtitleCancel()
		p.subtitleCancel = nil
	}
	if !isRetry {
		p.tracks = slices.Clone(opts.Subtitles)
		p.pendingSeek = 0
	}
	tracks := p.tracks
	p.mu.Unlock()

	if !isRetry {
		p.retry.Reset()
	}

	p.store.Update(func(prev state.State) state.Partial {
		sources := opts.Sources
		if len(sources) == 0 {
			sources = prev.Sources
		}
		index := indexOfSource(sources, src.URL)
		replaced := len(opts.Sources) > 0 || index < 0
		if index < 0 {
			sources = []state.Source{src}
			index = 0
		} else {
			sources = slices.Clone(sources)
			sources[index] = src
		}

		partial := state.Partial{
			Sources:            &sources,
			CurrentSourceIndex: &index,
			IsPlaying:          state.Ptr(false),
			IsBuffering:        state.Ptr(true),
			CurrentTime:        state.Ptr(0.0),
			Duration:           state.Ptr(0.0),
			Buffered:           &[]state.TimeRange{},
			QualityLevels:      &[]state.QualityLevel{},
			CurrentQuality:     state.Ptr(-1),
			AudioTracks:        &[]state.AudioTrack{},
			CurrentAudioTrack:  state.Ptr(-1),
		}
		if !isRetry {
			partial.Error = state.Ptr("")
		}
		if replaced {
			partial.SourceStatuses = &map[int]state.SourceStatus{}
		}
		return partial
	})

	p.logger.Info("Loading source",
		"url", src.EffectiveURL(),
		"type", src.Type,
		"retry", isRetry)

	p.bus.Publish(events.ChannelLoad, events.LoadRequest{URL: src.URL, Type: src.Type})
	p.bus.Publish(events.EventLoading, true)

	p.subtitles.Reset()

	if IsContainer(src.Type) {
		p.element.SetSource(src)
	} else {
		p.logger.Debug("Source left for plugins", "type", src.Type)
	}

	if len(tracks) > 0 {
		if def := p.subtitles.RegisterTracks(tracks); def >= 0 {
			p.selectInBackground(def)
		}
	}
	return nil
}

func indexOfSource(sources []state.Source, url string) int {
	for i, s := range sources {
		if s.URL == url {
			return i
		}
	}
	return -1
}

// reload is the retry controller's callback: it reloads the current source
// and remembers the position to restore once data is available.
func (p *Player) reload() {
	st := p.store.Get()
	if st.CurrentSourceIndex < 0 || st.CurrentSourceIndex >= len(st.Sources) {
		return
	}
	src := st.Sources[st.CurrentSourceIndex]

	// A reload that fails before data arrives reports position 0; keep the
	// position still waiting to be restored.
	p.mu.Lock()
	if st.CurrentTime > 0 {
		p.pendingSeek = st.CurrentTime
	}
	p.mu.Unlock()

	if err := p.load(src, LoadOptions{}, true); err != nil {
		p.logger.Error("Failed to reload source", "url", src.EffectiveURL(), "error", err)
	}
}

func (p *Player) selectInBackground(index int) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.subtitleCancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := p.subtitles.Select(ctx, index); err != nil && ctx.Err() == nil {
			p.logger.Warn("Failed to load default subtitle track", "index", index, "error", err)
		}
	}()
}

// Play asks the element to start playback.
func (p *Player) Play() {
	p.element.Play()
}

// Pause asks the element to pause.
func (p *Player) Pause() {
	p.element.Pause()
}

// Seek moves playback to position, clamped to the known duration.
func (p *Player) Seek(position float64) {
	st := p.store.Get()
	if position < 0 {
		position = 0
	}
	if st.Duration > 0 && position > st.Duration {
		position = st.Duration
	}

	p.element.Seek(position)
	p.store.Set(state.Partial{CurrentTime: &position})
	p.bus.Publish(events.EventSeek, position)
	p.subtitles.UpdateActiveCues(position)
}

// SetVolume sets the volume, clamped to [0, 1].
func (p *Player) SetVolume(volume float64) {
	volume = min(max(volume, 0), 1)
	p.element.SetVolume(volume)
	p.store.Set(state.Partial{Volume: &volume})
}

// SetMuted mutes or unmutes.
func (p *Player) SetMuted(muted bool) {
	p.element.SetMuted(muted)
	p.store.Set(state.Partial{IsMuted: &muted})
}

// SetPlaybackRate changes the playback speed.
func (p *Player) SetPlaybackRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("playback rate must be positive, got %v", rate)
	}
	p.element.SetPlaybackRate(rate)
	p.store.Set(state.Partial{PlaybackRate: &rate})
	return nil
}

// SetLooping toggles restarting at the end.
func (p *Player) SetLooping(looping bool) {
	p.store.Set(state.Partial{IsLooping: &looping})
}

// SetQuality selects a quality level, -1 meaning automatic, and asks the
// plugin that owns the source to switch.
func (p *Player) SetQuality(index int) error {
	if n := len(p.store.Get().QualityLevels); index < -1 || index >= n {
		return fmt.Errorf("quality index %d out of range (%d levels)", index, n)
	}
	p.store.Set(state.Partial{CurrentQuality: &index})
	p.bus.Publish(events.ChannelQualityRequest, index)
	return nil
}

// SetAudioTrack selects an audio track and asks the owning plugin to switch.
func (p *Player) SetAudioTrack(index int) error {
	if n := len(p.store.Get().AudioTracks); index < -1 || index >= n {
		return fmt.Errorf("audio track index %d out of range (%d tracks)", index, n)
	}
	p.store.Set(state.Partial{CurrentAudioTrack: &index})
	p.bus.Publish(events.ChannelAudioTrackRequest, index)
	return nil
}

// SelectSubtitle activates a subtitle track, loading it if needed. Index -1
// turns subtitles off.
func (p *Player) SelectSubtitle(ctx context.Context, index int) error {
	return p.subtitles.Select(ctx, index)
}

// AddSubtitle registers another subtitle track for the current source.
func (p *Player) AddSubtitle(cfg subtitle.TrackConfig) int {
	p.mu.Lock()
	p.tracks = append(slices.Clone(p.tracks), cfg)
	p.mu.Unlock()
	return p.subtitles.AddTrack(cfg)
}

// SetSubtitleOffset shifts the active track's cues to offset seconds.
func (p *Player) SetSubtitleOffset(offset float64) {
	p.subtitles.SetOffset(offset)
}

// UpdateSubtitleSettings changes how cues are drawn.
func (p *Player) UpdateSubtitleSettings(update subtitle.CustomizationUpdate) {
	p.subtitles.UpdateCustomization(update)
}

// TriggerError reports a playback problem. Fatal errors go through the
// recovery state machine; others raise a short-lived warning.
func (p *Player) TriggerError(message string, fatal bool) {
	if message == "" {
		message = defaultErrorMessage
	}
	if fatal {
		p.retry.Fail(message)
		return
	}
	p.logger.Warn("Playback warning", "message", message)
	p.notifier.Notify(state.Notification{
		Message:  message,
		Type:     state.NotifyWarning,
		Duration: p.cfg.Player.NotificationDuration,
	})
}

// SetState merges a partial snapshot. Plugins use it to publish quality
// levels and audio tracks.
func (p *Player) SetState(partial state.Partial) {
	p.store.Set(partial)
}

// Notify shows a notification and returns its ID.
func (p *Player) Notify(note state.Notification) string {
	return p.notifier.Notify(note)
}

// DismissNotification removes a notification.
func (p *Player) DismissNotification(id string) {
	p.notifier.Dismiss(id)
}

// RunAction runs the action attached to a notification. It reports whether
// the notification had a runnable action.
func (p *Player) RunAction(id string) bool {
	note, ok := p.notifier.Lookup(id)
	if !ok || note.Action == nil || note.Action.Run == nil {
		return false
	}
	p.logger.Debug("Running notification action", "id", id, "action", note.Action.Name)
	note.Action.Run()
	return true
}

// Open implements downloader.Opener by asking the host to open url.
func (p *Player) Open(url string) {
	p.bus.Publish(events.ChannelOpenURL, url)
}

// SetDownloadLink sets the address handed to the host when the user saves a
// finished download. link receives the download ID.
func (p *Player) SetDownloadLink(link func(id string) string) {
	p.downloads.SetLinker(func(res *downloader.Result) string {
		return link(res.ID)
	})
}

// Download saves the current source and blocks until it finishes.
func (p *Player) Download(ctx context.Context, opts DownloadOptions) (*downloader.Result, error) {
	req, hls, err := p.downloadRequest(opts)
	if err != nil {
		return nil, err
	}
	if hls {
		return p.downloads.DownloadHLS(ctx, req)
	}
	return p.downloads.Download(ctx, req)
}

// StartDownload saves the current source in the background and returns the
// download ID. Progress and the outcome are reported as notifications.
func (p *Player) StartDownload(opts DownloadOptions) (string, error) {
	req, hls, err := p.downloadRequest(opts)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return "", ErrDestroyed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		var err error
		if hls {
			_, err = p.downloads.DownloadHLS(p.ctx, req)
		} else {
			_, err = p.downloads.Download(p.ctx, req)
		}
		if err != nil {
			p.logger.Debug("Background download ended", "id", req.ID, "error", err)
		}
	}()

	return req.ID, nil
}

func (p *Player) downloadRequest(opts DownloadOptions) (downloader.Request, bool, error) {
	st := p.store.Get()
	if st.CurrentSourceIndex < 0 || st.CurrentSourceIndex >= len(st.Sources) {
		return downloader.Request{}, false, ErrNoSource
	}
	src := st.Sources[st.CurrentSourceIndex]

	switch src.Type {
	case state.SourceDASH, state.SourceWebTorrent:
		p.notifier.Notify(state.Notification{
			Message:  fmt.Sprintf("Downloading %s sources is not supported", strings.ToUpper(src.Type)),
			Type:     state.NotifyWarning,
			Duration: p.cfg.Player.NotificationDuration,
		})
		return downloader.Request{}, false, fmt.Errorf("%w: %s source", downloader.ErrUnsupportedSource, src.Type)
	}

	return downloader.Request{
		ID:          downloader.NewID(),
		URL:         src.URL,
		OriginalURL: src.OriginalURL,
		Filename:    opts.Filename,
		Format:      opts.Format,
	}, src.Type == state.SourceHLS, nil
}

// CancelDownload aborts an active download.
func (p *Player) CancelDownload(id string) bool {
	return p.downloads.Cancel(id)
}

// ActiveDownloads returns the IDs of downloads in progress.
func (p *Player) ActiveDownloads() []string {
	return p.downloads.Active()
}

// Use installs a plugin.
func (p *Player) Use(plugin Plugin) error {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}

	if err := plugin.Init(p); err != nil {
		return fmt.Errorf("failed to initialize plugin %s: %w", plugin.Name(), err)
	}

	p.mu.Lock()
	p.plugins = append(p.plugins, plugin)
	p.mu.Unlock()

	p.logger.Info("Plugin installed", "plugin", plugin.Name())
	return nil
}

// Destroy stops timers, cancels subtitle loads and downloads, waits for
// background work, destroys plugins in reverse order, and tears down every
// subscription. It is safe to call more than once.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	if p.subtitleCancel != nil {
		p.subtitleCancel()
		p.subtitleCancel = nil
	}
	plugins := p.plugins
	p.plugins = nil
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	p.retry.Cancel()
	for _, id := range p.downloads.Active() {
		p.downloads.Cancel(id)
	}
	p.cancel()
	p.wg.Wait()

	for i := len(plugins) - 1; i >= 0; i-- {
		if d, ok := plugins[i].(Destroyer); ok {
			d.Destroy()
		}
	}
	for _, fn := range unsubscribe {
		fn()
	}
	p.notifier.Stop()

	p.logger.Info("Player destroyed")
	p.bus.Publish(events.EventDestroy, nil)
	p.bus.Teardown()
}

// HandleMediaEvent applies an observation from the media element.
func (p *Player) HandleMediaEvent(ev MediaEvent) {
	switch ev.Type {
	case MediaLoadedData:
		p.retry.Reset()
		p.store.Update(func(prev state.State) state.Partial {
			statuses := make(map[int]state.SourceStatus, len(prev.SourceStatuses)+1)
			for k, v := range prev.SourceStatuses {
				statuses[k] = v
			}
			if prev.CurrentSourceIndex >= 0 {
				statuses[prev.CurrentSourceIndex] = state.SourceSuccess
			}
			return state.Partial{SourceStatuses: &statuses}
		})
		p.setBuffering(false)

		p.mu.Lock()
		seek := p.pendingSeek
		p.pendingSeek = 0
		p.mu.Unlock()
		if seek > 0 {
			p.logger.Debug("Restoring position after reload", "position", seek)
			p.Seek(seek)
		}

	case MediaCanPlay:
		p.setBuffering(false)

	case MediaWaiting:
		p.setBuffering(true)

	case MediaPlaying:
		p.setBuffering(false)
		p.store.Set(state.Partial{IsPlaying: state.Ptr(true)})

	case MediaPlay:
		p.store.Set(state.Partial{IsPlaying: state.Ptr(true)})
		p.bus.Publish(events.EventPlay, nil)

	case MediaPause:
		p.store.Set(state.Partial{IsPlaying: state.Ptr(false)})
		p.bus.Publish(events.EventPause, nil)

	case MediaEnded:
		p.store.Set(state.Partial{IsPlaying: state.Ptr(false)})
		p.bus.Publish(events.EventEnded, nil)
		if p.store.Get().IsLooping {
			p.Seek(0)
			p.element.Play()
		}

	case MediaTimeUpdate:
		position := ev.CurrentTime
		p.store.Set(state.Partial{CurrentTime: &position})
		p.subtitles.UpdateActiveCues(position)

	case MediaDurationChange:
		duration := ev.Duration
		p.store.Set(state.Partial{Duration: &duration})

	case MediaProgress:
		buffered := slices.Clone(ev.Buffered)
		if buffered == nil {
			buffered = []state.TimeRange{}
		}
		p.store.Set(state.Partial{Buffered: &buffered})

	case MediaVolumeChange:
		volume, muted := ev.Volume, ev.Muted
		p.store.Set(state.Partial{Volume: &volume, IsMuted: &muted})

	case MediaRateChange:
		if ev.PlaybackRate > 0 {
			rate := ev.PlaybackRate
			p.store.Set(state.Partial{PlaybackRate: &rate})
		}

	case MediaError:
		message := ev.Message
		if message == "" {
			message = defaultErrorMessage
		}
		p.retry.Fail(message)

	default:
		if events.IsHostEvent(ev.Type) {
			p.bus.Publish(ev.Type, hostPayload(ev))
			return
		}
		p.logger.Debug("Ignoring unknown media event", "type", ev.Type)
	}
}

// setBuffering updates IsBuffering and publishes the loading event when it
// changed.
func (p *Player) setBuffering(buffering bool) {
	changed := false
	p.store.Update(func(prev state.State) state.Partial {
		changed = prev.IsBuffering != buffering
		return state.Partial{IsBuffering: &buffering}
	})
	if changed {
		p.bus.Publish(events.EventLoading, buffering)
	}
}

func hostPayload(ev MediaEvent) any {
	switch ev.Type {
	case events.EventResize:
		return events.Resize{Width: ev.Width, Height: ev.Height}
	case events.EventFullscreenExit:
		return nil
	default:
		return ev.Active
	}
}
