package music

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/observability"
)

// Intents answered by Handler.
const (
	IntentPlayTrack       = "play_track"
	IntentQueueTrack      = "queue_track"
	IntentPlayPlaylist    = "play_playlist"
	IntentPlayArtistRadio = "play_artist_radio"
	IntentPause           = "pause_music"
	IntentResume          = "resume_music"
	IntentPrevious        = "play_previous_track"
	IntentNext            = "play_next_track"
	IntentVolumeUp        = "raise_music_volume"
	IntentVolumeDown      = "lower_music_volume"
	IntentShuffle         = "toggle_music_shuffle"
	IntentRepeat          = "toggle_music_repeat"
	IntentSwitchDevice    = "switch_music_device"
)

// SupportedIntents lists every intent Handler accepts.
var SupportedIntents = []string{
	IntentPlayTrack, IntentQueueTrack, IntentPlayPlaylist, IntentPlayArtistRadio,
	IntentPause, IntentResume, IntentPrevious, IntentNext,
	IntentVolumeUp, IntentVolumeDown, IntentShuffle, IntentRepeat, IntentSwitchDevice,
}

const (
	volumeStep        = 20
	playlistLimit     = 50
	curatedOwner      = "spotify"
	repeatContext     = "context"
	repeatOff         = "off"
	notPlayingMessage = "I can't do that since no music appears to be playing"
)

// Handler controls music playback through a Player.
type Handler struct {
	player    Player
	supported map[string]bool
	logger    *zap.Logger
}

func NewHandler(player Player, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	supported := make(map[string]bool, len(SupportedIntents))
	for _, name := range SupportedIntents {
		supported[name] = true
	}
	return &Handler{player: player, supported: supported, logger: logger}
}

func (h *Handler) CanHandle(p intent.Parsed) bool {
	return h.supported[p.Name()]
}

func (h *Handler) Handle(ctx context.Context, p intent.Parsed) (string, error) {
	track := p.SlotValue("track", "")
	artist := p.SlotValue("artist", "")
	playlist := p.SlotValue("playlist", "")
	device := p.SlotValue("device", "")

	switch p.Name() {
	case IntentPlayTrack:
		return h.PlayTrack(ctx, track, artist, device)
	case IntentQueueTrack:
		return h.QueueTrack(ctx, track, artist)
	case IntentPlayPlaylist:
		return h.PlayPlaylist(ctx, playlist, device)
	case IntentPlayArtistRadio:
		return h.PlayArtistRadio(ctx, artist, device)
	case IntentPause:
		return h.control(ctx, h.player.Pause, "I couldn't find a Spotify device to pause", "I paused the music")
	case IntentResume:
		resume := func(ctx context.Context) error { return h.player.Play(ctx, PlayRequest{}) }
		return h.control(ctx, resume, "I couldn't find a Spotify device to resume", "I've resumed the music")
	case IntentPrevious:
		return h.control(ctx, h.player.Previous, "I couldn't find a Spotify device to control", "Started playing the previous track")
	case IntentNext:
		return h.control(ctx, h.player.Next, "I couldn't find a Spotify device to control", "Started playing the next track")
	case IntentVolumeUp:
		return h.ChangeVolume(ctx, volumeStep)
	case IntentVolumeDown:
		return h.ChangeVolume(ctx, -volumeStep)
	case IntentShuffle:
		return h.ToggleShuffle(ctx)
	case IntentRepeat:
		return h.ToggleRepeat(ctx)
	case IntentSwitchDevice:
		return h.SwitchDevice(ctx, device)
	}
	return "", fmt.Errorf("music handler: %w: %q", intent.ErrUnsupportedIntent, p.Name())
}

// PlayTrack searches for a track and plays the first result. A non-empty device
// selects the available device with the most similar name.
func (h *Handler) PlayTrack(ctx context.Context, track, artist, device string) (string, error) {
	return h.searchedTrack(ctx, "Playing", track, artist, func(t Track) error {
		deviceID, err := h.deviceID(ctx, device)
		if err != nil {
			return err
		}
		return h.player.Play(ctx, PlayRequest{DeviceID: deviceID, URIs: []string{t.URI}})
	})
}

// QueueTrack searches for a track and appends the first result to the queue.
func (h *Handler) QueueTrack(ctx context.Context, track, artist string) (string, error) {
	return h.searchedTrack(ctx, "Queueing", track, artist, func(t Track) error {
		return h.player.Queue(ctx, t.ID)
	})
}

func (h *Handler) searchedTrack(ctx context.Context, verb, track, artist string, op func(Track) error) (string, error) {
	query := "track:" + track
	if artist != "" {
		query += " artist:" + artist
	}
	tracks, err := h.player.SearchTracks(ctx, query)
	if err != nil {
		return "", fmt.Errorf("music handler: search tracks: %w", err)
	}
	if len(tracks) == 0 {
		observability.LoggerFromContext(ctx, h.logger).Info("no track results", zap.String("query", query))
		description := track
		if artist != "" {
			description += " by " + artist
		}
		return "I couldn't find any results for the track " + description, nil
	}

	t := tracks[0]
	if err := op(t); err != nil {
		return "", fmt.Errorf("music handler: %s track: %w", verb, err)
	}
	by := ""
	if len(t.Artists) > 0 {
		by = " by " + t.Artists[0]
	}
	return fmt.Sprintf("%s the track %s%s on Spotify", verb, t.Name, by), nil
}

// PlayPlaylist plays the user's playlist whose name is most similar to name.
func (h *Handler) PlayPlaylist(ctx context.Context, name, device string) (string, error) {
	playlists, err := h.player.UserPlaylists(ctx, playlistLimit)
	if err != nil {
		return "", fmt.Errorf("music handler: list playlists: %w", err)
	}
	if len(playlists) == 0 {
		return "I couldn't find any playlists that belong to you", nil
	}
	scores := rankByRelevance(playlists, name, func(p Playlist) string { return p.Name })
	observability.LoggerFromContext(ctx, h.logger).Debug("found playlist",
		zap.String("playlist", playlists[0].Name), zap.Float64("relevance", scores[0]))
	return h.playPlaylist(ctx, playlists[0], device)
}

// PlayArtistRadio plays the first curated playlist found for artist.
func (h *Handler) PlayArtistRadio(ctx context.Context, artist, device string) (string, error) {
	results, err := h.player.SearchPlaylists(ctx, artist)
	if err != nil {
		return "", fmt.Errorf("music handler: search playlists: %w", err)
	}
	var curated []Playlist
	for _, p := range results {
		if p.Owner == curatedOwner {
			curated = append(curated, p)
		}
	}
	if len(curated) == 0 {
		return "I couldn't find any playlists for the artist " + artist, nil
	}
	observability.LoggerFromContext(ctx, h.logger).Debug("found artist playlist",
		zap.String("playlist", curated[0].Name), zap.String("artist", artist))
	return h.playPlaylist(ctx, curated[0], device)
}

func (h *Handler) playPlaylist(ctx context.Context, p Playlist, device string) (string, error) {
	deviceID, err := h.deviceID(ctx, device)
	if err != nil {
		return "", err
	}
	if err := h.player.Play(ctx, PlayRequest{DeviceID: deviceID, ContextURI: p.URI}); err != nil {
		return "", fmt.Errorf("music handler: play playlist: %w", err)
	}
	return fmt.Sprintf("Playing the playlist \"%s\" on Spotify", p.Name), nil
}

// control runs a playback command, replying with missing when no device can take it.
func (h *Handler) control(ctx context.Context, op func(context.Context) error, missing, done string) (string, error) {
	if err := op(ctx); err != nil {
		if errors.Is(err, ErrNoDevice) {
			return missing, nil
		}
		return "", fmt.Errorf("music handler: %w", err)
	}
	return done, nil
}

// ChangeVolume adjusts the current device's volume by delta, clamped to [0, 100].
func (h *Handler) ChangeVolume(ctx context.Context, delta int) (string, error) {
	state, err := h.player.State(ctx)
	if err != nil {
		return "", fmt.Errorf("music handler: player state: %w", err)
	}
	if !state.Active {
		return notPlayingMessage, nil
	}
	volume := min(max(state.Device.Volume+delta, 0), 100)
	if err := h.player.SetVolume(ctx, volume); err != nil {
		return "", fmt.Errorf("music handler: set volume: %w", err)
	}
	return fmt.Sprintf("I set the volume to %d percent", volume), nil
}

func (h *Handler) ToggleShuffle(ctx context.Context) (string, error) {
	state, err := h.player.State(ctx)
	if err != nil {
		return "", fmt.Errorf("music handler: player state: %w", err)
	}
	if !state.Active {
		return notPlayingMessage, nil
	}
	on := !state.Shuffle
	if err := h.player.SetShuffle(ctx, on); err != nil {
		return "", fmt.Errorf("music handler: set shuffle: %w", err)
	}
	return fmt.Sprintf("I %s playback shuffle", enabled(on)), nil
}

// ToggleRepeat switches between repeating the current context and not repeating.
func (h *Handler) ToggleRepeat(ctx context.Context) (string, error) {
	state, err := h.player.State(ctx)
	if err != nil {
		return "", fmt.Errorf("music handler: player state: %w", err)
	}
	if !state.Active {
		return notPlayingMessage, nil
	}
	next := repeatOff
	if state.Repeat == repeatOff {
		next = repeatContext
	}
	if err := h.player.SetRepeat(ctx, next); err != nil {
		return "", fmt.Errorf("music handler: set repeat: %w", err)
	}
	return fmt.Sprintf("I %s playback repeat", enabled(next == repeatContext)), nil
}

// SwitchDevice moves playback to the device most similar to name and starts playing.
func (h *Handler) SwitchDevice(ctx context.Context, name string) (string, error) {
	deviceID, err := h.deviceID(ctx, name)
	if err != nil {
		return "", err
	}
	if deviceID == "" {
		return "I couldn't find a Spotify device to switch to", nil
	}
	if err := h.player.Transfer(ctx, deviceID, true); err != nil {
		if errors.Is(err, ErrNoDevice) {
			return "I couldn't find a Spotify device to switch to", nil
		}
		return "", fmt.Errorf("music handler: transfer playback: %w", err)
	}

	qualifier := ""
	devices, err := h.player.Devices(ctx)
	if err != nil {
		return "", fmt.Errorf("music handler: list devices: %w", err)
	}
	for _, d := range devices {
		if d.ID == deviceID {
			qualifier = " to " + d.Name
			break
		}
	}
	return "I transferred the music playback" + qualifier, nil
}

// deviceID picks the playback target. With no name it returns "" while a player is
// active, otherwise the first available device. With a name it returns the most
// similar available device.
func (h *Handler) deviceID(ctx context.Context, name string) (string, error) {
	if name == "" {
		state, err := h.player.State(ctx)
		if err != nil {
			return "", fmt.Errorf("music handler: player state: %w", err)
		}
		if state.Active {
			return "", nil
		}
	}

	devices, err := h.player.Devices(ctx)
	if err != nil {
		return "", fmt.Errorf("music handler: list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", nil
	}
	if name != "" {
		scores := rankByRelevance(devices, name, func(d Device) string { return d.Name })
		observability.LoggerFromContext(ctx, h.logger).Debug("found device",
			zap.String("device", devices[0].Name), zap.Float64("relevance", scores[0]))
	}
	return devices[0].ID, nil
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
