package music

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"

	"github.com/kjstillabower/drone/internal/client"
)

// SpotifyPlayer adapts the Spotify Web API client to Player.
type SpotifyPlayer struct {
	api *spotify.Client
}

// NewSpotifyPlayer wraps an authorized HTTP client. baseURL overrides the API root and
// is only set in tests.
func NewSpotifyPlayer(httpClient *http.Client, baseURL string) *SpotifyPlayer {
	var opts []spotify.ClientOption
	if baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}
	return &SpotifyPlayer{api: spotify.New(httpClient, opts...)}
}

func (s *SpotifyPlayer) SearchTracks(ctx context.Context, query string) ([]Track, error) {
	res, err := s.api.Search(ctx, query, spotify.SearchTypeTrack)
	if err != nil {
		return nil, mapError(err)
	}
	if res.Tracks == nil {
		return nil, nil
	}
	tracks := make([]Track, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		artists := make([]string, 0, len(t.Artists))
		for _, a := range t.Artists {
			artists = append(artists, a.Name)
		}
		tracks = append(tracks, Track{ID: string(t.ID), URI: string(t.URI), Name: t.Name, Artists: artists})
	}
	return tracks, nil
}

func (s *SpotifyPlayer) SearchPlaylists(ctx context.Context, query string) ([]Playlist, error) {
	res, err := s.api.Search(ctx, query, spotify.SearchTypePlaylist)
	if err != nil {
		return nil, mapError(err)
	}
	if res.Playlists == nil {
		return nil, nil
	}
	return playlists(res.Playlists.Playlists), nil
}

func (s *SpotifyPlayer) UserPlaylists(ctx context.Context, limit int) ([]Playlist, error) {
	page, err := s.api.CurrentUsersPlaylists(ctx, spotify.Limit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return playlists(page.Playlists), nil
}

func playlists(in []spotify.SimplePlaylist) []Playlist {
	out := make([]Playlist, 0, len(in))
	for _, p := range in {
		if p.URI == "" {
			continue
		}
		out = append(out, Playlist{URI: string(p.URI), Name: p.Name, Owner: p.Owner.ID})
	}
	return out
}

func (s *SpotifyPlayer) Play(ctx context.Context, req PlayRequest) error {
	opt := &spotify.PlayOptions{}
	if req.DeviceID != "" {
		id := spotify.ID(req.DeviceID)
		opt.DeviceID = &id
	}
	if req.ContextURI != "" {
		uri := spotify.URI(req.ContextURI)
		opt.PlaybackContext = &uri
	}
	for _, u := range req.URIs {
		opt.URIs = append(opt.URIs, spotify.URI(u))
	}
	return mapError(s.api.PlayOpt(ctx, opt))
}

func (s *SpotifyPlayer) Pause(ctx context.Context) error    { return mapError(s.api.Pause(ctx)) }
func (s *SpotifyPlayer) Previous(ctx context.Context) error { return mapError(s.api.Previous(ctx)) }
func (s *SpotifyPlayer) Next(ctx context.Context) error     { return mapError(s.api.Next(ctx)) }

func (s *SpotifyPlayer) Queue(ctx context.Context, trackID string) error {
	return mapError(s.api.QueueSong(ctx, spotify.ID(trackID)))
}

// State reports an inactive player when the API answers with no content.
func (s *SpotifyPlayer) State(ctx context.Context) (PlaybackState, error) {
	st, err := s.api.PlayerState(ctx)
	if err != nil {
		return PlaybackState{}, mapError(err)
	}
	if st == nil || (st.Device.ID == "" && st.Device.Name == "") {
		return PlaybackState{}, nil
	}
	return PlaybackState{
		Active:  true,
		Device:  device(st.Device),
		Shuffle: st.ShuffleState,
		Repeat:  st.RepeatState,
	}, nil
}

func (s *SpotifyPlayer) SetVolume(ctx context.Context, percent int) error {
	return mapError(s.api.Volume(ctx, percent))
}

func (s *SpotifyPlayer) SetShuffle(ctx context.Context, on bool) error {
	return mapError(s.api.Shuffle(ctx, on))
}

func (s *SpotifyPlayer) SetRepeat(ctx context.Context, state string) error {
	return mapError(s.api.Repeat(ctx, state))
}

func (s *SpotifyPlayer) Devices(ctx context.Context) ([]Device, error) {
	list, err := s.api.PlayerDevices(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]Device, 0, len(list))
	for _, d := range list {
		out = append(out, device(d))
	}
	return out, nil
}

func (s *SpotifyPlayer) Transfer(ctx context.Context, deviceID string, play bool) error {
	return mapError(s.api.TransferPlayback(ctx, spotify.ID(deviceID), play))
}

func device(d spotify.PlayerDevice) Device {
	return Device{ID: string(d.ID), Name: d.Name, Volume: int(d.Volume)}
}

// mapError translates API failures: 404 means no active device, 429 and 5xx are
// upstream failures the executor reports as connectivity problems.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr spotify.Error
	var apiErrPtr *spotify.Error
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Status
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Status
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("spotify: %w: %v", ErrNoDevice, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("spotify: %w: %v", client.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("spotify: %w: %v", client.ErrUpstreamFailure, err)
	}
	return fmt.Errorf("spotify: %w", err)
}
