package music

import (
	"context"
	"errors"
)

// ErrNoDevice is returned by a Player when no playback device is available.
var ErrNoDevice = errors.New("no playback device")

type Track struct {
	ID      string
	URI     string
	Name    string
	Artists []string
}

type Playlist struct {
	URI   string
	Name  string
	Owner string
}

type Device struct {
	ID     string
	Name   string
	Volume int
}

// PlaybackState describes the current player. Active is false when nothing is playing
// on any device.
type PlaybackState struct {
	Active  bool
	Device  Device
	Shuffle bool
	Repeat  string
}

// PlayRequest starts playback of either URIs (tracks) or a ContextURI (playlist).
// An empty DeviceID targets the active device.
type PlayRequest struct {
	DeviceID   string
	URIs       []string
	ContextURI string
}

// Player is the subset of a streaming service the music handler drives.
type Player interface {
	SearchTracks(ctx context.Context, query string) ([]Track, error)
	SearchPlaylists(ctx context.Context, query string) ([]Playlist, error)
	UserPlaylists(ctx context.Context, limit int) ([]Playlist, error)
	Play(ctx context.Context, req PlayRequest) error
	Pause(ctx context.Context) error
	Previous(ctx context.Context) error
	Next(ctx context.Context) error
	Queue(ctx context.Context, trackID string) error
	State(ctx context.Context) (PlaybackState, error)
	SetVolume(ctx context.Context, percent int) error
	SetShuffle(ctx context.Context, on bool) error
	SetRepeat(ctx context.Context, state string) error
	Devices(ctx context.Context) ([]Device, error)
	Transfer(ctx context.Context, deviceID string, play bool) error
}
