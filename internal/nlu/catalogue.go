package nlu

// IntentSpec describes one intent the engine may return.
type IntentSpec struct {
	Name        string
	Description string
	Slots       []SlotSpec
}

// SlotSpec describes one slot of an intent. Time slots are emitted as InstantTime or
// TimeInterval values.
type SlotSpec struct {
	Name        string
	Description string
	Time        bool
}

var (
	trackSlots = []SlotSpec{
		{Name: "track", Description: "song title"},
		{Name: "artist", Description: "performing artist"},
	}
	deviceSlot = []SlotSpec{{Name: "device", Description: "speaker or device name"}}
)

// DefaultCatalogue lists every intent the assistant has a handler for.
var DefaultCatalogue = []IntentSpec{
	{
		Name:        "query_weather",
		Description: "weather for a city on one day, optionally one attribute of it",
		Slots: []SlotSpec{
			{Name: "city", Description: "city name as spoken"},
			{Name: "time", Description: "day the user asks about", Time: true},
			{Name: "attribute", Description: "one of temperature, precipitation, wind, sunrise, sunset, moon_phase"},
		},
	},
	{Name: "play_track", Description: "play a specific song now", Slots: trackSlots},
	{Name: "queue_track", Description: "add a song to the playback queue", Slots: trackSlots},
	{Name: "play_playlist", Description: "play one of the user's playlists", Slots: []SlotSpec{
		{Name: "playlist", Description: "playlist name"},
	}},
	{Name: "play_artist_radio", Description: "play music by or like an artist", Slots: []SlotSpec{
		{Name: "artist", Description: "artist name"},
	}},
	{Name: "pause_music", Description: "pause playback", Slots: deviceSlot},
	{Name: "resume_music", Description: "resume playback", Slots: deviceSlot},
	{Name: "play_previous_track", Description: "go back one song", Slots: deviceSlot},
	{Name: "play_next_track", Description: "skip to the next song", Slots: deviceSlot},
	{Name: "raise_music_volume", Description: "turn the music up"},
	{Name: "lower_music_volume", Description: "turn the music down"},
	{Name: "toggle_music_shuffle", Description: "turn shuffle on or off"},
	{Name: "toggle_music_repeat", Description: "turn repeat on or off"},
	{Name: "switch_music_device", Description: "move playback to another device", Slots: deviceSlot},
}

// IntentNames returns the names in catalogue order.
func IntentNames(catalogue []IntentSpec) []string {
	names := make([]string, 0, len(catalogue))
	for _, spec := range catalogue {
		names = append(names, spec.Name)
	}
	return names
}

func find(catalogue []IntentSpec, name string) (IntentSpec, bool) {
	for _, spec := range catalogue {
		if spec.Name == name {
			return spec, true
		}
	}
	return IntentSpec{}, false
}
