package nlu

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	reply  string
	err    error
	prompt string
	hasDL  bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	_, f.hasDL = ctx.Deadline()
	if len(parts) > 0 {
		if txt, ok := parts[0].(genai.Text); ok {
			f.prompt = string(txt)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}},
		}},
	}, nil
}

func newTestEngine(reply string) (*Engine, *fakeModel) {
	m := &fakeModel{reply: reply}
	e := newEngine(m, Options{}, nil)
	e.now = func() time.Time { return time.Date(2023, time.February, 12, 9, 30, 0, 0, time.UTC) }
	return e, m
}

func TestParse_WeatherIntent(t *testing.T) {
	e, m := newTestEngine("```json\n" + `{
		"intent": {"intentName": "query_weather", "probability": 0.91},
		"slots": [
			{"slotName": "city", "rawValue": "Paris", "entity": "city", "value": {"kind": "Custom", "value": "Paris"}},
			{"slotName": "time", "rawValue": "tomorrow", "value": {"kind": "InstantTime", "value": "2023-02-13 00:00:00 +00:00"}}
		]
	}` + "\n```")

	p, err := e.Parse(context.Background(), "what's the weather in Paris tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "what's the weather in Paris tomorrow", p.Input)
	assert.Equal(t, "query_weather", p.Name())
	assert.InDelta(t, 0.91, p.Confidence(), 1e-9)
	assert.Equal(t, "Paris", p.SlotValue("city", ""))
	assert.Equal(t, "2023-02-13 00:00:00 +00:00", p.SlotValue("time", ""))

	assert.True(t, m.hasDL, "parse should run with a deadline")
	assert.Contains(t, m.prompt, "2023-02-12 09:30:00 +00:00")
	assert.Contains(t, m.prompt, "Utterance: what's the weather in Paris tomorrow")
	for _, name := range IntentNames(DefaultCatalogue) {
		assert.Contains(t, m.prompt, "- "+name+":")
	}
}

func TestParse_NoIntent(t *testing.T) {
	e, _ := newTestEngine(`{"intent": {"intentName": null, "probability": 0}, "slots": []}`)
	p, err := e.Parse(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, "", p.Name())
	assert.Zero(t, p.Confidence())
}

func TestParse_UnknownIntentDropped(t *testing.T) {
	e, _ := newTestEngine(`{"intent": {"intentName": "order_pizza", "probability": 0.99},
		"slots": [{"slotName": "topping", "value": {"kind": "Custom", "value": "ham"}}]}`)
	p, err := e.Parse(context.Background(), "order a ham pizza")
	require.NoError(t, err)
	assert.Equal(t, "", p.Name())
	assert.Zero(t, p.Confidence())
	assert.Empty(t, p.Slots)
	assert.Equal(t, "order a ham pizza", p.Input)
}

func TestParse_UndeclaredSlotsDropped(t *testing.T) {
	e, _ := newTestEngine(`{"intent": {"intentName": "play_track", "probability": 1.4},
		"slots": [
			{"slotName": "track", "value": {"kind": "Custom", "value": "Yellow"}},
			{"slotName": "city", "value": {"kind": "Custom", "value": "London"}}
		]}`)
	p, err := e.Parse(context.Background(), "play yellow")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Confidence())
	require.Len(t, p.Slots, 1)
	assert.Equal(t, "track", p.Slots[0].Name)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		wantErr error
	}{
		{"generate fails", &fakeModel{err: errors.New("quota exceeded")}, nil},
		{"empty text", &fakeModel{reply: "   "}, ErrEmptyResponse},
		{"not json", &fakeModel{reply: "I think you want the weather"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(tt.model, Options{Timeout: time.Second}, nil)
			_, err := e.Parse(context.Background(), "weather")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCleanJSONString(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  {\"a\":1}  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := cleanJSONString(tt.in); got != tt.want {
			t.Errorf("cleanJSONString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalogueCoversMusicIntents(t *testing.T) {
	names := strings.Join(IntentNames(DefaultCatalogue), ",")
	for _, n := range []string{"play_track", "queue_track", "switch_music_device", "toggle_music_repeat"} {
		assert.Contains(t, names, n)
	}
	assert.Len(t, DefaultCatalogue, 14)
}

func TestClose_WithoutClient(t *testing.T) {
	e, _ := newTestEngine("{}")
	assert.NoError(t, e.Close())
}
