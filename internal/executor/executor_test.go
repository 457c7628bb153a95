package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/intent"
)

type fakeParser struct {
	parsed intent.Parsed
	err    error
	calls  int
}

func (f *fakeParser) Parse(_ context.Context, text string) (intent.Parsed, error) {
	f.calls++
	p := f.parsed
	p.Input = text
	return p, f.err
}

type fakeHandler struct {
	name  string
	reply string
	err   error
	panic bool
	calls int
}

func (h *fakeHandler) CanHandle(p intent.Parsed) bool { return p.Name() == h.name }

func (h *fakeHandler) Handle(_ context.Context, _ intent.Parsed) (string, error) {
	h.calls++
	if h.panic {
		panic("boom")
	}
	return h.reply, h.err
}

func parsed(name string, probability float64) intent.Parsed {
	return intent.Parsed{Intent: intent.Intent{Name: name, Probability: probability}}
}

func TestConverse_DispatchesToMatchingHandler(t *testing.T) {
	weather := &fakeHandler{name: "query_weather", reply: "It is sunny."}
	music := &fakeHandler{name: "pause_music", reply: "I paused the music"}
	e := New(&fakeParser{parsed: parsed("pause_music", 0.9)}, []intent.Handler{weather, music}, 0, nil)

	reply, ok := e.Converse(context.Background(), "pause")
	assert.True(t, ok)
	assert.Equal(t, "I paused the music", reply)
	assert.Equal(t, 0, weather.calls)
	assert.Equal(t, 1, music.calls)
}

func TestConverse_FirstMatchWins(t *testing.T) {
	first := &fakeHandler{name: "query_weather", reply: "first"}
	second := &fakeHandler{name: "query_weather", reply: "second"}
	e := New(&fakeParser{parsed: parsed("query_weather", 0.8)}, []intent.Handler{first, second}, 0, nil)

	reply, ok := e.Converse(context.Background(), "weather")
	require.True(t, ok)
	assert.Equal(t, "first", reply)
	assert.Equal(t, 0, second.calls)
}

func TestConverse_ConfidenceThreshold(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		threshold   float64
		wantHandled bool
	}{
		{"below default", 0.32, DefaultConfidenceThreshold, false},
		{"at default", 0.33, DefaultConfidenceThreshold, true},
		{"well above", 0.99, DefaultConfidenceThreshold, true},
		{"below custom", 0.6, 0.7, false},
		{"above custom", 0.75, 0.7, true},
		{"zero accepts everything", 0.01, 0, true},
		{"one requires certainty", 0.99, 1, false},
		{"above one uses default", 0.4, 1.5, true},
		{"above one uses default, below it", 0.2, 1.5, false},
		{"negative uses default", 0.2, -0.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{name: "query_weather", reply: "ok"}
			e := New(&fakeParser{parsed: parsed("query_weather", tt.probability)}, []intent.Handler{h}, tt.threshold, nil)
			_, ok := e.Converse(context.Background(), "weather")
			assert.Equal(t, tt.wantHandled, ok)
			if !tt.wantHandled {
				assert.Equal(t, 0, h.calls)
			}
		})
	}
}

func TestConverse_NoHandler(t *testing.T) {
	h := &fakeHandler{name: "query_weather"}
	e := New(&fakeParser{parsed: parsed("tell_joke", 0.95)}, []intent.Handler{h}, 0, nil)

	reply, ok := e.Converse(context.Background(), "tell me a joke")
	assert.False(t, ok)
	assert.Empty(t, reply)
}

func TestConverse_EmptyIntent(t *testing.T) {
	e := New(&fakeParser{parsed: parsed("", 0)}, nil, 0, nil)
	_, ok := e.Converse(context.Background(), "hello")
	assert.False(t, ok)
}

func TestConverse_ParseErrorFallsBack(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := &fakeHandler{name: "query_weather"}
	e := New(&fakeParser{err: errors.New("model unavailable")}, []intent.Handler{h}, 0, zap.New(core))

	_, ok := e.Converse(context.Background(), "weather")
	assert.False(t, ok)
	assert.Equal(t, 0, h.calls)
	assert.Equal(t, 1, logs.FilterMessage("intent parse failed").Len())
}

func TestConverse_HandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"upstream failure", fmt.Errorf("fetch: %w", client.ErrUpstreamFailure), ConnectivityApology},
		{"circuit open", client.ErrCircuitOpen, ConnectivityApology},
		{"network error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ConnectivityApology},
		{"deadline", context.DeadlineExceeded, ConnectivityApology},
		{"other error", errors.New("bad slot"), GenericApology},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			h := &fakeHandler{name: "query_weather", err: tt.err}
			e := New(&fakeParser{parsed: parsed("query_weather", 0.9)}, []intent.Handler{h}, 0, zap.New(core))

			reply, ok := e.Converse(context.Background(), "weather")
			assert.True(t, ok)
			assert.Equal(t, tt.want, reply)
			assert.Equal(t, 1, logs.Len())
		})
	}
}

func TestConverse_HandlerPanicRecovered(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := &fakeHandler{name: "query_weather", panic: true}
	e := New(&fakeParser{parsed: parsed("query_weather", 0.9)}, []intent.Handler{h}, 0, zap.New(core))

	reply, ok := e.Converse(context.Background(), "weather")
	assert.True(t, ok)
	assert.Equal(t, GenericApology, reply)
	assert.Equal(t, 1, logs.FilterMessage("intent handler panicked").Len())
}

func TestBuildHandlers_SkipsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ok := &fakeHandler{name: "query_weather"}
	factories := []Factory{
		{Name: "music", New: func() (intent.Handler, error) { return nil, errors.New("no credentials") }},
		{Name: "weather", New: func() (intent.Handler, error) { return ok, nil }},
	}

	handlers := BuildHandlers(factories, zap.New(core))
	require.Len(t, handlers, 1)
	assert.Same(t, ok, handlers[0])

	entries := logs.FilterMessage("could not initialize intent handler").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "music", entries[0].ContextMap()["handler"])
}
