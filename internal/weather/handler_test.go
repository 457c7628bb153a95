package weather

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/models"
	"github.com/kjstillabower/drone/internal/validation"
)

type fakeResolver struct {
	loc   models.Location
	err   error
	calls []string
}

func (f *fakeResolver) Resolve(ctx context.Context, city string) (models.Location, error) {
	f.calls = append(f.calls, city)
	if f.err != nil {
		return models.Location{}, f.err
	}
	return f.loc, nil
}

type fakeFetcher struct {
	rec               models.Record
	err               error
	target, reference civil.Date
}

func (f *fakeFetcher) FetchDailyWeather(ctx context.Context, lat, lon float64, target, reference civil.Date) (models.Record, error) {
	f.target, f.reference = target, reference
	return f.rec, f.err
}

var pacific = time.FixedZone("", -8*60*60)

func weatherIntent(slots map[string]string) intent.Parsed {
	p := intent.Parsed{Intent: intent.Intent{Name: IntentName, Probability: 0.9}}
	for name, v := range slots {
		p.Slots = append(p.Slots, intent.Slot{Name: name, Value: intent.SlotValue{Kind: "Custom", Value: v}})
	}
	return p
}

func newTestHandler(r *fakeResolver, f *fakeFetcher, now time.Time) *Handler {
	h := NewHandler(r, f, "San Francisco", nil)
	h.now = func() time.Time { return now }
	return h
}

func TestHandler_CanHandle(t *testing.T) {
	h := NewHandler(&fakeResolver{}, &fakeFetcher{}, "San Francisco", nil)
	if !h.CanHandle(weatherIntent(nil)) {
		t.Error("CanHandle(query_weather) = false")
	}
	p := weatherIntent(nil)
	p.Intent.Name = "not_weather"
	if h.CanHandle(p) {
		t.Error("CanHandle(not_weather) = true")
	}
	if _, err := h.Handle(context.Background(), p); !errors.Is(err, intent.ErrUnsupportedIntent) {
		t.Errorf("Handle(not_weather) error = %v, want ErrUnsupportedIntent", err)
	}
}

func TestHandler_Handle(t *testing.T) {
	now := time.Date(2023, 2, 12, 10, 0, 0, 0, pacific)
	r := &fakeResolver{loc: models.Location{City: "San Francisco", Latitude: latitude, Longitude: longitude}}
	f := &fakeFetcher{rec: models.Record{High: models.Ptr(60), Low: models.Ptr(43)}}
	h := newTestHandler(r, f, now)

	got, err := h.Handle(context.Background(), weatherIntent(map[string]string{
		"city":      "san francisco",
		"time":      "2023-02-13 00:00:00 -08:00",
		"attribute": "temperature",
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	want := "Tomorrow in San Francisco, the high will be 60 and the low will be 43."
	if got != want {
		t.Errorf("Handle() = %q, want %q", got, want)
	}
	if f.target != (civil.Date{Year: 2023, Month: 2, Day: 13}) || f.reference != (civil.Date{Year: 2023, Month: 2, Day: 12}) {
		t.Errorf("fetched target %v reference %v", f.target, f.reference)
	}
}

// Late evening on the west coast is already tomorrow in UTC; the reference follows the
// requested time's zone.
func TestHandler_ReferenceUsesTargetZone(t *testing.T) {
	now := time.Date(2023, 2, 13, 5, 0, 0, 0, time.UTC) // 21:00 on the 12th in UTC-8
	f := &fakeFetcher{rec: models.Record{High: models.Ptr(62), Low: models.Ptr(45)}}
	h := newTestHandler(&fakeResolver{loc: models.Location{City: "San Francisco"}}, f, now)

	got, err := h.Handle(context.Background(), weatherIntent(map[string]string{
		"time":      "2023-02-12 00:00:00 -08:00",
		"attribute": "temperature",
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.HasPrefix(got, "Today in San Francisco") {
		t.Errorf("Handle() = %q, want a Today answer", got)
	}
}

func TestHandler_Defaults(t *testing.T) {
	now := time.Date(2023, 2, 12, 10, 0, 0, 0, time.UTC)
	r := &fakeResolver{loc: models.Location{City: "San Francisco"}}
	f := &fakeFetcher{rec: models.Record{High: models.Ptr(62), Low: models.Ptr(40)}}
	h := newTestHandler(r, f, now)

	got, err := h.Handle(context.Background(), weatherIntent(nil))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(r.calls) != 1 || r.calls[0] != "San Francisco" {
		t.Errorf("resolved cities = %v, want default city", r.calls)
	}
	if got != "Today in San Francisco, the high is 62 and the low is 40." {
		t.Errorf("Handle() = %q", got)
	}
}

func TestHandler_Errors(t *testing.T) {
	now := time.Date(2023, 2, 12, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		slots    map[string]string
		resolver *fakeResolver
		fetcher  *fakeFetcher
		wantErr  error
	}{
		{
			name:     "invalid city",
			slots:    map[string]string{"city": "<script>"},
			resolver: &fakeResolver{},
			fetcher:  &fakeFetcher{},
			wantErr:  validation.ErrCityInvalidChars,
		},
		{
			name:     "resolver connectivity failure",
			resolver: &fakeResolver{err: client.ErrUpstreamFailure},
			fetcher:  &fakeFetcher{},
			wantErr:  client.ErrUpstreamFailure,
		},
		{
			name:     "fetch failure",
			resolver: &fakeResolver{loc: models.Location{City: "San Francisco"}},
			fetcher:  &fakeFetcher{err: client.ErrRateLimited},
			wantErr:  client.ErrRateLimited,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.resolver, tt.fetcher, now)
			_, err := h.Handle(context.Background(), weatherIntent(tt.slots))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandler_BadTime(t *testing.T) {
	h := newTestHandler(&fakeResolver{}, &fakeFetcher{}, time.Now())
	if _, err := h.Handle(context.Background(), weatherIntent(map[string]string{"time": "next blursday"})); err == nil {
		t.Error("Handle() error = nil for unparseable time")
	}
}

func TestParseSlotTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-02-13 00:00:00 -08:00", time.Date(2023, 2, 13, 8, 0, 0, 0, time.UTC)},
		{"2023-02-13T00:00:00-08:00", time.Date(2023, 2, 13, 8, 0, 0, 0, time.UTC)},
		{"2023-02-13T00:00:00.000-08:00", time.Date(2023, 2, 13, 8, 0, 0, 0, time.UTC)},
		{"2023-02-13T00:00:00-0800", time.Date(2023, 2, 13, 8, 0, 0, 0, time.UTC)},
		{"2023-02-13", time.Date(2023, 2, 13, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseSlotTime(tt.in)
		if err != nil {
			t.Errorf("ParseSlotTime(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSlotTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
