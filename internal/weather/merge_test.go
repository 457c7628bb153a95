package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/models"
)

const (
	latitude  = 37.779
	longitude = -122.42
)

// fakeClient answers every batch with a canned response body.
type fakeClient struct {
	body    string
	err     error
	queries []client.Query
}

func (f *fakeClient) Query(ctx context.Context, queries ...client.Query) (*client.Batch, error) {
	f.queries = queries
	if f.err != nil {
		return nil, f.err
	}
	return client.ParseBatch(queries, []byte(f.body), nil)
}

func (f *fakeClient) names() []string {
	out := make([]string, len(f.queries))
	for i, q := range f.queries {
		out[i] = q.Name
	}
	return out
}

const forecastData = `{
	"validTimeLocal": ["2023-02-12T07:00:00-0800", "2023-02-13T07:00:00-0800", "2023-02-14T07:00:00-0800"],
	"temperatureMax": [null, 60, 0],
	"calendarDayTemperatureMax": [61, 60, 57],
	"temperatureMin": [44, 43, 41],
	"calendarDayTemperatureMin": [44, 43, 41],
	"qpf": [0.0, 0, 0.1],
	"qpfSnow": [0, 0, 0.1],
	"sunriseTimeLocal": ["2023-02-12T07:02:31-0800", "2023-02-13T07:01:12-0800", "2023-02-14T07:00:02-0800"],
	"sunsetTimeLocal": ["2023-02-12T17:45:40-0800", "2023-02-13T17:46:59-0800", "2023-02-14T17:48:01-0800"],
	"moonPhase": ["Waning Gibbous", "Last Quarter", "Waning Crescent"],
	"daypart": [{
		"precipChance": [null, 5, 7, 5, 20, 35],
		"windSpeed": [null, 10, 20, 12, 0, 9],
		"windDirectionCardinal": [null, "NW", "W", "WSW", "", "SSE"]
	}]
}`

const historicalData = `{
	"validTimeLocal": ["2023-02-10T07:00:00-0800", "2023-02-11T07:00:00-0800"],
	"temperatureMax": [55, 54],
	"temperatureMin": [43, 42],
	"rain24Hour": [0, 0.03],
	"snow24Hour": [0, 0]
}`

const almanacData = `{
	"almanacRecordDate": ["0101", "0210", "0211", "0212"],
	"temperatureAverageMax": [57, 60, 61, 61],
	"temperatureAverageMin": [46, 45, 45, 46]
}`

const astroData = `{
	"astroData": [
		{"dateLocal": "2023-01-01", "sun": {"riseSet": {"riseLocal": "2023-01-01T07:26:05.000-08:00", "setLocal": "2023-01-01T17:02:44.000-08:00"}}},
		{"dateLocal": "2023-02-11", "sun": {"riseSet": {"riseLocal": "2023-02-11T07:05:32.000-08:00", "setLocal": "2023-02-11T17:45:10.000-08:00"}}}
	]
}`

func dal(entries map[string]string) string {
	out := map[string]map[string]json.RawMessage{}
	for name, body := range entries {
		out[name] = map[string]json.RawMessage{"params": json.RawMessage(body)}
	}
	raw, _ := json.Marshal(map[string]any{"dal": out})
	return string(raw)
}

func ok(data string) string {
	return `{"status": 200, "data": ` + data + `}`
}

func TestMerger_Forecast(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{QueryForecast: ok(forecastData)})}
	m := NewMerger(fc, "en-US", nil)

	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(1), reference)
	require.NoError(t, err)

	want := models.Record{
		High:                models.Ptr(60),
		Low:                 models.Ptr(43),
		PrecipitationChance: models.Ptr(6),
		PrecipitationAmount: models.Ptr(0.0),
		PrecipitationType:   models.Ptr(models.PrecipitationRain),
		WindSpeed:           models.Ptr(20),
		WindDirection:       models.Ptr(models.West),
		Sunrise:             &civil.Time{Hour: 7, Minute: 1},
		Sunset:              &civil.Time{Hour: 17, Minute: 46},
		MoonPhase:           models.Ptr(models.MoonLastQuarter),
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []string{QueryForecast}, fc.names())
}

func TestMerger_Forecast_Fallbacks(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{QueryForecast: ok(forecastData)})}
	m := NewMerger(fc, "", nil)

	today, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference, reference)
	require.NoError(t, err)
	assert.Equal(t, 61, *today.High, "null temperatureMax falls back to calendar day value")
	assert.Equal(t, 5, *today.PrecipitationChance, "missing day chance uses night chance")
	assert.Equal(t, 10, *today.WindSpeed, "missing day wind uses night wind")
	assert.Equal(t, models.Northwest, *today.WindDirection)

	dayAfter, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(2), reference)
	require.NoError(t, err)
	assert.Equal(t, 57, *dayAfter.High, "zero temperatureMax falls back to calendar day value")
	assert.Equal(t, 27, *dayAfter.PrecipitationChance, "floor((20+35)/2)")
	assert.Equal(t, models.PrecipitationRain, *dayAfter.PrecipitationType, "equal qpf and qpfSnow is rain")
	assert.Equal(t, 9, *dayAfter.WindSpeed)
	assert.Equal(t, models.SouthSoutheast, *dayAfter.WindDirection)
}

// Other sources in the response must not leak into a forecast answer.
func TestMerger_ForecastWinsOverOtherSources(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{
		QueryForecast:   ok(forecastData),
		QueryAlmanac:    ok(almanacData),
		QueryHistorical: ok(historicalData),
	})}
	m := NewMerger(fc, "", nil)

	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference, reference)
	require.NoError(t, err)
	assert.Equal(t, 61, *got.High)
	assert.Equal(t, 44, *got.Low)
}

func TestMerger_ForecastMissingDate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"date not in forecast", dal(map[string]string{QueryForecast: ok(`{"validTimeLocal": ["2023-02-01T07:00:00-0800"]}`)})},
		{"forecast query failed", dal(map[string]string{QueryForecast: `{"status": 500, "data": null}`})},
		{"forecast key missing", dal(map[string]string{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMerger(&fakeClient{body: tt.body}, "", nil)
			got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(4), reference)
			require.NoError(t, err)
			assert.True(t, got.IsEmpty(), "got %+v", got)
		})
	}
}

func TestMerger_Historical(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{
		QueryAstro:      ok(astroData),
		QueryAlmanac:    ok(almanacData),
		QueryHistorical: ok(historicalData),
	})}
	m := NewMerger(fc, "", nil)

	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(-1), reference)
	require.NoError(t, err)

	want := models.Record{
		High:                models.Ptr(54),
		Low:                 models.Ptr(42),
		PrecipitationChance: models.Ptr(100),
		PrecipitationAmount: models.Ptr(0.03),
		PrecipitationType:   models.Ptr(models.PrecipitationRain),
		Sunrise:             &civil.Time{Hour: 7, Minute: 5},
		Sunset:              &civil.Time{Hour: 17, Minute: 45},
	}
	assert.Equal(t, want, got)
	assert.ElementsMatch(t, []string{QueryAstro, QueryAlmanac, QueryHistorical}, fc.names())
}

func TestMerger_HistoricalAbsentKeepsAlmanac(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{
		QueryAstro:      ok(astroData),
		QueryAlmanac:    ok(almanacData),
		QueryHistorical: `{"status": 503, "data": null}`,
	})}
	m := NewMerger(fc, "", nil)

	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(-1), reference)
	require.NoError(t, err)
	assert.Equal(t, 61, *got.High)
	assert.Equal(t, 45, *got.Low)
	assert.Nil(t, got.PrecipitationType)
	assert.NotNil(t, got.Sunrise)
}

func TestMerger_AlmanacAndAstroOnly(t *testing.T) {
	fc := &fakeClient{body: dal(map[string]string{
		QueryAstro:   ok(astroData),
		QueryAlmanac: ok(almanacData),
	})}
	m := NewMerger(fc, "", nil)

	target := civil.Date{Year: 2023, Month: 1, Day: 1}
	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, target, reference)
	require.NoError(t, err)

	want := models.Record{
		High:    models.Ptr(57),
		Low:     models.Ptr(46),
		Sunrise: &civil.Time{Hour: 7, Minute: 26},
		Sunset:  &civil.Time{Hour: 17, Minute: 2},
	}
	assert.Equal(t, want, got)
	assert.ElementsMatch(t, []string{QueryAstro, QueryAlmanac}, fc.names())
}

func TestMerger_TransportError(t *testing.T) {
	m := NewMerger(&fakeClient{err: client.ErrUpstreamFailure}, "", nil)
	_, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference, reference)
	assert.ErrorIs(t, err, client.ErrUpstreamFailure)
}

func TestMerger_Queries(t *testing.T) {
	m := NewMerger(nil, "en-US", nil)

	tests := []struct {
		name   string
		offset int
		want   []string
	}{
		{"today", 0, []string{QueryForecast}},
		{"last forecast day", forecastDays, []string{QueryForecast}},
		{"beyond forecast", forecastDays + 1, []string{QueryAstro, QueryAlmanac}},
		{"yesterday", -1, []string{QueryAstro, QueryAlmanac, QueryHistorical}},
		{"oldest historical day", -historicalDays, []string{QueryAstro, QueryAlmanac, QueryHistorical}},
		{"before historical window", -historicalDays - 1, []string{QueryAstro, QueryAlmanac}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs := m.Queries(latitude, longitude, reference.AddDays(tt.offset), reference)
			var names []string
			for _, q := range qs {
				names = append(names, q.Name)
				assert.Equal(t, "37.779,-122.42", q.Params["geocode"])
				assert.Equal(t, "en-US", q.Params["language"])
			}
			assert.Equal(t, tt.want, names)
		})
	}

	qs := m.Queries(latitude, longitude, civil.Date{Year: 2023, Month: 1, Day: 1}, reference)
	assert.Equal(t, "20230101", qs[0].Params["date"])
	assert.Equal(t, "30", qs[0].Params["days"])
	assert.Equal(t, 1, qs[1].Params["startMonth"])
	assert.Equal(t, 1, qs[1].Params["startDay"])
	assert.Equal(t, "45", qs[1].Params["days"])
	assert.Equal(t, "e", qs[1].Params["units"])
}

func TestDominantPrecipitation(t *testing.T) {
	tests := []struct {
		name       string
		rain, snow *float64
		wantAmount *float64
		wantType   *models.PrecipitationType
	}{
		{"rain larger", models.Ptr(0.2), models.Ptr(0.1), models.Ptr(0.2), models.Ptr(models.PrecipitationRain)},
		{"snow larger", models.Ptr(0.1), models.Ptr(0.4), models.Ptr(0.4), models.Ptr(models.PrecipitationSnow)},
		{"tie favors rain", models.Ptr(0.3), models.Ptr(0.3), models.Ptr(0.3), models.Ptr(models.PrecipitationRain)},
		{"zero tie favors rain", models.Ptr(0.0), models.Ptr(0.0), models.Ptr(0.0), models.Ptr(models.PrecipitationRain)},
		{"missing snow", models.Ptr(0.1), nil, models.Ptr(0.1), models.Ptr(models.PrecipitationRain)},
		{"missing rain", nil, models.Ptr(0.1), models.Ptr(0.1), models.Ptr(models.PrecipitationSnow)},
		{"both missing", nil, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, kind := dominantPrecipitation(tt.rain, tt.snow)
			assert.Equal(t, tt.wantAmount, amount)
			assert.Equal(t, tt.wantType, kind)
		})
	}
}

func TestAverageChance(t *testing.T) {
	assert.Equal(t, models.Ptr(6), averageChance(models.Ptr(7), models.Ptr(5)))
	assert.Equal(t, models.Ptr(5), averageChance(nil, models.Ptr(5)))
	assert.Equal(t, models.Ptr(7), averageChance(models.Ptr(7), nil))
	assert.Nil(t, averageChance(nil, nil))
}

// The merger runs against a real DAL client and an httptest backend.
func TestMerger_WithDALClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var qs []client.Query
		if err := json.Unmarshal(body, &qs); err != nil || len(qs) != 1 || qs[0].Name != QueryForecast {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, dal(map[string]string{QueryForecast: ok(forecastData)}))
	}))
	defer srv.Close()

	dc, err := client.NewDALClient(srv.URL, time.Second)
	require.NoError(t, err)
	m := NewMerger(dc, "en-US", nil)

	got, err := m.FetchDailyWeather(context.Background(), latitude, longitude, reference.AddDays(1), reference)
	require.NoError(t, err)
	assert.Equal(t, 60, *got.High)
	assert.Equal(t, models.MoonLastQuarter, *got.MoonPhase)
}

func TestParseLocalDate(t *testing.T) {
	tests := []struct {
		in   string
		want civil.Date
		ok   bool
	}{
		{"2023-02-13T07:00:00-0800", civil.Date{Year: 2023, Month: 2, Day: 13}, true},
		{"2023-02-13T23:30:00-0800", civil.Date{Year: 2023, Month: 2, Day: 13}, true},
		{"2023-02-11T07:05:32.000-08:00", civil.Date{Year: 2023, Month: 2, Day: 11}, true},
		{"2023-02-11", civil.Date{Year: 2023, Month: 2, Day: 11}, true},
		{"yesterday", civil.Date{}, false},
	}
	for _, tt := range tests {
		got, ok := parseLocalDate(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLocalDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
