package weather

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/models"
	"github.com/kjstillabower/drone/internal/observability"
)

// Backend query names.
const (
	QueryForecast   = "getSunV3DailyForecastWithHeadersUrlConfig"
	QueryHistorical = "getSunV3HistoricalDailyConditions30DayUrlConfig"
	QueryAlmanac    = "getSunV3DailyAlmanacUrlConfig"
	QueryAstro      = "getSunV2AstroUrlConfig"
)

const (
	forecastDays   = 15
	historicalDays = 30
)

// Merger fetches the weather for one day, choosing and reconciling backend sources
// according to where the target date falls.
type Merger struct {
	client   client.WeatherClient
	language string
	logger   *zap.Logger
}

// NewMerger creates a Merger that queries through c.
func NewMerger(c client.WeatherClient, language string, logger *zap.Logger) *Merger {
	if language == "" {
		language = "en-US"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{client: c, language: language, logger: logger}
}

// FetchDailyWeather returns the weather at (lat, lon) on target, where reference is today
// at that location. Dates inside the forecast window are answered by the forecast alone;
// otherwise almanac, astronomy and (for the last 30 days) historical sources are merged.
// Absent sources leave fields unset; only transport failures are returned as errors.
func (m *Merger) FetchDailyWeather(ctx context.Context, lat, lon float64, target, reference civil.Date) (models.Record, error) {
	logger := observability.LoggerFromContext(ctx, m.logger)
	defer observability.Timed(logger, "fetch daily weather")()

	queries := m.Queries(lat, lon, target, reference)
	batch, err := m.client.Query(ctx, queries...)
	if err != nil {
		return models.Record{}, fmt.Errorf("fetch daily weather: %w", err)
	}

	if inForecastRange(target, reference) {
		rec, ok := forecastRecord(batch, target, logger)
		if !ok {
			logger.Warn("no forecast entry for date", zap.String("date", target.String()))
		}
		return rec, nil
	}
	return nonForecastRecord(batch, target, logger), nil
}

// Queries returns the batch sent for target. Forecast dates need only the forecast query.
func (m *Merger) Queries(lat, lon float64, target, reference civil.Date) []client.Query {
	geocode := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)

	if inForecastRange(target, reference) {
		return []client.Query{{
			Name: QueryForecast,
			Params: map[string]any{
				"duration": fmt.Sprintf("%dday", forecastDays),
				"geocode":  geocode,
				"language": m.language,
				"units":    "e",
			},
		}}
	}

	queries := []client.Query{
		{
			Name: QueryAstro,
			Params: map[string]any{
				"date":     fmt.Sprintf("%04d%02d%02d", target.Year, int(target.Month), target.Day),
				"days":     "30",
				"geocode":  geocode,
				"language": m.language,
			},
		},
		{
			Name: QueryAlmanac,
			Params: map[string]any{
				"startMonth": int(target.Month),
				"startDay":   1,
				"days":       "45", // the backend rejects any other span
				"geocode":    geocode,
				"language":   m.language,
				"units":      "e",
			},
		},
	}
	if inHistoricalRange(target, reference) {
		queries = append(queries, client.Query{
			Name: QueryHistorical,
			Params: map[string]any{
				"geocode":  geocode,
				"language": m.language,
				"units":    "e",
			},
		})
	}
	return queries
}

func inForecastRange(target, reference civil.Date) bool {
	d := target.DaysSince(reference)
	return d >= 0 && d <= forecastDays
}

func inHistoricalRange(target, reference civil.Date) bool {
	d := target.DaysSince(reference)
	return d >= -historicalDays && d < 0
}

type dailyForecast struct {
	ValidTimeLocal            []string   `json:"validTimeLocal"`
	TemperatureMax            []*int     `json:"temperatureMax"`
	TemperatureMin            []*int     `json:"temperatureMin"`
	CalendarDayTemperatureMax []*int     `json:"calendarDayTemperatureMax"`
	CalendarDayTemperatureMin []*int     `json:"calendarDayTemperatureMin"`
	Qpf                       []*float64 `json:"qpf"`
	QpfSnow                   []*float64 `json:"qpfSnow"`
	SunriseTimeLocal          []*string  `json:"sunriseTimeLocal"`
	SunsetTimeLocal           []*string  `json:"sunsetTimeLocal"`
	MoonPhase                 []*string  `json:"moonPhase"`
	Daypart                   []struct {
		PrecipChance          []*int    `json:"precipChance"`
		WindSpeed             []*int    `json:"windSpeed"`
		WindDirectionCardinal []*string `json:"windDirectionCardinal"`
	} `json:"daypart"`
}

type historicalDaily struct {
	ValidTimeLocal []string   `json:"validTimeLocal"`
	TemperatureMax []*int     `json:"temperatureMax"`
	TemperatureMin []*int     `json:"temperatureMin"`
	Rain24Hour     []*float64 `json:"rain24Hour"`
	Snow24Hour     []*float64 `json:"snow24Hour"`
}

type almanacDaily struct {
	AlmanacRecordDate     []string `json:"almanacRecordDate"`
	TemperatureAverageMax []*int   `json:"temperatureAverageMax"`
	TemperatureAverageMin []*int   `json:"temperatureAverageMin"`
}

type astroDaily struct {
	AstroData []struct {
		DateLocal string `json:"dateLocal"`
		Sun       struct {
			RiseSet struct {
				RiseLocal *string `json:"riseLocal"`
				SetLocal  *string `json:"setLocal"`
			} `json:"riseSet"`
		} `json:"sun"`
	} `json:"astroData"`
}

// forecastRecord builds the record for target from the forecast source. It reports false
// when the source is absent or has no entry for target.
func forecastRecord(batch *client.Batch, target civil.Date, logger *zap.Logger) (models.Record, bool) {
	var f dailyForecast
	if !batch.Decode(QueryForecast, &f) {
		return models.Record{}, false
	}

	for i, ts := range f.ValidTimeLocal {
		if d, ok := parseLocalDate(ts); !ok || d != target {
			continue
		}
		var rec models.Record

		rec.High = nonZeroOr(at(f.TemperatureMax, i), at(f.CalendarDayTemperatureMax, i))
		rec.Low = nonZeroOr(at(f.TemperatureMin, i), at(f.CalendarDayTemperatureMin, i))

		// Day parts alternate day, night for each forecast day.
		var chance, speed []*int
		var direction []*string
		if len(f.Daypart) > 0 {
			chance = f.Daypart[0].PrecipChance
			speed = f.Daypart[0].WindSpeed
			direction = f.Daypart[0].WindDirectionCardinal
		}
		rec.PrecipitationChance = averageChance(at(chance, 2*i), at(chance, 2*i+1))
		rec.PrecipitationAmount, rec.PrecipitationType = dominantPrecipitation(at(f.Qpf, i), at(f.QpfSnow, i))

		rec.WindSpeed = nonZeroOr(at(speed, 2*i), at(speed, 2*i+1))
		if dir := nonEmptyOr(at(direction, 2*i), at(direction, 2*i+1)); dir != "" {
			if parsed, ok := models.ParseDirection(dir); ok {
				rec.WindDirection = &parsed
			} else {
				logger.Warn("unknown wind direction", zap.String("direction", dir))
			}
		}

		rec.Sunrise = parseLocalTime(at(f.SunriseTimeLocal, i))
		rec.Sunset = parseLocalTime(at(f.SunsetTimeLocal, i))
		if phase := at(f.MoonPhase, i); phase != nil {
			if parsed, ok := models.ParseMoonPhase(*phase); ok {
				rec.MoonPhase = &parsed
			} else {
				logger.Warn("unknown moon phase", zap.String("phase", *phase))
			}
		}

		logger.Debug("parsed forecast", zap.String("date", target.String()), zap.Any("record", rec))
		return rec, true
	}
	return models.Record{}, false
}

// nonForecastRecord merges almanac normals, historical observations and astronomy for target.
func nonForecastRecord(batch *client.Batch, target civil.Date, logger *zap.Logger) models.Record {
	var rec models.Record

	var almanac almanacDaily
	if batch.Decode(QueryAlmanac, &almanac) {
		mmdd := fmt.Sprintf("%02d%02d", int(target.Month), target.Day)
		for i, d := range almanac.AlmanacRecordDate {
			if d == mmdd {
				rec.High = at(almanac.TemperatureAverageMax, i)
				rec.Low = at(almanac.TemperatureAverageMin, i)
				break
			}
		}
	}

	var hist historicalDaily
	if batch.Decode(QueryHistorical, &hist) {
		for i, ts := range hist.ValidTimeLocal {
			if d, ok := parseLocalDate(ts); !ok || d != target {
				continue
			}
			// Observed values replace the almanac normals.
			if v := at(hist.TemperatureMax, i); v != nil {
				rec.High = v
			}
			if v := at(hist.TemperatureMin, i); v != nil {
				rec.Low = v
			}
			rec.PrecipitationAmount, rec.PrecipitationType = dominantPrecipitation(at(hist.Rain24Hour, i), at(hist.Snow24Hour, i))
			if rec.PrecipitationAmount != nil {
				chance := 0
				if *rec.PrecipitationAmount > 0 {
					chance = 100
				}
				rec.PrecipitationChance = &chance
			}
			break
		}
	}

	var astro astroDaily
	if batch.Decode(QueryAstro, &astro) {
		for _, day := range astro.AstroData {
			if d, ok := parseLocalDate(day.DateLocal); !ok || d != target {
				continue
			}
			rec.Sunrise = parseLocalTime(day.Sun.RiseSet.RiseLocal)
			rec.Sunset = parseLocalTime(day.Sun.RiseSet.SetLocal)
			break
		}
	}

	logger.Debug("parsed non-forecast weather", zap.String("date", target.String()), zap.Any("record", rec))
	return rec
}

// averageChance floors the mean of the day and night chances, substituting one for the
// other when either is missing.
func averageChance(day, night *int) *int {
	if day == nil {
		day = night
	}
	if night == nil {
		night = day
	}
	if day == nil {
		return nil
	}
	avg := int(math.Floor(float64(*day+*night) / 2))
	return &avg
}

// dominantPrecipitation picks the larger of rain and snow; ties go to rain.
// A missing side counts as zero when the other is present.
func dominantPrecipitation(rain, snow *float64) (*float64, *models.PrecipitationType) {
	if rain == nil && snow == nil {
		return nil, nil
	}
	var r, s float64
	if rain != nil {
		r = *rain
	}
	if snow != nil {
		s = *snow
	}
	if r >= s {
		return &r, models.Ptr(models.PrecipitationRain)
	}
	return &s, models.Ptr(models.PrecipitationSnow)
}

// nonZeroOr returns primary unless it is missing or zero, in which case fallback.
func nonZeroOr(primary, fallback *int) *int {
	if primary != nil && *primary != 0 {
		return primary
	}
	return fallback
}

func nonEmptyOr(primary, fallback *string) string {
	if primary != nil && *primary != "" {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return ""
}

func at[T any](s []*T, i int) *T {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

var localLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// parseLocalTimestamp parses the backend's local timestamps, which carry a numeric offset.
func parseLocalTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseLocalDate returns the local calendar date of a backend timestamp or plain date.
func parseLocalDate(s string) (civil.Date, bool) {
	if d, err := civil.ParseDate(strings.TrimSpace(s)); err == nil {
		return d, true
	}
	t, ok := parseLocalTimestamp(s)
	if !ok {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

// parseLocalTime returns the local time of day of a backend timestamp, truncated to the minute.
func parseLocalTime(s *string) *civil.Time {
	if s == nil {
		return nil
	}
	t, ok := parseLocalTimestamp(*s)
	if !ok {
		return nil
	}
	return &civil.Time{Hour: t.Hour(), Minute: t.Minute()}
}
