//go:build integration

package weather_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kjstillabower/drone/internal/testhelpers"
	"github.com/kjstillabower/drone/internal/weather"
)

func TestIntegration_ForecastTomorrow(t *testing.T) {
	stack := testhelpers.SetupWeatherStack(t, testhelpers.GetIntegrationConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loc, err := stack.Locations.Resolve(ctx, "Seattle")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// A second lookup must be served from the cache.
	if _, err := stack.Locations.Resolve(ctx, "seattle"); err != nil {
		t.Fatalf("cached Resolve() error = %v", err)
	}

	today := civil.DateOf(time.Now())
	tomorrow := today.AddDays(1)
	rec, err := stack.Merger.FetchDailyWeather(ctx, loc.Latitude, loc.Longitude, tomorrow, today)
	if err != nil {
		t.Fatalf("FetchDailyWeather() error = %v", err)
	}
	if rec.High == nil && rec.Low == nil {
		t.Error("forecast for tomorrow has neither high nor low")
	}

	got := weather.FormatResponse(loc.City, tomorrow, today, rec, "")
	if !strings.HasPrefix(got, "Tomorrow in ") {
		t.Errorf("FormatResponse() = %q, want prefix %q", got, "Tomorrow in ")
	}
}

func TestIntegration_HistoricalLastWeek(t *testing.T) {
	stack := testhelpers.SetupWeatherStack(t, testhelpers.GetIntegrationConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loc, err := stack.Locations.Resolve(ctx, "Chicago")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	today := civil.DateOf(time.Now())
	target := today.AddDays(-3)
	rec, err := stack.Merger.FetchDailyWeather(ctx, loc.Latitude, loc.Longitude, target, today)
	if err != nil {
		t.Fatalf("FetchDailyWeather() error = %v", err)
	}
	if rec.IsEmpty() {
		t.Error("historical record is empty")
	}
}
