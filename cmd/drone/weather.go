package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/config"
	"github.com/kjstillabower/drone/internal/observability"
	"github.com/kjstillabower/drone/internal/validation"
	"github.com/kjstillabower/drone/internal/weather"
)

// targetDate parses --date relative to today. An empty value means today.
func targetDate(s string, today civil.Date) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return today, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func runWeather(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	city := cfg.DefaultCity
	if len(args) == 1 {
		city = args[0]
	}
	if city, err = validation.ValidateCity(city); err != nil {
		return err
	}

	today := civil.DateOf(time.Now())
	target, err := targetDate(weatherDate, today)
	if err != nil {
		return err
	}

	ws, err := newWeatherStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	loc, err := ws.locations.Resolve(ctx, city)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", city, err)
	}
	rec, err := ws.merger.FetchDailyWeather(ctx, loc.Latitude, loc.Longitude, target, today)
	if err != nil {
		return fmt.Errorf("fetch weather: %w", err)
	}
	logger.Debug("weather record",
		zap.String("city", loc.City),
		zap.String("date", target.String()),
		zap.Stringer("relation", weather.Classify(target, today)))

	fmt.Fprintln(cmd.OutOrStdout(), weather.FormatResponse(loc.City, target, today, rec, weatherAttribute))
	return nil
}
