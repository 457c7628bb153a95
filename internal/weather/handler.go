package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/models"
	"github.com/kjstillabower/drone/internal/observability"
	"github.com/kjstillabower/drone/internal/validation"
)

// IntentName is the NLU intent answered by Handler.
const IntentName = "query_weather"

// LocationResolver turns a city name into coordinates.
type LocationResolver interface {
	Resolve(ctx context.Context, city string) (models.Location, error)
}

// DailyFetcher returns the weather for one day at a location.
type DailyFetcher interface {
	FetchDailyWeather(ctx context.Context, lat, lon float64, target, reference civil.Date) (models.Record, error)
}

// Handler answers weather questions for a single day.
type Handler struct {
	locations   LocationResolver
	fetcher     DailyFetcher
	defaultCity string
	now         func() time.Time
	logger      *zap.Logger
}

// NewHandler creates a weather Handler. defaultCity is used when the utterance names none.
func NewHandler(locations LocationResolver, fetcher DailyFetcher, defaultCity string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		locations:   locations,
		fetcher:     fetcher,
		defaultCity: defaultCity,
		now:         time.Now,
		logger:      logger,
	}
}

func (h *Handler) CanHandle(p intent.Parsed) bool {
	return p.Name() == IntentName
}

// Handle resolves the city, fetches the day's weather and formats the reply. The
// reference "today" is the current instant in the time zone of the requested time.
func (h *Handler) Handle(ctx context.Context, p intent.Parsed) (string, error) {
	if !h.CanHandle(p) {
		return "", fmt.Errorf("weather handler: %w: %q", intent.ErrUnsupportedIntent, p.Name())
	}
	logger := observability.LoggerFromContext(ctx, h.logger)

	city, err := validation.ValidateCity(p.SlotValue("city", h.defaultCity))
	if err != nil {
		return "", fmt.Errorf("weather handler: %w", err)
	}

	now := h.now()
	target := now.UTC()
	if raw := p.SlotValue("time", ""); raw != "" {
		if target, err = ParseSlotTime(raw); err != nil {
			return "", fmt.Errorf("weather handler: %w", err)
		}
	}
	reference := now.In(target.Location())
	attribute := p.SlotValue("attribute", "")

	loc, err := h.locations.Resolve(ctx, city)
	if err != nil {
		return "", fmt.Errorf("weather handler: %w", err)
	}
	observability.RecordWeatherQuery(loc.City)

	targetDate, referenceDate := civil.DateOf(target), civil.DateOf(reference)
	rec, err := h.fetcher.FetchDailyWeather(ctx, loc.Latitude, loc.Longitude, targetDate, referenceDate)
	if err != nil {
		return "", fmt.Errorf("weather handler: %w", err)
	}
	logger.Debug("weather fetched",
		zap.String("city", loc.City),
		zap.String("date", targetDate.String()),
		zap.Stringer("relation", Classify(targetDate, referenceDate)),
		zap.String("attribute", attribute),
		zap.Bool("empty", rec.IsEmpty()))

	return FormatResponse(loc.City, targetDate, referenceDate, rec, attribute), nil
}

var slotTimeLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseSlotTime parses the time slot formats the NLU engine emits. Times without an
// offset are taken as UTC.
func ParseSlotTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range slotTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
