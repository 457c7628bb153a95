package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/cache"
	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/models"
	"github.com/kjstillabower/drone/internal/observability"
)

// QueryLocationSearch is the backend query that resolves a city name to coordinates.
const QueryLocationSearch = "getSunV3LocationSearchUrlConfig"

// ErrLocationNotFound is returned when the backend has no match for a city.
var ErrLocationNotFound = errors.New("location not found")

// LocationService resolves city names to coordinates using cache-aside with
// the weather backend's location search as the source of truth.
type LocationService struct {
	client    client.WeatherClient
	cache     cache.Cache
	ttl       time.Duration
	language  string
	logger    *zap.Logger
	stampede  *stampedeTracker
	coalescer *requestCoalescer // nil when coalescing is disabled
}

// NewLocationService creates a LocationService. TTL is the cache lifetime of a resolved
// location. A positive coalesceTimeout shares one backend search between concurrent
// misses for the same city and bounds that search; zero disables coalescing.
func NewLocationService(c client.WeatherClient, cc cache.Cache, ttl time.Duration, language string, coalesceTimeout time.Duration, logger *zap.Logger) *LocationService {
	if language == "" {
		language = "en-US"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LocationService{
		client:   c,
		cache:    cc,
		ttl:      ttl,
		language: language,
		logger:   logger,
		stampede: newStampedeTracker(),
	}
	if coalesceTimeout > 0 {
		s.coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return s
}

type locationSearch struct {
	Location struct {
		City      []string  `json:"city"`
		Latitude  []float64 `json:"latitude"`
		Longitude []float64 `json:"longitude"`
	} `json:"location"`
}

// Resolve returns the best match for city. Cache errors are counted and logged but
// never fail the lookup.
func (s *LocationService) Resolve(ctx context.Context, city string) (models.Location, error) {
	key := normalizeLocation(city)
	logger := observability.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("location cache get failed", zap.String("city", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("location").Inc()
		logger.Debug("location served", zap.String("city", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	if n := s.stampede.begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.CityLabel(key)).Inc()
		logger.Debug("concurrent location cache misses", zap.String("city", key), zap.Int("misses", n))
	}
	defer s.stampede.end(key)

	var (
		loc    models.Location
		shared bool
	)
	if s.coalescer != nil {
		waitStart := time.Now()
		loc, shared, err = s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (models.Location, error) {
			return s.search(ctx, logger, key, city)
		})
		if shared {
			observability.LocationCoalescedTotal.Inc()
			observability.LocationCoalesceWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
	} else {
		loc, err = s.search(ctx, logger, key, city)
	}
	if err != nil {
		return models.Location{}, err
	}
	logger.Debug("location served",
		zap.String("city", key),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.Duration("duration", time.Since(start)))
	return loc, nil
}

// search queries the backend location search for city and stores the best match under key.
func (s *LocationService) search(ctx context.Context, logger *zap.Logger, key, city string) (models.Location, error) {
	logger.Debug("location cache miss, querying backend", zap.String("city", key))
	batch, err := s.client.Query(ctx, client.Query{
		Name: QueryLocationSearch,
		Params: map[string]any{
			"query":        city,
			"language":     s.language,
			"locationType": "locale",
		},
	})
	if err != nil {
		return models.Location{}, fmt.Errorf("resolve location %s: %w", key, err)
	}

	var search locationSearch
	if !batch.Decode(QueryLocationSearch, &search) {
		return models.Location{}, fmt.Errorf("resolve location %s: %w", key, ErrLocationNotFound)
	}
	res := search.Location
	if len(res.City) == 0 || len(res.Latitude) == 0 || len(res.Longitude) == 0 {
		return models.Location{}, fmt.Errorf("resolve location %s: %w", key, ErrLocationNotFound)
	}
	loc := models.Location{City: res.City[0], Latitude: res.Latitude[0], Longitude: res.Longitude[0]}

	if err := s.cache.Set(ctx, key, loc, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("location cache set failed", zap.String("city", key), zap.Error(err))
	}
	return loc, nil
}

// normalizeLocation trims, lower-cases and collapses inner whitespace so
// equivalent spellings share a cache key.
func normalizeLocation(location string) string {
	return strings.Join(strings.Fields(strings.ToLower(location)), " ")
}
