package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/models"
	"github.com/kjstillabower/drone/internal/observability"
)

// LocationResolver is implemented by the service layer to resolve a city through the cache.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type LocationResolver interface {
	Resolve(ctx context.Context, city string) (models.Location, error)
}

// CacheWarmer warms the cache by resolving a list of cities ahead of use.
type CacheWarmer struct {
	resolver LocationResolver
	logger   *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given resolver and logger.
func NewCacheWarmer(resolver LocationResolver, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{resolver: resolver, logger: logger}
}

// Warm resolves each city concurrently so the results land in the cache.
// Returns the joined errors of every city that failed.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming location cache", zap.Int("cities", len(cities)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if _, err := w.resolver.Resolve(ctx, city); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("location cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Schedule runs Warm immediately and then every interval on a background scheduler.
// The caller stops the returned scheduler on shutdown.
func (w *CacheWarmer) Schedule(ctx context.Context, cities []string, interval time.Duration) (*gocron.Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("cache warming interval must be positive, got %v", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).SingletonMode().Do(func() {
		if err := w.Warm(ctx, cities); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	return s, nil
}
