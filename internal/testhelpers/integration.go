//go:build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/drone/internal/cache"
	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/service"
	"github.com/kjstillabower/drone/internal/weather"
)

// IntegrationConfig selects the live backend and location cache used by integration tests.
type IntegrationConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig reads the integration environment. Tests are skipped unless
// DRONE_INTEGRATION=1, since they call the public weather backend.
func GetIntegrationConfig(t *testing.T) IntegrationConfig {
	t.Helper()
	if os.Getenv("DRONE_INTEGRATION") != "1" {
		t.Skip("DRONE_INTEGRATION not set, skipping integration test")
	}
	cfg := IntegrationConfig{
		APIURL:        os.Getenv("WEATHER_API_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = client.DefaultAPIURL
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	return cfg
}

// WeatherStack is a live location service and merger sharing one backend client.
type WeatherStack struct {
	Locations *service.LocationService
	Merger    *weather.Merger
	Cache     cache.Cache
}

// SetupWeatherStack builds a WeatherStack against the live backend. A remote cache that
// does not answer a ping falls back to the in-memory cache.
func SetupWeatherStack(t *testing.T, cfg IntegrationConfig) *WeatherStack {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	dal, err := client.NewDALClientWithRetry(cfg.APIURL, 5*time.Second, 2, 100*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("NewDALClientWithRetry() error = %v", err)
	}
	dal.SetLogger(logger)

	lc := remoteCache(t, cfg)
	return &WeatherStack{
		Locations: service.NewLocationService(dal, lc, 5*time.Minute, "en-US", 15*time.Second, logger),
		Merger:    weather.NewMerger(dal, "en-US", logger),
		Cache:     lc,
	}
}

func remoteCache(t *testing.T, cfg IntegrationConfig) cache.Cache {
	var remote interface {
		cache.Cache
		cache.Pinger
		Close() error
	}
	switch cfg.CacheBackend {
	case "memcached":
		remote = cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
	case "redis":
		remote = cache.NewRedisCache(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
	default:
		return cache.NewInMemoryCache()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := remote.Ping(ctx); err != nil {
		t.Logf("%s not available (%v), using in-memory cache", cfg.CacheBackend, err)
		_ = remote.Close()
		return cache.NewInMemoryCache()
	}
	t.Logf("using %s location cache", cfg.CacheBackend)
	t.Cleanup(func() { _ = remote.Close() })
	return remote
}
