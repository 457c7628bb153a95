package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/assistant"
	"github.com/kjstillabower/drone/internal/cache"
	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/config"
	"github.com/kjstillabower/drone/internal/conversation"
	"github.com/kjstillabower/drone/internal/executor"
	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/music"
	"github.com/kjstillabower/drone/internal/nlu"
	"github.com/kjstillabower/drone/internal/observability"
	"github.com/kjstillabower/drone/internal/service"
	"github.com/kjstillabower/drone/internal/weather"
)

// weatherStack is the backend client, location cache and merger shared by chat and weather.
type weatherStack struct {
	locations *service.LocationService
	merger    *weather.Merger
	cache     cache.Cache
}

func newLocationCache(cfg *config.Config) cache.Cache {
	switch cfg.CacheBackend {
	case "memcached":
		return cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	case "redis":
		return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return cache.NewInMemoryCache()
	}
}

func newWeatherStack(cfg *config.Config, logger *zap.Logger) (*weatherStack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dal, err := client.NewDALClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	dal.SetLogger(logger)
	if cfg.CircuitBreakerEnabled {
		dal.SetCircuitBreaker(client.NewCircuitBreaker("weather_api", cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerTimeout, logger))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	lc := newLocationCache(cfg)
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Bool("coalesce", cfg.CoalesceEnabled))
	var coalesceTimeout time.Duration
	if cfg.CoalesceEnabled {
		coalesceTimeout = cfg.CoalesceTimeout
	}

	return &weatherStack{
		locations: service.NewLocationService(dal, lc, cfg.CacheTTL, cfg.Language, coalesceTimeout, logger),
		merger:    weather.NewMerger(dal, cfg.Language, logger),
		cache:     lc,
	}, nil
}

// cachePing returns the cache health check, or nil for backends that cannot be pinged.
func (s *weatherStack) cachePing() func(ctx context.Context) error {
	if p, ok := s.cache.(cache.Pinger); ok {
		return p.Ping
	}
	return nil
}

func (s *weatherStack) Close() error {
	if c, ok := s.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// handlerFactories lists intent handlers in dispatch order.
func handlerFactories(ctx context.Context, cfg *config.Config, ws *weatherStack, logger *zap.Logger) []executor.Factory {
	factories := []executor.Factory{{
		Name: "weather",
		New: func() (intent.Handler, error) {
			return weather.NewHandler(ws.locations, ws.merger, cfg.DefaultCity, logger), nil
		},
	}}
	if cfg.SpotifyEnabled {
		factories = append(factories, executor.Factory{
			Name: "music",
			New: func() (intent.Handler, error) {
				h, err := music.New(ctx, music.AuthConfig{
					ClientID:     cfg.SpotifyClientID,
					ClientSecret: cfg.SpotifyClientSecret,
					RefreshToken: cfg.SpotifyRefreshToken,
					CallbackURL:  cfg.SpotifyCallbackURL,
					Timeout:      cfg.SpotifyAuthTimeout,
					SecretsPath:  cfg.SecretsPath,
				}, logger)
				if err != nil {
					return nil, err
				}
				return h, nil
			},
		})
	}
	return factories
}

// newProcessor assembles NLU, executor and conversation fallback. The returned closers
// release the model clients and must be closed by the caller.
func newProcessor(ctx context.Context, cfg *config.Config, ws *weatherStack, logger *zap.Logger) (*assistant.Processor, []io.Closer, error) {
	engine, err := nlu.NewGeminiEngine(ctx, cfg.GeminiAPIKey, nlu.Options{
		Model:   cfg.NLUModel,
		Timeout: cfg.NLUTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	observability.SetTrackedIntents(nlu.IntentNames(nlu.DefaultCatalogue))

	handlers := executor.BuildHandlers(handlerFactories(ctx, cfg, ws, logger), logger)
	logger.Info("intent handlers ready", zap.Int("count", len(handlers)))
	exec := executor.New(engine, handlers, cfg.ConfidenceThreshold, logger)

	model, err := conversation.Load(ctx, cfg.ConversationModel, cfg.BotName, conversation.Options{
		GeminiAPIKey:    cfg.GeminiAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIURL:       cfg.OpenAIURL,
		Instructions:    cfg.BotInstructions,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		HistoryLimit:    cfg.ChatHistoryLimit,
		Timeout:         cfg.GeneratorTimeout,
	}, logger)
	if err != nil {
		_ = engine.Close()
		return nil, nil, err
	}
	logger.Info("conversation model loaded", zap.String("model", cfg.ConversationModel))

	return assistant.NewProcessor(exec, model, logger), []io.Closer{engine, model}, nil
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}
}
