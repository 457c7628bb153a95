package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/drone/internal/assistant"
	"github.com/kjstillabower/drone/internal/cache"
	"github.com/kjstillabower/drone/internal/config"
	"github.com/kjstillabower/drone/internal/console"
	httphandler "github.com/kjstillabower/drone/internal/http"
	"github.com/kjstillabower/drone/internal/observability"
)

const (
	ioConsole = "console"
	ioHTTP    = "http"

	warmTimeout        = 30 * time.Second
	inFlightCheckEvery = 50 * time.Millisecond
)

func validateIOMode(mode string) error {
	switch mode {
	case ioConsole, ioHTTP:
		return nil
	default:
		return fmt.Errorf("unknown --io %q (want %s or %s)", mode, ioConsole, ioHTTP)
	}
}

// applyChatFlags lets command-line flags override the loaded configuration.
func applyChatFlags(cfg *config.Config) {
	if name := strings.TrimSpace(botName); name != "" {
		cfg.BotName = name
	}
	if model := strings.TrimSpace(conversationModel); model != "" {
		cfg.ConversationModel = model
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	if err := validateIOMode(ioMode); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyChatFlags(cfg)

	logger, logPath, err := observability.NewChatLogger(cfg.ChatLogDir)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() {
		if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
		}
	}()
	logger.Info("chat session starting",
		zap.String("io", ioMode),
		zap.String("bot_name", cfg.BotName),
		zap.String("conversation_model", cfg.ConversationModel),
		zap.String("chat_log", logPath))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := newWeatherStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Error("location cache close", zap.Error(err))
		}
	}()
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	processor, closers, err := newProcessor(ctx, cfg, ws, logger)
	if err != nil {
		return err
	}
	defer closeAll(closers, logger)

	if ioMode == ioHTTP {
		return serveHTTP(ctx, cfg, ws, processor, logger)
	}
	rw := console.New(os.Stdin, cmd.OutOrStdout(), cfg.BotName, logger)
	if err := processor.Start(ctx, rw); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chat session ended")
	return nil
}

// startCacheWarming warms the tracked cities once, then on a schedule when an interval
// is configured. The returned scheduler is nil when nothing was scheduled.
func startCacheWarming(ctx context.Context, cfg *config.Config, ws *weatherStack, logger *zap.Logger) *gocron.Scheduler {
	if !cfg.WarmCache || len(cfg.TrackedCities) == 0 {
		return nil
	}
	warmer := cache.NewCacheWarmer(ws.locations, logger)
	if cfg.WarmInterval > 0 {
		s, err := warmer.Schedule(ctx, cfg.TrackedCities, cfg.WarmInterval)
		if err != nil {
			logger.Error("cache warming not scheduled", zap.Error(err))
			return nil
		}
		return s
	}
	warmCtx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()
	if err := warmer.Warm(warmCtx, cfg.TrackedCities); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	return nil
}

// serveHTTP runs the HTTP I/O mode until ctx is cancelled, then drains in-flight turns.
func serveHTTP(ctx context.Context, cfg *config.Config, ws *weatherStack, processor *assistant.Processor, logger *zap.Logger) error {
	if s := startCacheWarming(ctx, cfg, ws, logger); s != nil {
		defer s.Stop()
	}
	observability.RegisterTurnGauges(cfg.DegradedWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(processor, &httphandler.HealthConfig{
		BotName:          cfg.BotName,
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		CachePing:        ws.cachePing(),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	remaining := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", remaining))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckEvery); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	logger.Info("shutdown complete")
	return nil
}
