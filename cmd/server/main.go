// Command server runs the chatbot backend: the HTTP API and websocket
// channel, the reply job queue and the periodic maintenance.
//
// @title          Chatbot Backend API
// @version        1.0
// @description    Chats with a weather-aware assistant. Replies are produced asynchronously and pushed over /ws/chats/{id}.
// @BasePath       /api/v1
// @schemes        http https
// @securityDefinitions.apikey UserID
// @in             header
// @name           X-User-ID
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	_ "github.com/unisoflta/chatbot-back/docs"
	"github.com/unisoflta/chatbot-back/internal/config"
	httpapi "github.com/unisoflta/chatbot-back/internal/http"
	"github.com/unisoflta/chatbot-back/internal/jobs"
	"github.com/unisoflta/chatbot-back/internal/llm"
	"github.com/unisoflta/chatbot-back/internal/notify"
	"github.com/unisoflta/chatbot-back/internal/observability"
	"github.com/unisoflta/chatbot-back/internal/repo"
	"github.com/unisoflta/chatbot-back/internal/scheduler"
	"github.com/unisoflta/chatbot-back/internal/services"
	"github.com/unisoflta/chatbot-back/internal/sysutil"
	"github.com/unisoflta/chatbot-back/internal/weather"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := sysutil.SetupLogger(sysutil.LoggerOptions{})
		boot.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	logger := sysutil.SetupLogger(sysutil.LoggerOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: ver,
	})
	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		logger.Error().Err(err).Msg("otel setup failed")
		return 1
	}

	db, err := openDB(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DBPath).Msg("database setup failed")
		return 1
	}

	// Reply pipeline: weather lookup + completion API behind the engine,
	// executed by the job queue, results pushed through the hub.
	wx := weather.New(weather.Options{
		GeocodeURL:   cfg.Weather.GeocodeURL,
		ForecastURL:  cfg.Weather.ForecastURL,
		Language:     cfg.Weather.Language,
		Timeout:      cfg.Weather.Timeout,
		MaxFailures:  cfg.Weather.MaxFailures,
		OpenInterval: cfg.Weather.OpenInterval,
	})
	completer := llm.NewOpenAICompleter(llm.OpenAIOptions{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		Timeout:     cfg.LLM.Timeout,
	})
	engine := &llm.Engine{Completer: completer, Weather: wx, Language: cfg.LLM.Language}

	chats := httpapi.NewChatService(db)
	chats.TitleLocale = language.Make(cfg.Weather.Language)
	hub := notify.NewHub(notify.AuthorizerFunc(chats.AuthorizeChat), 0)

	processor := &jobs.Processor{
		DB:            db,
		Engine:        engine,
		Notifier:      hub,
		HistoryWindow: cfg.LLM.HistoryWindow,
		MaxReplyRunes: cfg.Jobs.MaxReplyRunes,
		Backoff:       cfg.Jobs.RetryBackoff,
	}
	queue := jobs.NewQueue(db, processor, cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	queue.Start(context.WithoutCancel(ctx))
	if n, err := queue.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("job recovery failed")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("recovered unfinished jobs")
	}

	messages := &services.MessageService{
		DB:             db,
		Queue:          queue,
		MaxPromptRunes: cfg.MaxMessageRunes,
		MaxAttempts:    cfg.Jobs.MaxAttempts,
		JobTimeout:     cfg.Jobs.Timeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
		TitleLocale:    chats.TitleLocale,
	}

	sched, err := scheduler.Start(ctx, &scheduler.Maintenance{
		DB:     db,
		Queue:  queue,
		Config: cfg.Maintenance,
		Logger: logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("scheduler setup failed")
		return 1
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		DB:         db,
		Chats:      chats,
		Messages:   messages,
		Subscriber: hub,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Bool("swagger", cfg.SwaggerEnabled).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			code = 1
		}
	}

	// Drain in dependency order: stop intake first, then the workers that
	// publish to open sockets, then telemetry and storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := sched.Stop(); err != nil {
		logger.Warn().Err(err).Msg("scheduler shutdown incomplete")
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("job queue drain incomplete; unfinished jobs resume on next start")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info().Int("exit_code", code).Msg("server stopped")
	return code
}

// openDB opens SQLite with the zerolog GORM logger and query tracing, then
// migrates the schema.
func openDB(cfg config.Config, logger zerolog.Logger) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(cfg.DBPath, observability.NewGormLogger(logger, cfg.DBSlowThreshold))
	if err != nil {
		return nil, err
	}
	if err := observability.InstrumentGorm(db); err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
