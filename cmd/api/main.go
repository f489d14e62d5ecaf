package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"remix/internal/adapter/repo"
	"remix/internal/compose"
	"remix/internal/http/handlers"
	"remix/internal/http/httpapi"
	"remix/internal/infra"
	"remix/internal/magic"
	"remix/internal/poller"
	"remix/internal/providers/bot"
	"remix/internal/providers/custommodel"
	"remix/internal/providers/diffusion"
	"remix/internal/storage"
	"remix/internal/training"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	models := repo.NewModelRepository(dbpool)

	customClient := custommodel.NewClient(custommodel.Options{
		APIKey:  cfg.PredictionAPIKey,
		BaseURL: cfg.PredictionBaseURL,
		Logger:  &logger,
	})
	diffusionClient := diffusion.NewClient(diffusion.Options{
		APIKey:  cfg.DiffusionAPIKey,
		BaseURL: cfg.DiffusionBaseURL,
		Engine:  cfg.DiffusionEngine,
		Logger:  &logger,
	})
	botClient := bot.NewClient(bot.Options{
		APIKey:  cfg.BotAPIKey,
		BaseURL: cfg.BotBaseURL,
		Logger:  &logger,
	})

	// Background work outlives individual requests; this context owns it.
	baseCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	pollCfg := poller.Config{Interval: cfg.PollInterval, MaxDuration: cfg.PollMaxDuration}
	botPollCfg := poller.Config{Interval: cfg.BotPollInterval, MaxDuration: cfg.PollMaxDuration}

	orchestrator := magic.New(magic.Options{
		Custom:        customClient,
		Diffusion:     diffusionClient,
		Bot:           botClient,
		Models:        models,
		Jobs:          jobs,
		BaseCtx:       baseCtx,
		PollConfig:    pollCfg,
		BotPollConfig: botPollCfg,
		Logger:        logger,
	})

	uploader, err := storage.NewPresignClient(cfg.StorageEndpoint, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init upload client")
	}
	trainer := training.NewManager(training.Options{
		Models:     models,
		Trainer:    customClient,
		Uploader:   uploader,
		BaseCtx:    baseCtx,
		PollConfig: pollCfg,
		Logger:     logger,
	})

	compositor, err := compose.New(compose.Options{Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build compositor")
	}
	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}

	app := &handlers.App{
		Magic:      orchestrator,
		Training:   trainer,
		Models:     models,
		Jobs:       jobs,
		Compositor: compositor,
		Files:      files,
		Logger:     logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
