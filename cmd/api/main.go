package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"postpilot/internal/adapter/repo"
	"postpilot/internal/http/handlers"
	httpapi "postpilot/internal/http/httpapi"
	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
	"postpilot/internal/providers/analyzer"
	"postpilot/internal/providers/caption"
	"postpilot/internal/providers/genai"
	"postpilot/internal/providers/publisher"
	"postpilot/internal/providers/reference"
	videoprovider "postpilot/internal/providers/video"
	"postpilot/internal/providers/visual"
	"postpilot/internal/storage"
	"postpilot/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	store := repo.NewStore(runner)
	catalog := repo.NewCatalog(runner)

	orch, err := buildOrchestrator(cfg, store, catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure pipeline")
	}

	app := handlers.NewApp(store, orch, logger)
	router := httpapi.NewRouter(app, cfg, logger)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildOrchestrator wires the provider set the API process needs. The API only
// creates jobs and relays replies; the same wiring in the worker process is
// what actually runs stages.
func buildOrchestrator(cfg *infra.Config, store *repo.Store, catalog *repo.Catalog, logger infra.Logger) (*pipeline.Orchestrator, error) {
	assets, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	scraper, err := reference.NewScraper(reference.ScraperOptions{
		APIKey:  cfg.DownloaderAPIKey,
		BaseURL: cfg.DownloaderBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("configure downloader: %w", err)
	}

	styleAnalyzer, err := analyzer.NewOpenAI(analyzer.OpenAIOptions{
		APIKey: cfg.AnalyzerAPIKey,
		Model:  cfg.AnalyzerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("configure analyzer: %w", err)
	}

	genaiClient := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})

	captions, err := captionWriter(cfg)
	if err != nil {
		return nil, err
	}

	meta, err := publisher.NewMeta(publisher.MetaOptions{
		AccessToken: cfg.PublisherToken,
		AccountID:   cfg.PublisherAccountID,
		BaseURL:     cfg.PublisherBaseURL,
		AssetBase:   cfg.PublicAssetBase,
	})
	if err != nil {
		return nil, fmt.Errorf("configure publisher: %w", err)
	}

	executor := pipeline.NewExecutor(pipelineConfig(cfg), pipeline.ExecutorDeps{
		Store:      store,
		Assets:     assets,
		Downloader: scraper,
		Analyzer:   styleAnalyzer,
		Visual:     visual.NewGemini(genaiClient, cfg.GeminiModel),
		Video:      videoprovider.NewVeo(genaiClient, cfg.VeoModel),
		Captions:   captions,
		Publisher:  meta,
		Catalog:    catalog,
		Logger:     logger,
	})

	outbound := transport.NewWebhook(cfg.ReplyCallbackURL, cfg.PublicAssetBase, nil, logger)
	return pipeline.NewOrchestrator(pipelineConfig(cfg), store, executor, outbound, catalog, logger), nil
}

// captionWriter prefers the hosted writer and keeps the deterministic one as
// its fallback; without an API key the fallback runs alone.
func captionWriter(cfg *infra.Config) (pipeline.CaptionWriter, error) {
	static := caption.NewStatic()
	if cfg.CaptionAPIKey == "" {
		return static, nil
	}
	claude, err := caption.NewClaude(caption.ClaudeOptions{
		APIKey:   cfg.CaptionAPIKey,
		Model:    cfg.CaptionModel,
		Fallback: static,
	})
	if err != nil {
		return nil, fmt.Errorf("configure caption writer: %w", err)
	}
	return claude, nil
}

func pipelineConfig(cfg *infra.Config) pipeline.Config {
	return pipeline.Config{
		ImageVariantsPerRound: cfg.ImageVariantsPerRound,
		VideoVariantsPerRound: cfg.VideoVariantsPerRound,
		MaxStageRetries:       cfg.MaxStageRetries,
		ImageGateThreshold:    cfg.ImageGateThreshold,
		VideoGateThreshold:    cfg.VideoGateThreshold,
		FrameDriftThreshold:   cfg.FrameDriftThreshold,
		VideoPollInterval:     cfg.VideoPollInterval,
		VideoPollTimeout:      cfg.VideoPollTimeout,
		DailySubmissionQuota:  cfg.DailySubmissionQuota,
	}
}
