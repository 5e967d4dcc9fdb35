package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"postpilot/internal/adapter/repo"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	store := repo.NewStore(runner)
	catalog := repo.NewCatalog(runner)

	orch, err := buildOrchestrator(cfg, store, catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	logger.Info().Int("workers", cfg.WorkerCount).Msg("worker: started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		id := i
		g.Go(func() error {
			return runLoop(gctx, id, store, orch, cfg.JobPollInterval, logger)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// runLoop claims runnable jobs one at a time and drives each as far as it can
// go. The claim clears the runnable flag atomically, so concurrent loops never
// pick up the same job.
func runLoop(ctx context.Context, id int, store *repo.Store, orch *pipeline.Orchestrator, poll time.Duration, logger infra.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := store.ClaimRunnableJob(ctx)
		if err != nil {
			if !errors.Is(err, pipeline.ErrNoJob) {
				logger.Error().Err(err).Int("worker", id).Msg("worker: claim failed")
			}
			if !sleep(ctx, poll) {
				return ctx.Err()
			}
			continue
		}

		logger.Info().Int("worker", id).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("worker: picked job")
		orch.RunJob(ctx, job)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// buildOrchestrator mirrors the API wiring; the worker is the process where
// these providers actually get invoked.
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
