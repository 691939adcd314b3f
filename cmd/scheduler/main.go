package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/config"
	"github.com/suPer8Hu/intelliavatar/internal/db"
	"github.com/suPer8Hu/intelliavatar/internal/executor"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/logging"
	"github.com/suPer8Hu/intelliavatar/internal/media"
	"github.com/suPer8Hu/intelliavatar/internal/pipeline"
	"github.com/suPer8Hu/intelliavatar/internal/scheduler"
	"github.com/suPer8Hu/intelliavatar/internal/slides"
	"github.com/suPer8Hu/intelliavatar/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(logging.New(os.Stderr, "", 0), "load config", err)
	}
	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logging.Fatal(logger, "open database", err, "driver", cfg.DBDriver)
	}
	defer db.Close(gdb)
	if err := db.Migrate(gdb); err != nil {
		logging.Fatal(logger, "migrate", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// the running job drains on the first signal; a second one kills the process
	go func() {
		<-ctx.Done()
		stop()
	}()

	jobs := job.NewRepo(gdb)
	if cfg.RecoverStale {
		n, err := jobs.FailInProgress(ctx, "interrupted: scheduler restarted", time.Now())
		if err != nil {
			logging.Fatal(logger, "recover stale jobs", err)
		}
		if n > 0 {
			logger.Warn("failed stale in-progress jobs", "count", n)
		}
	}

	summarizer, err := newSummarizer(ctx, cfg)
	if err != nil {
		logging.Fatal(logger, "summarizer", err, "provider", cfg.SummarizerProvider)
	}
	if summarizer == nil {
		logger.Warn("no summarizer credentials, slides are narrated verbatim", "provider", cfg.SummarizerProvider)
	}

	gen := ai.NewGenerationClient(cfg.GenerateURL, cfg.FileServerURL, cfg.GenerateTimeout, cfg.DownloadTimeout)
	runner := media.ExecRunner{}
	toolkit := media.NewToolkit(cfg.FFmpegPath, cfg.FFprobePath, runner)

	pipelines := pipeline.NewRegistry()
	pipelines.Register(job.FeatureLipSync, pipeline.NewLipSync(ai.NewLipSync(gen)))
	pipelines.Register(job.FeatureSlideNarration, pipeline.NewNarration(pipeline.NarrationDeps{
		Decks:      slides.NewLoader(slides.NewRenderer(cfg.SofficePath, cfg.PdftoppmPath, runner)),
		Summarizer: summarizer,
		Speech:     ai.NewSarvamTTS(cfg.TTSBaseURL, cfg.SarvamAPIKey),
		Avatar:     ai.NewAvatar(gen),
		Media:      toolkit,
		TempDir:    cfg.TempDir,
		Logger:     logger,
	}))

	exec := executor.New(jobs, pipelines, storage.NewLocal(cfg.StorageRoot), logger)
	sched := scheduler.New(jobs, exec, cfg.PollInterval, logger)

	logger.Info("scheduler configured",
		"db_driver", cfg.DBDriver,
		"interval", cfg.PollInterval,
		"generate_url", cfg.GenerateURL,
		"summarizer", cfg.SummarizerProvider,
	)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "err", err)
		return
	}
	logger.Info("scheduler shutting down")
}

// newSummarizer resolves the configured provider. A hosted provider without
// an API key resolves to nil.
func newSummarizer(ctx context.Context, cfg config.Config) (ai.Summarizer, error) {
	hosted := func(base string) ai.SummarizerFactory {
		return func(ctx context.Context, model string) (ai.Summarizer, error) {
			if cfg.SummarizerAPIKey == "" {
				return nil, ai.ErrNoCredentials
			}
			if cfg.SummarizerBaseURL != "" {
				base = cfg.SummarizerBaseURL
			}
			return ai.NewChatSummarizer(base, cfg.SummarizerAPIKey, model), nil
		}
	}

	reg := ai.NewRegistry()
	reg.Register("groq", hosted(ai.GroqBaseURL))
	reg.Register("openrouter", hosted(ai.OpenRouterBaseURL))
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Summarizer, error) {
		return ai.NewOllamaSummarizer(cfg.OllamaBaseURL, model), nil
	})
	return reg.Resolve(ctx, cfg.SummarizerProvider, cfg.SummarizerModel)
}
