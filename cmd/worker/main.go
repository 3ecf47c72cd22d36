package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/audio"
	"github.com/stillloop/mantra/internal/config"
	"github.com/stillloop/mantra/internal/database"
	"github.com/stillloop/mantra/internal/events"
	"github.com/stillloop/mantra/internal/jobs"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/orchestrator"
	"github.com/stillloop/mantra/internal/stitch"
	"github.com/stillloop/mantra/internal/storage"
	"github.com/stillloop/mantra/internal/tts"
	"github.com/stillloop/mantra/internal/voicetrack"
	"github.com/stillloop/mantra/migrations"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting Mantra worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(ctx, db.DB); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	runner := audio.NewRunner(cfg.FFmpegPath)
	if !runner.Available() {
		log.Fatal().Str("path", cfg.FFmpegPath).Msg("ffmpeg not found")
	}

	workDir := filepath.Join(cfg.WorkDir, "mantra")
	cacheDir := filepath.Join(workDir, "cache")
	outDir := filepath.Join(workDir, "tracks")
	for _, dir := range []string{cacheDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create work directory")
		}
	}

	var uploader orchestrator.Uploader
	if cfg.S3AccessKey != "" {
		client, err := storage.NewClient(
			cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3PublicURL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize storage client")
		}
		uploader = client
	} else {
		log.Warn().Msg("S3 not configured, merged tracks stay local")
	}

	var publisher jobs.EventPublisher
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
		defer producer.Close()
		publisher = producer
	}

	provider := buildProvider(ctx, cfg)
	log.Info().Str("provider", provider.Name()).Msg("TTS provider configured")

	textgen := buildTextGenerator(ctx, cfg)

	sessionRepo := database.NewSessionRepository(db)
	assetRepo := database.NewAssetRepository(db)
	jobRepo := database.NewJobRepository(db)

	orch := orchestrator.New(
		sessionRepo,
		assetRepo,
		provider,
		textgen,
		stitch.NewPipeline(runner, outDir),
		voicetrack.NewExtractor(runner),
		runner,
		uploader,
		orchestrator.Config{
			CacheDir:            cacheDir,
			AffirmationsPerPlan: cfg.AffirmationsPerPlan,
			MaxConcurrentTTS:    cfg.MaxConcurrentTTS,
		},
	)

	worker := jobs.NewWorker(jobRepo, jobs.WorkerConfig{
		PollInterval:  cfg.WorkerPollInterval,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		StaleAfter:    cfg.JobStaleAfter,
	}, publisher)
	worker.Register(models.JobTypeEnsureAudio, orch)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Worker failed")
	}
	log.Info().Msg("Worker exited")
}

// buildProvider assembles the synthesis chain: the configured provider first,
// any other configured providers as fallbacks, the deterministic tone
// generator last so a chunk is always produced.
func buildProvider(ctx context.Context, cfg *config.Config) tts.Provider {
	var chain []tts.Provider

	order := []string{cfg.TTSProvider, "elevenlabs", "gemini", "openai"}
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "elevenlabs":
			if cfg.ElevenLabsAPIKey != "" {
				chain = append(chain, tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
					APIKey:  cfg.ElevenLabsAPIKey,
					BaseURL: cfg.ElevenLabsBaseURL,
					ModelID: cfg.ElevenLabsModelID,
				}))
			}
		case "gemini":
			if cfg.GeminiAPIKey != "" {
				p, err := tts.NewGeminiProvider(ctx, tts.GeminiConfig{
					APIKey: cfg.GeminiAPIKey,
					Model:  cfg.GeminiModelTTS,
				})
				if err != nil {
					log.Warn().Err(err).Msg("Gemini TTS unavailable, skipping")
					continue
				}
				chain = append(chain, p)
			}
		case "openai":
			if cfg.OpenAIAPIKey != "" {
				chain = append(chain, tts.NewOpenAIProvider(tts.OpenAIConfig{
					APIKey: cfg.OpenAIAPIKey,
					Model:  cfg.OpenAIModelTTS,
				}))
			}
		}
	}

	chain = append(chain, tts.NewToneProvider())
	if len(chain) == 1 {
		return chain[0]
	}
	return tts.NewFailoverProvider(chain...)
}

func buildTextGenerator(ctx context.Context, cfg *config.Config) orchestrator.TextGenerator {
	if cfg.TextGenAPIKey != "" {
		gen, err := orchestrator.NewLLMGenerator(ctx, cfg.TextGenAPIKey, cfg.TextGenModel)
		if err == nil {
			return gen
		}
		log.Warn().Err(err).Msg("LLM text generator unavailable, using templates")
	}
	return orchestrator.TemplateGenerator{}
}
