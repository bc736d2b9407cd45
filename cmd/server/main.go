package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"pdf-translator/internal/config"
	"pdf-translator/internal/extract"
	"pdf-translator/internal/httpapi"
	"pdf-translator/internal/job"
	"pdf-translator/internal/ledger"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/ocr"
	"pdf-translator/internal/raster"
	"pdf-translator/internal/reconstruct"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/store"
	"pdf-translator/internal/translate"
)

var configFlag = flag.String("config", "", "path to the configuration file")

// reconstructorAdapter narrows reconstruct.BuildStats to the counter the
// orchestrator records on the job.
type reconstructorAdapter struct {
	builder *reconstruct.Builder
}

func (a reconstructorAdapter) Build(doc *extract.Document) ([]byte, job.BuildResult, error) {
	data, stats, err := a.builder.Build(doc)
	return data, job.BuildResult{ClippedBlocks: stats.ClippedBlocks}, err
}

func main() {
	flag.Parse()
	godotenv.Load()

	mgr := config.NewManager(*configFlag)
	if err := mgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot load configuration: %v\n", err)
		os.Exit(1)
	}
	settings := mgr.Get()

	if err := logger.Init(&logger.Config{
		LogFilePath:   settings.LogFilePath,
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         settings.LoggerLevel(),
		EnableConsole: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(settings); err != nil {
		logger.Error("server exited with error", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(settings *config.Settings) error {
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", settings.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	jobStore, err := job.NewStore(db)
	if err != nil {
		return err
	}
	creditLedger, err := ledger.NewLedger(db)
	if err != nil {
		return err
	}
	cache, err := translate.NewCache(db)
	if err != nil {
		return err
	}
	artifacts, err := store.NewArtifacts(settings.UploadDir(), settings.OutputDir())
	if err != nil {
		return err
	}

	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	policy := retry.DefaultPolicy(settings.MaxRetries)

	primary, fallback, err := buildTranslationProviders(settings, timeout)
	if err != nil {
		return err
	}
	batcher := translate.NewBatcher(translate.BatcherConfig{
		Primary:                primary,
		Fallback:               fallback,
		Cache:                  cache,
		ContextWindow:          settings.ContextWindow,
		Concurrency:            settings.ProviderConcurrency,
		Policy:                 policy,
		LowConfidenceThreshold: settings.LowConfidenceThreshold,
	})

	invoker := buildOCRInvoker(settings, policy, timeout)

	extractor := extract.NewExtractor(settings.MaxPages, settings.MaxFileBytes(), settings.TextDensityThreshold)
	builder := reconstruct.NewBuilder(settings.FontPath, settings.FontName)

	orchCfg := job.OrchestratorConfig{
		Store:          jobStore,
		Ledger:         creditLedger,
		Artifacts:      artifacts,
		Extractor:      extractor,
		Translator:     batcher,
		Reconstructor:  reconstructorAdapter{builder: builder},
		Workers:        settings.Workers,
		OCRConcurrency: settings.ProviderConcurrency,
		Retention:      time.Duration(settings.RetentionHours) * time.Hour,
		MaxUploadBytes: settings.MaxFileBytes(),
	}
	if invoker != nil {
		orchCfg.OCR = invoker
	}
	orch := job.NewOrchestrator(orchCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	if err := orch.Resume(); err != nil {
		logger.Warn("failed to resume interrupted jobs", logger.Err(err))
	}

	go sweepLoop(ctx, orch, cache)

	api := httpapi.NewServer(orch, jobStore, creditLedger, artifacts, settings.AdminToken)
	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logger.String("addr", settings.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logger.Err(err))
	}
	orch.Wait()
	return nil
}

// buildTranslationProviders selects the primary chat model per the
// configured provider. The fallback model always runs through OpenRouter
// so a degraded primary can switch model families.
func buildTranslationProviders(settings *config.Settings, timeout time.Duration) (translate.Provider, translate.Provider, error) {
	var primary translate.Provider
	switch settings.Provider {
	case "openai":
		if settings.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("provider is openai but no OpenAI API key is configured")
		}
		p, err := translate.NewEinoProvider(context.Background(), translate.EinoConfig{
			APIKey:  settings.OpenAIAPIKey,
			BaseURL: settings.OpenAIBaseURL,
			Model:   settings.TranslateModel,
			Timeout: timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create openai provider: %w", err)
		}
		primary = p
	case "openrouter":
		if settings.OpenRouterAPIKey == "" {
			return nil, nil, fmt.Errorf("provider is openrouter but no OpenRouter API key is configured")
		}
		primary = translate.NewOpenRouterProvider(
			settings.OpenRouterBaseURL, settings.OpenRouterAPIKey, settings.TranslateModel, timeout)
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", settings.Provider)
	}

	var fallback translate.Provider
	if settings.FallbackModel != "" && settings.OpenRouterAPIKey != "" {
		fallback = translate.NewOpenRouterProvider(
			settings.OpenRouterBaseURL, settings.OpenRouterAPIKey, settings.FallbackModel, timeout)
	}
	return primary, fallback, nil
}

// buildOCRInvoker wires the OCR fallback. Returns nil when no engine is
// usable; scanned pages then surface as warnings instead of text.
func buildOCRInvoker(settings *config.Settings, policy retry.Policy, timeout time.Duration) *ocr.Invoker {
	if !raster.Available() {
		logger.Warn("pdftoppm not found, OCR fallback disabled")
		return nil
	}

	var provider ocr.Provider
	switch settings.OCREngine {
	case "tesseract":
		provider = ocr.NewTesseractProvider()
	case "openrouter":
		if settings.OpenRouterAPIKey == "" {
			logger.Warn("no OpenRouter API key, OCR fallback disabled")
			return nil
		}
		provider = ocr.NewOpenRouterProvider(
			settings.OpenRouterBaseURL, settings.OpenRouterAPIKey, settings.OCRModel, timeout)
	default:
		logger.Warn("unknown OCR engine, OCR fallback disabled", logger.String("engine", settings.OCREngine))
		return nil
	}

	renderer := raster.NewRenderer(settings.RenderDPI, settings.MaxRenderDim)
	return ocr.NewInvoker(renderer, provider, policy, settings.RenderDPI, settings.OCRMinConfidence)
}

// sweepLoop periodically expires old completed jobs and prunes stale
// cache entries.
func sweepLoop(ctx context.Context, orch *job.Orchestrator, cache *translate.Cache) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := orch.SweepExpired(); err != nil {
				logger.Warn("expiry sweep failed", logger.Err(err))
			} else if n > 0 {
				logger.Info("expired jobs swept", logger.Int("count", n))
			}
			if n, err := cache.Prune(7 * 24 * time.Hour); err != nil {
				logger.Warn("cache prune failed", logger.Err(err))
			} else if n > 0 {
				logger.Info("cache entries pruned", logger.Int64("count", n))
			}
		}
	}
}
