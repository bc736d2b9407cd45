// Command translate_pdf translates a single local PDF without the job
// service: extract, OCR fallback, translate, rebuild.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pdf-translator/internal/config"
	"pdf-translator/internal/extract"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/ocr"
	"pdf-translator/internal/raster"
	"pdf-translator/internal/reconstruct"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/translate"
	"pdf-translator/internal/types"
)

var (
	inFlag     = flag.String("in", "", "input PDF path")
	outFlag    = flag.String("out", "", "output PDF path (default: <in>.translated.pdf)")
	sourceFlag = flag.String("source", "tr", "source language (tr or en)")
	targetFlag = flag.String("target", "en", "target language (tr or en)")
	configFlag = flag.String("config", "", "path to the configuration file")
)

func main() {
	flag.Parse()
	godotenv.Load()

	if *inFlag == "" {
		fmt.Println("Usage: translate_pdf -in <input.pdf> [-out <output.pdf>] [-source tr] [-target en]")
		os.Exit(1)
	}
	output := *outFlag
	if output == "" {
		output = strings.TrimSuffix(*inFlag, ".pdf") + ".translated.pdf"
	}

	mgr := config.NewManager(*configFlag)
	if err := mgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot load configuration: %v\n", err)
		os.Exit(1)
	}
	settings := mgr.Get()

	logger.Init(&logger.Config{Level: settings.LoggerLevel(), EnableConsole: true})
	defer logger.Close()

	if err := run(settings, *inFlag, output, *sourceFlag, *targetFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Translated PDF written to %s\n", output)
}

func run(settings *config.Settings, input, output, source, target string) error {
	pair, err := types.ParseLangPair(source, target)
	if err != nil {
		return err
	}

	ctx := context.Background()
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	policy := retry.DefaultPolicy(settings.MaxRetries)

	extractor := extract.NewExtractor(settings.MaxPages, settings.MaxFileBytes(), settings.TextDensityThreshold)
	doc, err := extractor.Inspect(input)
	if err != nil {
		return err
	}
	if err := extractor.ExtractText(doc); err != nil {
		return err
	}
	fmt.Printf("Pages: %d, text blocks: %d\n", doc.PageCount, len(doc.Blocks()))

	if pages := doc.OCRPages(); len(pages) > 0 {
		invoker := buildInvoker(settings, policy, timeout)
		if invoker == nil {
			fmt.Printf("Warning: %d page(s) need OCR but no OCR engine is usable\n", len(pages))
		} else {
			for _, page := range pages {
				if err := invoker.RecognizePage(ctx, page, input, pair.Source); err != nil {
					fmt.Printf("Warning: OCR failed on page %d: %v\n", page.Number, err)
				}
			}
		}
	}

	blocks := doc.Blocks()
	if len(blocks) == 0 {
		return types.NewAppError(types.ErrOCRFailed, "no readable text in document", nil)
	}

	primary, fallback, err := buildProviders(settings, timeout)
	if err != nil {
		return err
	}
	batcher := translate.NewBatcher(translate.BatcherConfig{
		Primary:                primary,
		Fallback:               fallback,
		ContextWindow:          settings.ContextWindow,
		Concurrency:            settings.ProviderConcurrency,
		Policy:                 policy,
		LowConfidenceThreshold: settings.LowConfidenceThreshold,
	})
	stats, err := batcher.TranslateBlocks(ctx, blocks, pair)
	if err != nil {
		return err
	}
	fmt.Printf("Translated %d block(s), %d degraded\n", stats.Succeeded, stats.Degraded)

	builder := reconstruct.NewBuilder(settings.FontPath, settings.FontName)
	data, buildStats, err := builder.Build(doc)
	if err != nil {
		return err
	}
	if buildStats.ClippedBlocks > 0 {
		fmt.Printf("Warning: %d block(s) clipped to fit their boxes\n", buildStats.ClippedBlocks)
	}
	return os.WriteFile(output, data, 0644)
}

func buildProviders(settings *config.Settings, timeout time.Duration) (translate.Provider, translate.Provider, error) {
	var primary translate.Provider
	switch settings.Provider {
	case "openai":
		if settings.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("no OpenAI API key configured, set OPENAI_API_KEY")
		}
		p, err := translate.NewEinoProvider(context.Background(), translate.EinoConfig{
			APIKey:  settings.OpenAIAPIKey,
			BaseURL: settings.OpenAIBaseURL,
			Model:   settings.TranslateModel,
			Timeout: timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		primary = p
	case "openrouter":
		if settings.OpenRouterAPIKey == "" {
			return nil, nil, fmt.Errorf("no OpenRouter API key configured, set OPENROUTER_API_KEY")
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

func buildInvoker(settings *config.Settings, policy retry.Policy, timeout time.Duration) *ocr.Invoker {
	if !raster.Available() {
		return nil
	}
	var provider ocr.Provider
	switch settings.OCREngine {
	case "tesseract":
		provider = ocr.NewTesseractProvider()
	case "openrouter":
		if settings.OpenRouterAPIKey == "" {
			return nil
		}
		provider = ocr.NewOpenRouterProvider(
			settings.OpenRouterBaseURL, settings.OpenRouterAPIKey, settings.OCRModel, timeout)
	default:
		return nil
	}
	renderer := raster.NewRenderer(settings.RenderDPI, settings.MaxRenderDim)
	return ocr.NewInvoker(renderer, provider, policy, settings.RenderDPI, settings.OCRMinConfidence)
}
