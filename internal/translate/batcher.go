package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/types"
)

// BatchSeparator delimits block texts inside one model request.
const BatchSeparator = "\n---BLOCK_SEPARATOR---\n"

// DefaultContextWindow is the default batch size limit in characters.
const DefaultContextWindow = 4000

// DefaultConcurrency is the default number of concurrent batch requests.
const DefaultConcurrency = 3

// ErrorTagTranslationFailed marks a block that kept its source text after
// translation failed for it.
const ErrorTagTranslationFailed = "TRANSLATION_FAILED"

// Batcher groups blocks into batches bounded by the context window and
// translates them concurrently.
type Batcher struct {
	primary       Provider
	fallback      Provider
	cache         *Cache
	contextWindow int
	concurrency   int
	policy        retry.Policy
	lowConfidence float64
}

// BatcherConfig configures a Batcher. Fallback and Cache are optional.
type BatcherConfig struct {
	Primary                Provider
	Fallback               Provider
	Cache                  *Cache
	ContextWindow          int
	Concurrency            int
	Policy                 retry.Policy
	LowConfidenceThreshold float64
}

// NewBatcher creates a Batcher, applying defaults for zero values.
func NewBatcher(cfg BatcherConfig) *Batcher {
	cw := cfg.ContextWindow
	if cw <= 0 {
		cw = DefaultContextWindow
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	policy := cfg.Policy
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy(3)
	}
	return &Batcher{
		primary:       cfg.Primary,
		fallback:      cfg.Fallback,
		cache:         cfg.Cache,
		contextWindow: cw,
		concurrency:   conc,
		policy:        policy,
		lowConfidence: cfg.LowConfidenceThreshold,
	}
}

// Stats summarizes one translation run.
type Stats struct {
	Total     int // blocks with text
	FromCache int // served from the cache
	Succeeded int // translated in this run
	Degraded  int // kept source text with an error tag
}

// TranslateBlocks translates every block in place, preserving block count
// and order. Individual failures degrade the block to its source text and
// tag it; the call fails only when not a single block could be translated.
func (b *Batcher) TranslateBlocks(ctx context.Context, blocks []*extract.Block, pair types.LangPair) (Stats, error) {
	var stats Stats
	var pending []*extract.Block

	for _, blk := range blocks {
		if strings.TrimSpace(blk.Text) == "" {
			continue
		}
		stats.Total++
		if b.cache != nil {
			if hit, ok := b.cache.Get(pair.Source, pair.Target, blk.Text); ok {
				blk.Translated = hit
				stats.FromCache++
				continue
			}
		}
		pending = append(pending, blk)
	}

	if len(pending) == 0 {
		return stats, nil
	}

	batches := b.MergeBatches(pending)
	logger.Info("starting batch translation",
		logger.Int("blocks", len(pending)),
		logger.Int("batches", len(batches)),
		logger.Int("contextWindow", b.contextWindow),
		logger.String("provider", b.primary.Name()))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			ok, degraded := b.translateBatch(gctx, batch, pair)
			mu.Lock()
			stats.Succeeded += ok
			stats.Degraded += degraded
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if stats.Succeeded == 0 && stats.FromCache == 0 {
		return stats, types.NewAppError(types.ErrTranslationFailed,
			"no block could be translated", nil)
	}

	logger.Info("batch translation completed",
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("fromCache", stats.FromCache),
		logger.Int("degraded", stats.Degraded))
	return stats, nil
}

// translateBatch translates one batch, consulting the fallback model when
// the primary output looks structurally unreliable. Returns the number of
// blocks translated and the number degraded.
func (b *Batcher) translateBatch(ctx context.Context, batch []*extract.Block, pair types.LangPair) (ok, degraded int) {
	payload := batchText(batch)
	system := buildSystemPrompt(pair)
	user := buildUserPrompt(payload, pair)

	parts, conf, err := b.completeAndSplit(ctx, b.primary, system, user, len(batch))
	if (err != nil || conf < b.lowConfidence) && b.fallback != nil {
		logger.Warn("primary translation unreliable, trying fallback model",
			logger.Float64("confidence", conf),
			logger.String("fallback", b.fallback.Name()),
			logger.Err(err))
		fbParts, fbConf, fbErr := b.completeAndSplit(ctx, b.fallback, system, user, len(batch))
		if fbErr == nil && (err != nil || fbConf > conf) {
			parts, conf, err = fbParts, fbConf, nil
		}
	}

	if err != nil {
		// Whole batch failed. Degrade to per-block translation so one bad
		// batch does not poison its neighbors.
		logger.Warn("batch translation failed, degrading to per-block translation",
			logger.Int("blocks", len(batch)), logger.Err(err))
		return b.translateIndividually(ctx, batch, pair)
	}

	for i, blk := range batch {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			blk.Translated = blk.Text
			blk.ErrorTag = ErrorTagTranslationFailed
			degraded++
			continue
		}
		blk.Translated = part
		if b.cache != nil {
			b.cache.Put(pair.Source, pair.Target, blk.Text, part)
		}
		ok++
	}
	return ok, degraded
}

// translateIndividually translates each block on its own after a batch
// failure. Blocks that still fail keep their source text with an error tag.
func (b *Batcher) translateIndividually(ctx context.Context, batch []*extract.Block, pair types.LangPair) (ok, degraded int) {
	system := buildSystemPrompt(pair)
	for _, blk := range batch {
		var content string
		err := b.policy.Do(ctx, "translate block "+blk.ID, func(ctx context.Context) error {
			var cErr error
			content, cErr = b.primary.Complete(ctx, system, buildUserPrompt(blk.Text, pair))
			return cErr
		})
		if err != nil || strings.TrimSpace(content) == "" {
			logger.Warn("block translation failed, keeping source text",
				logger.String("blockID", blk.ID), logger.Err(err))
			blk.Translated = blk.Text
			blk.ErrorTag = ErrorTagTranslationFailed
			degraded++
			continue
		}
		blk.Translated = strings.TrimSpace(content)
		if b.cache != nil {
			b.cache.Put(pair.Source, pair.Target, blk.Text, blk.Translated)
		}
		ok++
	}
	return ok, degraded
}

// completeAndSplit runs one completion with retry and splits the output
// back into per-block parts with a structural confidence score.
func (b *Batcher) completeAndSplit(ctx context.Context, p Provider, system, user string, expected int) ([]string, float64, error) {
	var content string
	err := b.policy.Do(ctx, "translate batch", func(ctx context.Context) error {
		var cErr error
		content, cErr = p.Complete(ctx, system, user)
		return cErr
	})
	if err != nil {
		return nil, 0, err
	}

	rawCount := len(strings.Split(content, strings.TrimSpace(BatchSeparator)))
	parts := splitTranslated(content, expected)
	return parts, structuralConfidence(parts, rawCount, expected), nil
}

// MergeBatches groups blocks into batches whose combined text stays below
// the context window. Oversized blocks get a batch of their own. Every
// input block lands in exactly one batch, in order.
func (b *Batcher) MergeBatches(blocks []*extract.Block) [][]*extract.Block {
	if len(blocks) == 0 {
		return nil
	}

	var batches [][]*extract.Block
	var current []*extract.Block
	currentSize := 0
	separatorSize := len(BatchSeparator)

	for _, blk := range blocks {
		size := len(blk.Text)

		if size >= b.contextWindow {
			if len(current) > 0 {
				batches = append(batches, current)
				current = nil
				currentSize = 0
			}
			batches = append(batches, []*extract.Block{blk})
			continue
		}

		additional := size
		if len(current) > 0 {
			additional += separatorSize
		}
		if currentSize+additional > b.contextWindow {
			if len(current) > 0 {
				batches = append(batches, current)
			}
			current = []*extract.Block{blk}
			currentSize = size
		} else {
			current = append(current, blk)
			currentSize += additional
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// batchText joins a batch's texts with the separator.
func batchText(batch []*extract.Block) string {
	if len(batch) == 0 {
		return ""
	}
	texts := make([]string, len(batch))
	for i, blk := range batch {
		texts[i] = blk.Text
	}
	return strings.Join(texts, BatchSeparator)
}

// splitTranslated splits the model output on the separator and coerces the
// result to the expected count: short outputs are padded with empty parts,
// long ones merge the surplus into the last slot.
func splitTranslated(content string, expected int) []string {
	// Models sometimes drop the surrounding newlines of the separator.
	normalized := strings.ReplaceAll(content, strings.TrimSpace(BatchSeparator), BatchSeparator)
	parts := strings.Split(normalized, BatchSeparator)

	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) == expected {
		return parts
	}
	if len(parts) < expected {
		for len(parts) < expected {
			parts = append(parts, "")
		}
		return parts
	}

	result := make([]string, expected)
	copy(result, parts[:expected-1])
	result[expected-1] = strings.TrimSpace(strings.Join(parts[expected-1:], " "))
	return result
}

// structuralConfidence scores how trustworthy a split output is. Chat APIs
// return no real confidence, so the score is structural: did the separator
// count survive, and how many parts came back non-empty.
func structuralConfidence(parts []string, rawCount, expected int) float64 {
	if expected == 0 {
		return 1
	}
	nonEmpty := 0
	for _, p := range parts {
		if p != "" {
			nonEmpty++
		}
	}
	score := float64(nonEmpty) / float64(expected)
	if rawCount != expected {
		score *= 0.5
	}
	return score
}

func buildSystemPrompt(pair types.LangPair) string {
	return fmt.Sprintf(`You are a professional translator for documents extracted from PDFs.
Translate from %s to %s.

CRITICAL RULES:
1. Translate accurately and keep the register of the source text.
2. Preserve numbers, formulas, codes and proper names exactly.
3. Output only the translated text, no explanations.
4. The input may contain multiple blocks separated by "%s".
5. Preserve these separators in your output exactly as they appear.
6. Translate each block independently; never merge blocks or drop separators.`,
		pair.SourceName(), pair.TargetName(), BatchSeparator)
}

func buildUserPrompt(text string, pair types.LangPair) string {
	return fmt.Sprintf("Translate the following text from %s to %s. Keep all block separators intact.\n\n%s",
		pair.SourceName(), pair.TargetName(), text)
}
