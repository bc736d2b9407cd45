package translate

import (
	"context"
	"strings"
	"testing"
	"time"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/types"
)

func testPair(t *testing.T) types.LangPair {
	t.Helper()
	pair, err := types.ParseLangPair("tr", "en")
	if err != nil {
		t.Fatal(err)
	}
	return pair
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
}

// echoProvider "translates" by prefixing each block with a marker, keeping
// separators intact.
type echoProvider struct {
	name  string
	calls int
	fail  error
}

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) Complete(ctx context.Context, system, user string) (string, error) {
	p.calls++
	if p.fail != nil {
		return "", p.fail
	}
	// The payload is the last section of the user prompt.
	idx := strings.Index(user, "\n\n")
	payload := user[idx+2:]
	parts := strings.Split(payload, BatchSeparator)
	for i := range parts {
		parts[i] = "TX:" + parts[i]
	}
	return strings.Join(parts, BatchSeparator), nil
}

// garbageProvider returns output with no separators.
type garbageProvider struct{ calls int }

func (p *garbageProvider) Name() string { return "garbage" }

func (p *garbageProvider) Complete(ctx context.Context, system, user string) (string, error) {
	p.calls++
	return "one merged blob of text", nil
}

func blockSet(texts ...string) []*extract.Block {
	blocks := make([]*extract.Block, len(texts))
	for i, s := range texts {
		blocks[i] = &extract.Block{ID: "b" + string(rune('1'+i)), Page: 1, Text: s}
	}
	return blocks
}

func TestMergeBatchesBounded(t *testing.T) {
	b := NewBatcher(BatcherConfig{Primary: &echoProvider{}, ContextWindow: 50, Policy: fastPolicy()})

	blocks := blockSet(
		strings.Repeat("a", 20),
		strings.Repeat("b", 20),
		strings.Repeat("c", 20),
		strings.Repeat("d", 60), // oversized, own batch
		strings.Repeat("e", 10),
	)
	batches := b.MergeBatches(blocks)

	total := 0
	for _, batch := range batches {
		size := len(batchText(batch))
		if len(batch) > 1 && size > 50 {
			t.Errorf("batch size %d exceeds window", size)
		}
		total += len(batch)
	}
	if total != len(blocks) {
		t.Errorf("blocks across batches = %d, want %d", total, len(blocks))
	}
	// Oversized block is alone.
	for _, batch := range batches {
		for _, blk := range batch {
			if len(blk.Text) == 60 && len(batch) != 1 {
				t.Error("oversized block must be in its own batch")
			}
		}
	}
}

func TestSplitTranslated(t *testing.T) {
	sep := BatchSeparator
	tests := []struct {
		name     string
		content  string
		expected int
		want     []string
	}{
		{"exact", "one" + sep + "two", 2, []string{"one", "two"}},
		{"trimmed separator", "one\n---BLOCK_SEPARATOR---\ntwo", 2, []string{"one", "two"}},
		{"short pads", "one", 3, []string{"one", "", ""}},
		{"long merges tail", "a" + sep + "b" + sep + "c", 2, []string{"a", "b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitTranslated(tt.content, tt.expected)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("part[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStructuralConfidence(t *testing.T) {
	tests := []struct {
		name     string
		parts    []string
		rawCount int
		expected int
		want     float64
	}{
		{"perfect", []string{"a", "b"}, 2, 2, 1.0},
		{"one empty", []string{"a", ""}, 2, 2, 0.5},
		{"count mismatch", []string{"a", "b"}, 1, 2, 0.5},
		{"empty batch", nil, 0, 0, 1.0},
	}
	for _, tt := range tests {
		if got := structuralConfidence(tt.parts, tt.rawCount, tt.expected); got != tt.want {
			t.Errorf("%s: confidence = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTranslateBlocksPreservesOrderAndCount(t *testing.T) {
	b := NewBatcher(BatcherConfig{Primary: &echoProvider{name: "echo"}, Policy: fastPolicy()})
	blocks := blockSet("Merhaba", "dünya", "nasılsın")

	stats, err := b.TranslateBlocks(context.Background(), blocks, testPair(t))
	if err != nil {
		t.Fatalf("TranslateBlocks: %v", err)
	}
	if stats.Succeeded != 3 || stats.Degraded != 0 {
		t.Errorf("stats = %+v", stats)
	}
	want := []string{"TX:Merhaba", "TX:dünya", "TX:nasılsın"}
	for i, blk := range blocks {
		if blk.Translated != want[i] {
			t.Errorf("block %d translated = %q, want %q", i, blk.Translated, want[i])
		}
		if blk.ErrorTag != "" {
			t.Errorf("block %d unexpectedly tagged: %q", i, blk.ErrorTag)
		}
	}
}

func TestTranslateBlocksSkipsEmptyBlocks(t *testing.T) {
	b := NewBatcher(BatcherConfig{Primary: &echoProvider{}, Policy: fastPolicy()})
	blocks := []*extract.Block{
		{ID: "b1", Text: "metin"},
		{ID: "b2", Text: "   "},
	}
	stats, err := b.TranslateBlocks(context.Background(), blocks, testPair(t))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if blocks[1].Translated != "" {
		t.Error("empty block must not be translated")
	}
}

func TestTranslateBlocksFallbackOnLowConfidence(t *testing.T) {
	primary := &garbageProvider{}
	fallback := &echoProvider{name: "fallback"}
	b := NewBatcher(BatcherConfig{
		Primary:                primary,
		Fallback:               fallback,
		Policy:                 fastPolicy(),
		LowConfidenceThreshold: 0.6,
	})

	blocks := blockSet("bir", "iki", "üç")
	stats, err := b.TranslateBlocks(context.Background(), blocks, testPair(t))
	if err != nil {
		t.Fatalf("TranslateBlocks: %v", err)
	}
	if fallback.calls == 0 {
		t.Error("fallback model was never consulted")
	}
	if stats.Succeeded != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if blocks[0].Translated != "TX:bir" {
		t.Errorf("block 0 = %q", blocks[0].Translated)
	}
}

func TestTranslateBlocksDegradesToSourceText(t *testing.T) {
	fatal := types.NewAppError(types.ErrProvider, "invalid api key", nil)
	b := NewBatcher(BatcherConfig{Primary: &echoProvider{fail: fatal}, Policy: fastPolicy()})

	blocks := blockSet("bir", "iki")
	_, err := b.TranslateBlocks(context.Background(), blocks, testPair(t))
	if err == nil {
		t.Fatal("expected error when no block translates")
	}
	if types.CodeOf(err) != types.ErrTranslationFailed {
		t.Errorf("code = %v", types.CodeOf(err))
	}
	for _, blk := range blocks {
		if blk.Translated != blk.Text {
			t.Errorf("degraded block should keep source text, got %q", blk.Translated)
		}
		if blk.ErrorTag != ErrorTagTranslationFailed {
			t.Errorf("ErrorTag = %q", blk.ErrorTag)
		}
	}
}

func TestTranslateBlocksEmptyInput(t *testing.T) {
	b := NewBatcher(BatcherConfig{Primary: &echoProvider{}, Policy: fastPolicy()})
	stats, err := b.TranslateBlocks(context.Background(), nil, testPair(t))
	if err != nil {
		t.Fatalf("TranslateBlocks: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
