package ocr

import (
	"context"
	"fmt"
	"strings"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/types"
)

// PageRenderer renders one PDF page to PNG bytes.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageNum int) ([]byte, error)
}

// Invoker runs the OCR fallback for pages without a usable text layer.
type Invoker struct {
	renderer      PageRenderer
	provider      Provider
	policy        retry.Policy
	dpi           int
	minConfidence float64
}

// NewInvoker creates an Invoker. dpi must match the renderer's DPI so that
// pixel coordinates can be converted back to points. Spans below
// minConfidence are dropped.
func NewInvoker(renderer PageRenderer, provider Provider, policy retry.Policy, dpi int, minConfidence float64) *Invoker {
	return &Invoker{
		renderer:      renderer,
		provider:      provider,
		policy:        policy,
		dpi:           dpi,
		minConfidence: minConfidence,
	}
}

// RecognizePage renders the page, recognizes its text and fills the page
// with OCR-sourced blocks. When no usable spans come back the page is left
// empty and ErrOCRFailed is returned; callers treat this as a per-page
// warning. Non-transient provider errors keep their own code so callers
// can fail the job instead of degrading every page.
func (iv *Invoker) RecognizePage(ctx context.Context, page *extract.Page, pdfPath, lang string) error {
	png, err := iv.renderer.RenderPage(ctx, pdfPath, page.Number)
	if err != nil {
		return types.NewAppError(types.ErrOCRFailed,
			fmt.Sprintf("failed to render page %d", page.Number), err)
	}

	var spans []Span
	err = iv.policy.Do(ctx, fmt.Sprintf("ocr page %d", page.Number), func(ctx context.Context) error {
		var rErr error
		spans, rErr = iv.provider.RecognizePage(ctx, png, lang)
		return rErr
	})
	if err != nil {
		// Transient exhaustion degrades the page; a broken provider
		// (bad key, invalid request, misconfiguration) must fail the
		// whole job, so those codes pass through untouched.
		switch types.CodeOf(err) {
		case types.ErrProvider, types.ErrConfig:
			return err
		}
		return types.NewAppError(types.ErrOCRFailed,
			fmt.Sprintf("OCR failed for page %d", page.Number), err)
	}

	usable := filterSpans(spans, iv.minConfidence)
	if len(usable) == 0 {
		logger.Warn("OCR produced no usable spans",
			logger.Int("page", page.Number),
			logger.Int("raw", len(spans)),
			logger.String("provider", iv.provider.Name()))
		return types.NewAppError(types.ErrOCRFailed,
			fmt.Sprintf("no usable text recognized on page %d", page.Number), nil)
	}

	normalizeSpans(usable, page.Width, page.Height, iv.dpi)
	page.Blocks = spansToBlocks(usable, page)
	page.CharCount = 0
	for _, b := range page.Blocks {
		page.CharCount += len(strings.ReplaceAll(b.Text, " ", ""))
	}

	logger.Info("page recognized via OCR",
		logger.Int("page", page.Number),
		logger.Int("blocks", len(page.Blocks)),
		logger.String("provider", iv.provider.Name()))
	return nil
}

// filterSpans drops empty spans and spans below the confidence floor.
func filterSpans(spans []Span, minConfidence float64) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Confidence < minConfidence {
			continue
		}
		out = append(out, s)
	}
	return out
}

// normalizeSpans converts pixel coordinates to page points in place. Spans
// already in point space pass through unchanged; the heuristic treats
// extents beyond 1.25x the page size as pixel coordinates at the render
// DPI.
func normalizeSpans(spans []Span, pageW, pageH float64, dpi int) {
	if len(spans) == 0 || pageW <= 0 || pageH <= 0 || dpi <= 0 {
		return
	}

	var maxX, maxY float64
	for _, s := range spans {
		if s.X1 > maxX {
			maxX = s.X1
		}
		if s.Y1 > maxY {
			maxY = s.Y1
		}
	}
	if maxX <= pageW*1.25 && maxY <= pageH*1.25 {
		return
	}

	scale := 72.0 / float64(dpi)
	for i := range spans {
		spans[i].X0 *= scale
		spans[i].Y0 *= scale
		spans[i].X1 *= scale
		spans[i].Y1 *= scale
	}
}

// spansToBlocks converts normalized spans into page blocks. Font size is
// estimated from the span height.
func spansToBlocks(spans []Span, page *extract.Page) []*extract.Block {
	blocks := make([]*extract.Block, 0, len(spans))
	for i, s := range spans {
		h := s.Y1 - s.Y0
		fontSize := h * 0.8
		if fontSize < 6 {
			fontSize = 6
		}
		if fontSize > 20 {
			fontSize = 20
		}
		blocks = append(blocks, &extract.Block{
			ID:         fmt.Sprintf("p%d_ocr%d", page.Number, i+1),
			Page:       page.Number,
			Text:       strings.TrimSpace(s.Text),
			X:          s.X0,
			Y:          s.Y0,
			Width:      s.X1 - s.X0,
			Height:     h,
			FontSize:   fontSize,
			Source:     extract.SourceOCR,
			Confidence: s.Confidence,
		})
	}
	return blocks
}
