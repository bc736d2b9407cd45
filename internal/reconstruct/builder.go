package reconstruct

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/signintech/gopdf"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// boxPadding widens the white cover slightly past the block box so no
// source glyph fringes survive.
const boxPadding = 1.0

// clipMarkSize is the edge length of the red corner tick drawn on blocks
// whose text had to be clipped.
const clipMarkSize = 4.0

// Builder writes the translated PDF.
type Builder struct {
	fontPath string
	fontName string
}

// NewBuilder creates a Builder. The font must be a TTF covering the target
// language's glyphs, Turkish included.
func NewBuilder(fontPath, fontName string) *Builder {
	return &Builder{fontPath: fontPath, fontName: fontName}
}

// BuildStats summarizes one reconstruction run.
type BuildStats struct {
	PlacedBlocks  int
	ClippedBlocks int
	ShrunkBlocks  int
}

// Build renders the translated document. Source pages are imported as
// page templates, so graphics, images and untranslated regions survive
// untouched.
func (b *Builder) Build(doc *extract.Document) ([]byte, BuildStats, error) {
	var stats BuildStats

	src, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, stats, types.NewAppError(types.ErrReconstruction, "cannot read source PDF", err)
	}

	pdf := &gopdf.GoPdf{}
	first := doc.Pages[0]
	pdf.Start(gopdf.Config{
		Unit:     gopdf.UnitPT,
		PageSize: gopdf.Rect{W: first.Width, H: first.Height},
	})

	if err := pdf.AddTTFFont(b.fontName, b.fontPath); err != nil {
		return nil, stats, types.NewAppError(types.ErrReconstruction, "cannot load output font", err)
	}

	for _, page := range doc.Pages {
		var rs io.ReadSeeker = bytes.NewReader(src)
		tpl := pdf.ImportPageStream(&rs, page.Number, "/MediaBox")
		if tpl <= 0 {
			return nil, stats, types.NewAppErrorWithDetails(types.ErrReconstruction,
				"cannot import source page", fmt.Sprintf("page %d", page.Number), nil)
		}

		pdf.AddPageWithOption(gopdf.PageOption{
			PageSize: &gopdf.Rect{W: page.Width, H: page.Height},
		})
		pdf.UseImportedTemplate(tpl, 0, 0, page.Width, page.Height)

		for _, blk := range page.Blocks {
			if blk.Translated == "" {
				continue
			}
			if err := b.placeBlock(pdf, page, blk, &stats); err != nil {
				return nil, stats, err
			}
		}
	}

	out, err := pdf.GetBytesPdfReturnErr()
	if err != nil {
		return nil, stats, types.NewAppError(types.ErrReconstruction, "failed to serialize output PDF", err)
	}

	logger.Info("document reconstructed",
		logger.Int("pages", len(doc.Pages)),
		logger.Int("placed", stats.PlacedBlocks),
		logger.Int("shrunk", stats.ShrunkBlocks),
		logger.Int("clipped", stats.ClippedBlocks))
	return out, stats, nil
}

// placeBlock covers the source block and draws the translated text fitted
// into the same box.
func (b *Builder) placeBlock(pdf *gopdf.GoPdf, page *extract.Page, blk *extract.Block, stats *BuildStats) error {
	boxW := clampf(blk.Width, 1, page.Width-blk.X)
	boxH := clampf(blk.Height, 1, page.Height-blk.Y)

	pdf.SetFillColor(255, 255, 255)
	pdf.RectFromUpperLeftWithStyle(
		clampf(blk.X-boxPadding, 0, page.Width),
		clampf(blk.Y-boxPadding, 0, page.Height),
		boxW+2*boxPadding, boxH+2*boxPadding, "F")

	measure := func(text string, fontSize float64) (float64, error) {
		if err := pdf.SetFont(b.fontName, "", fontSize); err != nil {
			return 0, err
		}
		return pdf.MeasureTextWidth(text)
	}

	fit, err := fitText(blk.Translated, boxW, boxH, blk.FontSize, measure)
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrReconstruction,
			"failed to fit block text", blk.ID, err)
	}

	if err := pdf.SetFont(b.fontName, "", fit.FontSize); err != nil {
		return types.NewAppError(types.ErrReconstruction, "failed to set font", err)
	}
	pdf.SetTextColor(0, 0, 0)

	y := blk.Y
	for _, line := range fit.Lines {
		pdf.SetXY(blk.X, y)
		if err := pdf.Cell(nil, line); err != nil {
			return types.NewAppErrorWithDetails(types.ErrReconstruction,
				"failed to draw text", blk.ID, err)
		}
		y += fit.FontSize * lineSpacing
	}

	stats.PlacedBlocks++
	if fit.FontSize < blk.FontSize {
		stats.ShrunkBlocks++
	}
	if fit.Clipped {
		stats.ClippedBlocks++
		drawClipMarker(pdf, blk.X, blk.Y, boxW)
		logger.Debug("block text clipped",
			logger.String("blockID", blk.ID),
			logger.Float64("fontSize", fit.FontSize))
	}
	return nil
}

// drawClipMarker ticks the top-right corner of a block whose text was cut
// to fit, so dropped lines are never invisible in the output.
func drawClipMarker(pdf *gopdf.GoPdf, x, y, boxW float64) {
	mx := x + boxW - clipMarkSize
	if mx < 0 {
		mx = 0
	}
	pdf.SetFillColor(200, 30, 30)
	pdf.RectFromUpperLeftWithStyle(mx, y, clipMarkSize, clipMarkSize, "F")
	pdf.SetFillColor(255, 255, 255)
}

func clampf(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
