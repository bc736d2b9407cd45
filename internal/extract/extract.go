package extract

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// Extractor validates PDFs and extracts their text layer.
type Extractor struct {
	maxPages         int
	maxFileBytes     int64
	densityThreshold int
}

// NewExtractor creates an Extractor with the acceptance limits and the
// per-page character threshold below which a page is sent to OCR.
func NewExtractor(maxPages int, maxFileBytes int64, densityThreshold int) *Extractor {
	return &Extractor{
		maxPages:         maxPages,
		maxFileBytes:     maxFileBytes,
		densityThreshold: densityThreshold,
	}
}

// Inspect validates the file and returns a Document with page geometry but
// no blocks yet. Encrypted, empty or over-limit files are rejected with
// ErrUnsupportedDocument.
func (e *Extractor) Inspect(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrNotFound, "input file not found", err)
	}
	if e.maxFileBytes > 0 && info.Size() > e.maxFileBytes {
		return nil, types.NewAppErrorWithDetails(types.ErrUnsupportedDocument,
			"file exceeds size limit", fmt.Sprintf("%d bytes", info.Size()), nil)
	}

	// pdfcpu rejects encrypted and malformed files here.
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrUnsupportedDocument, "cannot read PDF", err)
	}

	pageCount := ctx.PageCount
	if pageCount == 0 {
		return nil, types.NewAppError(types.ErrUnsupportedDocument, "PDF has no pages", nil)
	}
	if e.maxPages > 0 && pageCount > e.maxPages {
		return nil, types.NewAppErrorWithDetails(types.ErrUnsupportedDocument,
			"page count exceeds limit", fmt.Sprintf("%d pages", pageCount), nil)
	}

	dims, err := ctx.PageDims()
	if err != nil {
		return nil, types.NewAppError(types.ErrUnsupportedDocument, "cannot read page dimensions", err)
	}

	doc := &Document{
		Path:      path,
		PageCount: pageCount,
		FileSize:  info.Size(),
		Pages:     make([]*Page, 0, pageCount),
	}
	for i := 0; i < pageCount; i++ {
		p := &Page{Number: i + 1}
		if i < len(dims) {
			p.Width = dims[i].Width
			p.Height = dims[i].Height
		}
		doc.Pages = append(doc.Pages, p)
	}
	return doc, nil
}

// ExtractText fills the document's pages with text-layer blocks and
// classifies pages below the density threshold as needing OCR.
func (e *Extractor) ExtractText(doc *Document) error {
	f, r, err := pdf.Open(doc.Path)
	if err != nil {
		return types.NewAppError(types.ErrUnsupportedDocument, "cannot open PDF for extraction", err)
	}
	defer f.Close()

	for _, page := range doc.Pages {
		if page.Number > r.NumPage() {
			break
		}
		p := r.Page(page.Number)
		if p.V.IsNull() || p.V.Key("Contents").Kind() == pdf.Null {
			page.NeedsOCR = e.densityThreshold > 0
			continue
		}

		rows, err := p.GetTextByRow()
		if err != nil {
			logger.Warn("text extraction failed for page",
				logger.Int("page", page.Number), logger.Err(err))
			page.NeedsOCR = e.densityThreshold > 0
			continue
		}

		var blocks []*Block
		for _, row := range rows {
			b := mergeRow(row.Content, page)
			if b != nil {
				blocks = append(blocks, b)
			}
		}

		sortReadingOrder(blocks)
		for i, b := range blocks {
			b.ID = fmt.Sprintf("p%d_b%d", page.Number, i+1)
		}
		page.Blocks = blocks
		page.CharCount = countChars(blocks)
		page.NeedsOCR = page.CharCount < e.densityThreshold

		logger.Debug("page extracted",
			logger.Int("page", page.Number),
			logger.Int("blocks", len(blocks)),
			logger.Int("chars", page.CharCount),
			logger.Bool("needsOCR", page.NeedsOCR))
	}
	return nil
}

// mergeRow merges one text row into a Block, converting the PDF
// bottom-left origin to top-left. Returns nil for empty or garbage rows.
func mergeRow(content []pdf.Text, page *Page) *Block {
	var sb strings.Builder
	var minX, maxX, minY, maxY, totalFontSize float64
	var fontName string
	first := true
	parts := 0

	for _, t := range content {
		if t.S == "" || isOperatorText(t.S) {
			continue
		}
		sb.WriteString(t.S)
		if first {
			minX, maxX, minY, maxY = t.X, t.X, t.Y, t.Y
			fontName = t.Font
			first = false
		} else {
			if t.X < minX {
				minX = t.X
			}
			if t.X > maxX {
				maxX = t.X
			}
			if t.Y < minY {
				minY = t.Y
			}
			if t.Y > maxY {
				maxY = t.Y
			}
		}
		totalFontSize += t.FontSize
		parts++
	}

	text := strings.TrimSpace(sb.String())
	if text == "" || isOperatorText(text) || hasExcessiveNonPrintable(text) {
		return nil
	}

	fontSize := 10.0
	if parts > 0 && totalFontSize > 0 {
		fontSize = totalFontSize / float64(parts)
	}

	width := maxX - minX + fontSize
	if est := float64(len(text)) * fontSize * 0.5; est > width {
		width = est
	}
	height := fontSize * 1.2

	// Flip Y so the block origin is top-left.
	y := minY
	if page.Height > 0 {
		y = page.Height - maxY - fontSize
		if y < 0 {
			y = 0
		}
	}

	return &Block{
		Page:     page.Number,
		Text:     text,
		X:        minX,
		Y:        y,
		Width:    width,
		Height:   height,
		FontSize: fontSize,
		FontName: fontName,
		Source:   SourceText,
	}
}

// sortReadingOrder orders blocks top-to-bottom, then left-to-right within
// a line tolerance.
func sortReadingOrder(blocks []*Block) {
	const yTolerance = 5.0
	sort.SliceStable(blocks, func(i, j int) bool {
		dy := blocks[i].Y - blocks[j].Y
		if dy < yTolerance && dy > -yTolerance {
			return blocks[i].X < blocks[j].X
		}
		return blocks[i].Y < blocks[j].Y
	})
}

func countChars(blocks []*Block) int {
	n := 0
	for _, b := range blocks {
		for _, r := range b.Text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n
}
