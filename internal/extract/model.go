// Package extract builds the page and block model of a PDF document. It
// validates the input, extracts the text layer and classifies pages that
// need OCR.
package extract

// BlockSource records where a block's text came from.
type BlockSource string

const (
	// SourceText marks blocks read from the PDF text layer
	SourceText BlockSource = "text"
	// SourceOCR marks blocks produced by the OCR fallback
	SourceOCR BlockSource = "ocr"
)

// Block is a positioned unit of source text and, after translation, its
// translated counterpart. Coordinates are PDF points with the origin at
// the top-left of the page.
type Block struct {
	ID         string      `json:"id"`
	Page       int         `json:"page"`
	Text       string      `json:"text"`
	Translated string      `json:"translated,omitempty"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	FontSize   float64     `json:"font_size"`
	FontName   string      `json:"font_name,omitempty"`
	Source     BlockSource `json:"source"`
	// Confidence is set for OCR blocks, 0..1.
	Confidence float64 `json:"confidence,omitempty"`
	// ErrorTag is set when translation degraded for this block and the
	// source text is carried through instead.
	ErrorTag string `json:"error_tag,omitempty"`
}

// Page holds the geometry and blocks of one page.
type Page struct {
	Number int     `json:"number"` // 1-based
	Width  float64 `json:"width"`  // points
	Height float64 `json:"height"` // points
	// CharCount counts non-whitespace characters in the text layer.
	CharCount int `json:"char_count"`
	// NeedsOCR is true when the text layer is below the density threshold.
	NeedsOCR bool     `json:"needs_ocr"`
	Blocks   []*Block `json:"blocks"`
}

// Document is the extracted model of one input PDF.
type Document struct {
	Path      string  `json:"path"`
	PageCount int     `json:"page_count"`
	FileSize  int64   `json:"file_size"`
	Pages     []*Page `json:"pages"`
}

// Blocks returns all blocks across pages in reading order.
func (d *Document) Blocks() []*Block {
	var out []*Block
	for _, p := range d.Pages {
		out = append(out, p.Blocks...)
	}
	return out
}

// OCRPages returns the pages classified as needing OCR.
func (d *Document) OCRPages() []*Page {
	var out []*Page
	for _, p := range d.Pages {
		if p.NeedsOCR {
			out = append(out, p)
		}
	}
	return out
}
