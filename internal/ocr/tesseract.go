package ocr

import (
	"context"

	"github.com/otiai10/gosseract/v2"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// TesseractProvider recognizes page text with a local tesseract engine.
type TesseractProvider struct{}

// NewTesseractProvider creates a local OCR provider. Requires the tesseract
// library and the tur/eng language data installed on the host.
func NewTesseractProvider() *TesseractProvider {
	return &TesseractProvider{}
}

// Name implements Provider.
func (p *TesseractProvider) Name() string { return "tesseract" }

// tesseractLang maps ISO 639-1 codes to tesseract traineddata names.
func tesseractLang(code string) string {
	switch code {
	case "tr":
		return "tur"
	case "en":
		return "eng"
	default:
		return "eng"
	}
}

// RecognizePage implements Provider. Spans are text lines in image pixel
// coordinates.
func (p *TesseractProvider) RecognizePage(ctx context.Context, png []byte, lang string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(tesseractLang(lang)); err != nil {
		return nil, types.NewAppError(types.ErrConfig, "tesseract language data missing", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return nil, types.NewAppError(types.ErrOCRFailed, "tesseract rejected page image", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, types.NewAppError(types.ErrOCRFailed, "tesseract recognition failed", err)
	}

	spans := make([]Span, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		spans = append(spans, Span{
			Text:       b.Word,
			X0:         float64(b.Box.Min.X),
			Y0:         float64(b.Box.Min.Y),
			X1:         float64(b.Box.Max.X),
			Y1:         float64(b.Box.Max.Y),
			Confidence: b.Confidence / 100.0,
		})
	}

	logger.Debug("tesseract OCR completed", logger.Int("spans", len(spans)))
	return spans, nil
}
