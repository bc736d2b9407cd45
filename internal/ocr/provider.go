// Package ocr recognizes text on rasterized PDF pages. Two providers are
// available: a vision model reached through OpenRouter and a local
// tesseract engine. The Invoker drives rendering, recognition and
// coordinate normalization for pages without a usable text layer.
package ocr

import "context"

// Span is one recognized line of text with its bounding box. Coordinates
// are in the provider's pixel space until normalized; Confidence is 0..1.
type Span struct {
	Text       string  `json:"text"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	Confidence float64 `json:"confidence"`
}

// Provider recognizes text spans on a PNG page image. lang is the ISO 639-1
// code of the expected language.
type Provider interface {
	RecognizePage(ctx context.Context, png []byte, lang string) ([]Span, error)
	Name() string
}
