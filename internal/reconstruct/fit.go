// Package reconstruct assembles the translated PDF. Each source page is
// imported as a background template, the original block areas are painted
// over and the translated text is laid back into the block boxes,
// shrinking the font when the translation runs longer than the source.
package reconstruct

import "strings"

// MeasureFunc returns the rendered width of text at a font size in points.
type MeasureFunc func(text string, fontSize float64) (float64, error)

const (
	// MinFontSize is the smallest font the fitter will shrink to
	MinFontSize = 6.0
	// MaxFontSize caps the starting font size
	MaxFontSize = 20.0
	// lineSpacing is the line height multiplier
	lineSpacing = 1.2
)

// Fit is the result of fitting text into a box.
type Fit struct {
	Lines    []string
	FontSize float64
	// Clipped is true when the text did not fit even at MinFontSize and
	// trailing lines were dropped.
	Clipped bool
}

// fitText wraps text into a box of boxW x boxH points, starting at
// startSize and shrinking down to MinFontSize until the wrapped lines fit
// vertically. If even the minimum size overflows, lines are clipped.
func fitText(text string, boxW, boxH, startSize float64, measure MeasureFunc) (Fit, error) {
	size := startSize
	if size > MaxFontSize {
		size = MaxFontSize
	}
	if size < MinFontSize {
		size = MinFontSize
	}

	var lines []string
	for {
		var err error
		lines, err = wrapText(text, boxW, size, measure)
		if err != nil {
			return Fit{}, err
		}
		if float64(len(lines))*size*lineSpacing <= boxH+0.01 {
			return Fit{Lines: lines, FontSize: size}, nil
		}
		if size <= MinFontSize {
			break
		}
		size -= 1
		if size < MinFontSize {
			size = MinFontSize
		}
	}

	// Clip to the lines that fit; always keep at least one.
	maxLines := int(boxH / (size * lineSpacing))
	if maxLines < 1 {
		maxLines = 1
	}
	if maxLines < len(lines) {
		lines = lines[:maxLines]
	}
	return Fit{Lines: lines, FontSize: size, Clipped: true}, nil
}

// wrapText greedily wraps words to the box width. A single word wider than
// the box gets its own line and overflows horizontally; the shrink loop in
// fitText deals with that.
func wrapText(text string, boxW, fontSize float64, measure MeasureFunc) ([]string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		w, err := measure(candidate, fontSize)
		if err != nil {
			return nil, err
		}
		if w <= boxW {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines, nil
}
