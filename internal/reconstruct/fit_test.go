package reconstruct

import (
	"strings"
	"testing"
)

// fakeMeasure approximates each rune as half the font size wide.
func fakeMeasure(text string, fontSize float64) (float64, error) {
	return float64(len([]rune(text))) * fontSize * 0.5, nil
}

func TestWrapTextSingleLine(t *testing.T) {
	lines, err := wrapText("short text", 1000, 10, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "short text" {
		t.Errorf("lines = %v", lines)
	}
}

func TestWrapTextBreaksAtWidth(t *testing.T) {
	// 10 chars per line at size 10 (width 50 / (10*0.5)).
	lines, err := wrapText("aaa bbb ccc ddd", 50, 10, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %v", lines)
	}
	for _, l := range lines {
		if w, _ := fakeMeasure(l, 10); w > 50 {
			t.Errorf("line %q wider than box", l)
		}
	}
}

func TestWrapTextEmpty(t *testing.T) {
	lines, err := wrapText("   ", 100, 10, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if lines != nil {
		t.Errorf("lines = %v, want nil", lines)
	}
}

func TestFitTextNoShrinkNeeded(t *testing.T) {
	fit, err := fitText("kısa", 200, 30, 12, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if fit.FontSize != 12 || fit.Clipped {
		t.Errorf("fit = %+v", fit)
	}
	if len(fit.Lines) != 1 {
		t.Errorf("lines = %v", fit.Lines)
	}
}

func TestFitTextShrinks(t *testing.T) {
	// Long text, short box: must shrink below the starting size but fit.
	text := strings.Repeat("kelime ", 30)
	fit, err := fitText(text, 200, 40, 14, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if fit.FontSize >= 14 {
		t.Errorf("FontSize = %v, expected shrink", fit.FontSize)
	}
	if fit.Clipped {
		t.Error("should fit after shrinking, not clip")
	}
	if got := float64(len(fit.Lines)) * fit.FontSize * lineSpacing; got > 40.01 {
		t.Errorf("wrapped height %v exceeds box", got)
	}
}

func TestFitTextClipsAtMinimum(t *testing.T) {
	text := strings.Repeat("uzun metin ", 200)
	fit, err := fitText(text, 100, 20, 12, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if !fit.Clipped {
		t.Error("expected clipping")
	}
	if fit.FontSize != MinFontSize {
		t.Errorf("FontSize = %v, want %v", fit.FontSize, MinFontSize)
	}
	if got := float64(len(fit.Lines)) * fit.FontSize * lineSpacing; got > 20+fit.FontSize*lineSpacing {
		t.Errorf("clipped to %d lines, still too tall", len(fit.Lines))
	}
	if len(fit.Lines) < 1 {
		t.Error("clipping must keep at least one line")
	}
}

func TestFitTextClampsStartSize(t *testing.T) {
	fit, err := fitText("a", 500, 100, 64, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if fit.FontSize > MaxFontSize {
		t.Errorf("FontSize = %v, want <= %v", fit.FontSize, MaxFontSize)
	}

	fit, err = fitText("a", 500, 100, 2, fakeMeasure)
	if err != nil {
		t.Fatal(err)
	}
	if fit.FontSize < MinFontSize {
		t.Errorf("FontSize = %v, want >= %v", fit.FontSize, MinFontSize)
	}
}

func TestClampf(t *testing.T) {
	if got := clampf(5, 0, 10); got != 5 {
		t.Errorf("clampf = %v", got)
	}
	if got := clampf(-1, 0, 10); got != 0 {
		t.Errorf("clampf = %v", got)
	}
	if got := clampf(11, 0, 10); got != 10 {
		t.Errorf("clampf = %v", got)
	}
	if got := clampf(5, 8, 3); got != 8 { // inverted range collapses to lo
		t.Errorf("clampf = %v", got)
	}
}
