package extract

import (
	"testing"

	"github.com/ledongthuc/pdf"
)

func TestMergeRow(t *testing.T) {
	page := &Page{Number: 1, Width: 595, Height: 842}
	content := []pdf.Text{
		{S: "Merhaba ", X: 72, Y: 770, Font: "Helvetica", FontSize: 12},
		{S: "dünya", X: 130, Y: 770, Font: "Helvetica", FontSize: 12},
	}

	b := mergeRow(content, page)
	if b == nil {
		t.Fatal("mergeRow returned nil for valid row")
	}
	if b.Text != "Merhaba dünya" {
		t.Errorf("Text = %q", b.Text)
	}
	if b.X != 72 {
		t.Errorf("X = %v", b.X)
	}
	// Top-left origin: page height 842, baseline Y 770, font 12.
	if want := 842.0 - 770.0 - 12.0; b.Y != want {
		t.Errorf("Y = %v, want %v", b.Y, want)
	}
	if b.FontSize != 12 {
		t.Errorf("FontSize = %v", b.FontSize)
	}
	if b.Source != SourceText {
		t.Errorf("Source = %v", b.Source)
	}
}

func TestMergeRowRejectsGarbage(t *testing.T) {
	page := &Page{Number: 1, Height: 842}
	tests := []struct {
		name    string
		content []pdf.Text
	}{
		{"empty", nil},
		{"whitespace only", []pdf.Text{{S: "   ", X: 10, Y: 10, FontSize: 10}}},
		{"operator code", []pdf.Text{{S: "0 0 moveto 100 100 lineto stroke", X: 10, Y: 10, FontSize: 10}}},
		{"control chars", []pdf.Text{{S: "a\x01\x02\x03\x04", X: 10, Y: 10, FontSize: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if b := mergeRow(tt.content, page); b != nil {
				t.Errorf("mergeRow = %+v, want nil", b)
			}
		})
	}
}

func TestIsOperatorText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Merhaba dünya", false},
		{"1.1 Giriş", false},
		{"https://example.com/a/b/c", false},
		{"/F1 12 Tf null def", true},
		{"gsave 1 0 0 setrgbcolor grestore", true},
		{"/foo /bar /baz operators", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := isOperatorText(tt.text); got != tt.want {
			t.Errorf("isOperatorText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestSortReadingOrder(t *testing.T) {
	blocks := []*Block{
		{Text: "third", X: 72, Y: 300},
		{Text: "second", X: 300, Y: 100},
		{Text: "first", X: 72, Y: 98}, // same line as "second" within tolerance
	}
	sortReadingOrder(blocks)

	got := []string{blocks[0].Text, blocks[1].Text, blocks[2].Text}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestCountCharsAndDensity(t *testing.T) {
	blocks := []*Block{
		{Text: "abc def"},
		{Text: " ğü "},
	}
	if got := countChars(blocks); got != 8 {
		t.Errorf("countChars = %d, want 8", got)
	}
}

func TestDocumentOCRPages(t *testing.T) {
	doc := &Document{Pages: []*Page{
		{Number: 1, NeedsOCR: false},
		{Number: 2, NeedsOCR: true},
		{Number: 3, NeedsOCR: true},
	}}
	ocr := doc.OCRPages()
	if len(ocr) != 2 || ocr[0].Number != 2 || ocr[1].Number != 3 {
		t.Errorf("OCRPages = %+v", ocr)
	}
}

func TestDocumentBlocksReadingOrder(t *testing.T) {
	doc := &Document{Pages: []*Page{
		{Number: 1, Blocks: []*Block{{ID: "p1_b1"}, {ID: "p1_b2"}}},
		{Number: 2, Blocks: []*Block{{ID: "p2_b1"}}},
	}}
	blocks := doc.Blocks()
	if len(blocks) != 3 || blocks[2].ID != "p2_b1" {
		t.Errorf("Blocks = %+v", blocks)
	}
}
