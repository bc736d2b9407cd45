package reconstruct

import (
	"testing"

	"github.com/signintech/gopdf"
)

func TestDrawClipMarker(t *testing.T) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: gopdf.Rect{W: 595, H: 842}})
	pdf.AddPage()

	drawClipMarker(pdf, 500, 100, 80)
	// A narrow block near the page edge keeps the tick on the page.
	drawClipMarker(pdf, 0, 0, 2)

	out, err := pdf.GetBytesPdfReturnErr()
	if err != nil {
		t.Fatalf("GetBytesPdfReturnErr: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("empty PDF output")
	}
}
