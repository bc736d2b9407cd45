package raster

import (
	"context"
	"image"
	"os"
	"sync"
	"testing"
)

func TestRenderPageConcurrentSharesTempDir(t *testing.T) {
	r := NewRenderer(72, 0)
	defer r.Cleanup()

	// Workers share one Renderer; concurrent first renders must agree on
	// a single scratch directory. The renders themselves fail (no such
	// PDF), which is fine here.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			r.RenderPage(context.Background(), "no-such.pdf", page)
		}(i + 1)
	}
	wg.Wait()

	if r.tempDir == "" {
		t.Fatal("temp dir not created")
	}
	if _, err := os.Stat(r.tempDir); err != nil {
		t.Errorf("temp dir missing: %v", err)
	}
}

func TestDownscaleKeepsSmallImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	out := Downscale(img, 200)
	if out != image.Image(img) {
		t.Error("small image should pass through unchanged")
	}
}

func TestDownscaleDisabled(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5000, 5000))
	out := Downscale(img, 0)
	if out.Bounds().Dx() != 5000 {
		t.Error("maxDim 0 should disable downscaling")
	}
}

func TestDownscaleLandscape(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4000, 2000))
	out := Downscale(img, 2200)

	if got := out.Bounds().Dx(); got != 2200 {
		t.Errorf("width = %d, want 2200", got)
	}
	if got := out.Bounds().Dy(); got != 1100 {
		t.Errorf("height = %d, want 1100", got)
	}
}

func TestDownscalePortrait(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 4400))
	out := Downscale(img, 2200)

	if got := out.Bounds().Dy(); got != 2200 {
		t.Errorf("height = %d, want 2200", got)
	}
	if got := out.Bounds().Dx(); got != 500 {
		t.Errorf("width = %d, want 500", got)
	}
}
