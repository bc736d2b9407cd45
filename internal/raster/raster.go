// Package raster renders PDF pages to PNG images for the OCR fallback.
// Rendering shells out to poppler's pdftoppm; oversized renders are
// downscaled before encoding.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	xdraw "golang.org/x/image/draw"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// Renderer converts PDF pages to PNG bytes. Safe for concurrent use; the
// scratch directory is created once on first render.
type Renderer struct {
	dpi    int
	maxDim int // longest edge after downscale, 0 disables

	tempOnce sync.Once
	tempDir  string
	tempErr  error
}

// NewRenderer creates a Renderer at the given DPI. maxDim caps the longest
// image edge to keep OCR payloads bounded.
func NewRenderer(dpi, maxDim int) *Renderer {
	return &Renderer{dpi: dpi, maxDim: maxDim}
}

// Available reports whether pdftoppm can be executed.
func Available() bool {
	return exec.Command("pdftoppm", "-v").Run() == nil
}

// RenderPage renders one page (1-based) of the PDF to PNG bytes.
func (r *Renderer) RenderPage(ctx context.Context, pdfPath string, pageNum int) ([]byte, error) {
	r.tempOnce.Do(func() {
		r.tempDir, r.tempErr = os.MkdirTemp("", "pdfraster_*")
	})
	if r.tempErr != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to create temp dir", r.tempErr)
	}

	prefix := filepath.Join(r.tempDir, fmt.Sprintf("page_%d", pageNum))
	args := []string{
		"-f", fmt.Sprintf("%d", pageNum),
		"-l", fmt.Sprintf("%d", pageNum),
		"-png",
		"-r", fmt.Sprintf("%d", r.dpi),
		"-singlefile",
		pdfPath,
		prefix,
	}

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrInternal,
			"pdftoppm failed", string(output), err)
	}

	imgPath := prefix + ".png"
	defer os.Remove(imgPath)

	img, err := loadImage(imgPath)
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to load rendered page", err)
	}

	img = Downscale(img, r.maxDim)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to encode PNG", err)
	}

	logger.Debug("page rendered",
		logger.String("pdf", filepath.Base(pdfPath)),
		logger.Int("page", pageNum),
		logger.Int("width", img.Bounds().Dx()),
		logger.Int("height", img.Bounds().Dy()),
		logger.Int("bytes", buf.Len()))

	return buf.Bytes(), nil
}

// Cleanup removes the temp directory used for intermediate renders. Call
// only after all renders have finished.
func (r *Renderer) Cleanup() {
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
}

// Downscale shrinks img so its longest edge is at most maxDim, preserving
// aspect ratio. Returns img unchanged when it already fits or maxDim <= 0.
func Downscale(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
