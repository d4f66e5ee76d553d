package monitor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"chat-autoreply/src/screenshot"
)

// TestResult is the outcome of a manual OCR check of the configured region.
type TestResult struct {
	Text      string
	Region    screenshot.Region
	ImagePath string
}

var regionColor = color.RGBA{R: 255, A: 255}

// TestOCR recognizes the configured region once and saves a full-screen
// screenshot with that region outlined, so the user can check placement.
func (m *Monitor) TestOCR(ctx context.Context) (TestResult, error) {
	region, err := m.captureRegion()
	if err != nil {
		return TestResult{}, err
	}
	img, err := m.opts.Capture(region)
	if err != nil {
		return TestResult{}, fmt.Errorf("capture region: %w", err)
	}

	ocrCtx, cancel := context.WithTimeout(ctx, m.opts.OCRDeadline)
	defer cancel()
	text, err := m.opts.Recognizer.Extract(ocrCtx, img)
	if err != nil {
		return TestResult{}, fmt.Errorf("ocr: %w", err)
	}

	res := TestResult{Text: text, Region: region}
	bounds, err := m.opts.Bounds()
	if err != nil {
		return res, nil
	}
	full, err := m.opts.Capture(screenshot.FromRect(bounds))
	if err != nil {
		return res, nil
	}
	OutlineRegion(full, region, 3)
	data, err := screenshot.EncodePNG(full)
	if err != nil {
		return res, err
	}
	path := filepath.Join(os.TempDir(), "chat_autoreply_ocr_test.png")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return res, fmt.Errorf("save annotated screenshot: %w", err)
	}
	res.ImagePath = path
	return res, nil
}

// OutlineRegion draws a rectangle of the given thickness around region.
// Coordinates are screen coordinates; img.Bounds() must use the same space.
func OutlineRegion(img *image.RGBA, region screenshot.Region, thickness int) {
	r := region.Rect()
	src := image.NewUniform(regionColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}
