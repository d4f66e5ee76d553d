package screenshot

import (
	"image"
	"sync"
)

// ChangeDetector compares successive frames of the same region.
type ChangeDetector struct {
	// Threshold is the fraction (0..1) of pixels that must differ.
	Threshold float64

	mu   sync.Mutex
	prev *image.RGBA
}

func NewChangeDetector(threshold float64) *ChangeDetector {
	return &ChangeDetector{Threshold: threshold}
}

// Changed stores img as the new reference and reports whether it differs
// enough from the previous frame. The first frame and any size change count
// as a change. The returned percentage is 0..100.
func (d *ChangeDetector) Changed(img *image.RGBA) (bool, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img == nil {
		return false, 0
	}
	prev := d.prev
	d.prev = cloneRGBA(img)

	if prev == nil || prev.Bounds().Size() != img.Bounds().Size() {
		return true, 100
	}

	pct := DiffPercent(prev, img)
	return pct > d.Threshold*100, pct
}

// Reset forgets the reference frame.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = nil
}

// DiffPercent returns the share of pixels (0..100) whose RGB differs.
// Both images must have the same size.
func DiffPercent(a, b *image.RGBA) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	changed := 0
	for y := 0; y < h; y++ {
		ao := a.PixOffset(ab.Min.X, ab.Min.Y+y)
		bo := b.PixOffset(bb.Min.X, bb.Min.Y+y)
		for x := 0; x < w; x++ {
			i, j := ao+x*4, bo+x*4
			if a.Pix[i] != b.Pix[j] || a.Pix[i+1] != b.Pix[j+1] || a.Pix[i+2] != b.Pix[j+2] {
				changed++
			}
		}
	}
	return float64(changed) / float64(w*h) * 100
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
