package ocr

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocess turns a screen capture into a high-contrast black and white
// image that Tesseract reads more reliably.
func Preprocess(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 30)
	gray = imaging.Blur(gray, 0.5)

	t := otsuThreshold(gray)
	bw := imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R > t {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: 255}
	})

	// alpha 1.3, beta 10, saturated
	return imaging.AdjustFunc(bw, func(c color.NRGBA) color.NRGBA {
		v := scaleAbs(c.R, 1.3, 10)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func scaleAbs(v uint8, alpha, beta float64) uint8 {
	f := float64(v)*alpha + beta
	if f < 0 {
		f = -f
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}

// otsuThreshold picks the gray level that maximises between-class variance.
// img must already be grayscale.
func otsuThreshold(img *image.NRGBA) uint8 {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			hist[img.Pix[off+x*4]]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 127
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var sumB float64
	var wB int
	var best float64
	threshold := uint8(127)
	for i, n := range hist {
		wB += n
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * n)
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}
