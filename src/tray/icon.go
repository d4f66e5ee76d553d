package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

const iconSize = 32

var (
	iconOnce sync.Once
	iconPNG  []byte
	iconICO  []byte
)

var (
	bubbleColor = color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	dotColor    = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// IconPNG returns the chat-bubble icon as PNG bytes.
func IconPNG() []byte {
	iconOnce.Do(buildIcons)
	return iconPNG
}

// IconICO wraps the PNG in a single-image .ico container, which the
// Windows tray requires.
func IconICO() []byte {
	iconOnce.Do(buildIcons)
	return iconICO
}

func platformIcon() []byte {
	if runtime.GOOS == "windows" {
		return IconICO()
	}
	return IconPNG()
}

func buildIcons() {
	img := drawBubble()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return
	}
	iconPNG = buf.Bytes()
	iconICO = wrapICO(iconPNG, iconSize)
}

// drawBubble paints a speech bubble with three dots.
func drawBubble() *image.NRGBA {
	img := imaging.New(iconSize, iconSize, color.NRGBA{})
	cx, cy, rx, ry := 16.0, 14.0, 14.5, 11.0
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if dx*dx+dy*dy <= 1 {
				img.SetNRGBA(x, y, bubbleColor)
			}
		}
	}
	// tail
	for y := 23; y < 30; y++ {
		for x := 7; x < 7+(30-y); x++ {
			img.SetNRGBA(x, y, bubbleColor)
		}
	}
	for _, dx := range []int{9, 16, 23} {
		for y := 12; y < 16; y++ {
			for x := dx - 2; x < dx+2; x++ {
				img.SetNRGBA(x, y, dotColor)
			}
		}
	}
	return img
}

func wrapICO(pngData []byte, size int) []byte {
	var buf bytes.Buffer
	// ICONDIR
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	dim := uint8(size)
	if size >= 256 {
		dim = 0
	}
	// ICONDIRENTRY
	buf.Write([]byte{dim, dim, 0, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32)) // bits per pixel
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pngData)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(6+16))
	buf.Write(pngData)
	return buf.Bytes()
}
