package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Result is the outcome of a single recognition pass.
type Result struct {
	Text string
	// Confidence is the mean word confidence, 0..100.
	Confidence float64
}

// Engine recognizes text in a PNG image using the given Tesseract page
// segmentation mode.
type Engine interface {
	Recognize(ctx context.Context, png []byte, psm int) (Result, error)
}

// TesseractEngine implements Engine with the gosseract client.
type TesseractEngine struct {
	languages      []string
	tessdataPrefix string

	clientFactory func() *gosseract.Client
}

// NewTesseractEngine takes a Tesseract language list such as "chi_sim+eng".
func NewTesseractEngine(lang, tessdataPrefix string) *TesseractEngine {
	var langs []string
	for _, l := range strings.Split(lang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return &TesseractEngine{
		languages:      langs,
		tessdataPrefix: tessdataPrefix,
		clientFactory:  gosseract.NewClient,
	}
}

func (e *TesseractEngine) Recognize(ctx context.Context, png []byte, psm int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	if e.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return Result{}, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(psm)); err != nil {
		return Result{}, fmt.Errorf("set psm %d: %w", psm, err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	return Result{Text: strings.TrimSpace(text), Confidence: meanConfidence(c)}, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
