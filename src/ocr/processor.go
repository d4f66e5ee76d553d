package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"chat-autoreply/src/logutil"
	"chat-autoreply/src/screenshot"
	"chat-autoreply/src/textfilter"
)

// DefaultPSMs are the page segmentation modes tried on every image:
// block, single line, single word, raw line, single char.
var DefaultPSMs = []int{6, 7, 8, 13, 10}

type Options struct {
	PSMs []int
	// Attempts is the number of passes per mode.
	Attempts int
	// MinConfidence drops passes whose mean word confidence is lower (0..100).
	MinConfidence float64
	// MinLength is the minimum rune count of the final text.
	MinLength int
}

// Processor runs the multi-pass OCR pipeline and filters the result down to
// chat text worth answering.
type Processor struct {
	engine Engine
	filter *textfilter.Filter
	opts   Options
}

func NewProcessor(engine Engine, filter *textfilter.Filter, opts Options) *Processor {
	if len(opts.PSMs) == 0 {
		opts.PSMs = DefaultPSMs
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if filter == nil {
		filter = textfilter.NewFilter()
	}
	return &Processor{engine: engine, filter: filter, opts: opts}
}

// Extract returns the best chat text found in img, or "" when nothing
// survives filtering. An error is returned only when every pass failed.
func (p *Processor) Extract(ctx context.Context, img image.Image) (string, error) {
	data, err := screenshot.EncodePNG(Preprocess(img))
	if err != nil {
		return "", err
	}

	var (
		best     string
		bestQ    float64
		found    bool
		passes   int
		failures int
		lastErr  error
	)
	for _, psm := range p.opts.PSMs {
		for attempt := 0; attempt < p.opts.Attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			passes++
			res, err := p.engine.Recognize(ctx, data, psm)
			if err != nil {
				failures++
				lastErr = err
				zap.L().Debug("ocr: pass failed", zap.Int("psm", psm), zap.Error(err))
				continue
			}
			if res.Text == "" || res.Confidence < p.opts.MinConfidence {
				continue
			}
			if !textfilter.IsMeaningful(res.Text) {
				continue
			}
			q := textfilter.Quality(res.Text)
			if !found || q > bestQ {
				best, bestQ, found = res.Text, q, true
			}
		}
	}
	if failures == passes && lastErr != nil {
		return "", fmt.Errorf("all %d OCR passes failed: %w", passes, lastErr)
	}
	if !found {
		return "", nil
	}

	text := textfilter.Clean(textfilter.CorrectOCRErrors(best))
	if text == "" || !textfilter.IsMeaningful(text) {
		return "", nil
	}
	if len([]rune(text)) < p.opts.MinLength {
		return "", nil
	}
	if p.filter.IsRecentReply(text) {
		zap.L().Info("ocr: dropped our own recent reply", zap.String("text", logutil.Sanitize(text, 30)))
		return "", nil
	}
	return text, nil
}

// ExtractImageData runs Extract on encoded PNG or JPEG data.
func (p *Processor) ExtractImageData(ctx context.Context, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return p.Extract(ctx, img)
}

func (p *Processor) RecordSent(reply string) {
	p.filter.RecordSent(reply)
}
