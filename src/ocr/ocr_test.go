package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-autoreply/src/textfilter"
)

type fakeEngine struct {
	mu    sync.Mutex
	byPSM map[int]Result
	err   error
	calls []int
}

func (f *fakeEngine) Recognize(ctx context.Context, data []byte, psm int) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, psm)
	if f.err != nil {
		return Result{}, f.err
	}
	return f.byPSM[psm], nil
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			c := color.RGBA{240, 240, 240, 255}
			if x > 10 && x < 30 && y > 5 && y < 15 {
				c = color.RGBA{20, 20, 20, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestExtractPicksBestQuality(t *testing.T) {
	eng := &fakeEngine{byPSM: map[int]Result{
		6:  {Text: "你好", Confidence: 80},
		7:  {Text: "你好，今天天气怎么样？", Confidence: 80},
		8:  {Text: "RAIN OO", Confidence: 90},
		13: {Text: "你好，今天天气怎么样？还有很多很多", Confidence: 10},
		10: {Text: "", Confidence: 0},
	}}
	p := NewProcessor(eng, nil, Options{MinConfidence: 35, Attempts: 2})

	text, err := p.Extract(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "你好，今天天气怎么样？", text)
	assert.Equal(t, []int{6, 6, 7, 7, 8, 8, 13, 13, 10, 10}, eng.calls)
}

func TestExtractNothingMeaningful(t *testing.T) {
	eng := &fakeEngine{byPSM: map[int]Result{6: {Text: "Settings", Confidence: 95}}}
	p := NewProcessor(eng, nil, Options{})

	text, err := p.Extract(context.Background(), testImage())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractMinLength(t *testing.T) {
	eng := &fakeEngine{byPSM: map[int]Result{6: {Text: "好", Confidence: 95}}}
	p := NewProcessor(eng, nil, Options{PSMs: []int{6}, MinLength: 2})

	text, err := p.Extract(context.Background(), testImage())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractSuppressesRecentReply(t *testing.T) {
	eng := &fakeEngine{byPSM: map[int]Result{6: {Text: "我很好，谢谢", Confidence: 95}}}
	f := textfilter.NewFilter()
	p := NewProcessor(eng, f, Options{PSMs: []int{6}})

	p.RecordSent("我很好，谢谢")
	text, err := p.Extract(context.Background(), testImage())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractAllPassesFail(t *testing.T) {
	boom := errors.New("tesseract missing")
	p := NewProcessor(&fakeEngine{err: boom}, nil, Options{})

	_, err := p.Extract(context.Background(), testImage())
	assert.ErrorIs(t, err, boom)
}

func TestExtractCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{}
	_, err := NewProcessor(eng, nil, Options{}).Extract(ctx, testImage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, eng.calls)
}

func TestExtractImageData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	eng := &fakeEngine{byPSM: map[int]Result{6: {Text: "在吗？", Confidence: 60}}}

	text, err := NewProcessor(eng, nil, Options{PSMs: []int{6}}).ExtractImageData(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "在吗？", text)

	_, err = NewProcessor(eng, nil, Options{}).ExtractImageData(context.Background(), []byte("nope"))
	assert.Error(t, err)
}

func TestPreprocessBinarizes(t *testing.T) {
	out := Preprocess(testImage())
	assert.Equal(t, testImage().Bounds(), out.Bounds())
	for i := 0; i < len(out.Pix); i += 4 {
		v := out.Pix[i]
		if v != 10 && v != 255 {
			t.Fatalf("pixel %d = %d, want 10 or 255", i/4, v)
		}
	}
	// dark box centre stays dark, border stays light
	assert.Equal(t, uint8(10), out.NRGBAAt(20, 10).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 0).R)
}

func TestOtsuThreshold(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{10, 10, 10, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 200, 200, 255})
	th := otsuThreshold(img)
	assert.GreaterOrEqual(t, th, uint8(10))
	assert.Less(t, th, uint8(200))
}

func TestTesseractEngine(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
	if os.Getenv("CHAT_AUTOREPLY_INTERACTIVE_TESTS") != "1" {
		t.Skip("set CHAT_AUTOREPLY_INTERACTIVE_TESTS=1 to run against the real engine")
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	_, err := NewTesseractEngine("eng", os.Getenv("TESSDATA_PREFIX")).Recognize(context.Background(), buf.Bytes(), 6)
	if err != nil {
		t.Logf("tesseract recognition failed: %v", err)
	}
}
