package monitor

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/config"
	"chat-autoreply/src/history"
	"chat-autoreply/src/llm"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/screenshot"
	"chat-autoreply/src/session"
	"chat-autoreply/src/worker"
)

const Mode = config.ModeScreenMonitor

var stopTimeout = 2 * time.Second

// Recognizer extracts chat text from a frame and remembers what we sent.
type Recognizer interface {
	Extract(ctx context.Context, img image.Image) (string, error)
	RecordSent(reply string)
}

type ReplyFunc func(ctx context.Context, text string) (string, error)

type Options struct {
	Region          screenshot.Region
	InputPoint      screenshot.Point
	Interval        time.Duration
	ChangeThreshold float64
	OCRDeadline     time.Duration

	Recognizer Recognizer
	Pool       *worker.Pool
	Reply      ReplyFunc
	Sender     session.Sender
	History    history.Recorder

	// OnRegionCleared is called when the configured region no longer fits
	// on screen and monitoring fell back to the full screen.
	OnRegionCleared func()

	Capture func(screenshot.Region) (*image.RGBA, error)
	Bounds  func() (image.Rectangle, error)
}

// Monitor watches a screen region and answers new chat text that appears in it.
type Monitor struct {
	opts     Options
	detector *screenshot.ChangeDetector
	results  chan ocrResult

	mu      sync.Mutex
	region  screenshot.Region
	input   screenshot.Point
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

type ocrResult struct {
	text string
	err  error
}

func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.OCRDeadline <= 0 {
		opts.OCRDeadline = 20 * time.Second
	}
	if opts.History == nil {
		opts.History = history.Discard{}
	}
	if opts.Capture == nil {
		opts.Capture = screenshot.CaptureImage
	}
	if opts.Bounds == nil {
		opts.Bounds = screenshot.VirtualBounds
	}
	return &Monitor{
		opts:     opts,
		detector: screenshot.NewChangeDetector(opts.ChangeThreshold),
		results:  make(chan ocrResult, 1),
		region:   opts.Region,
		input:    opts.InputPoint,
	}
}

func (m *Monitor) Name() string { return Mode }

// UpdateRegion switches the watched region and forgets the previous frame.
func (m *Monitor) UpdateRegion(region screenshot.Region) {
	m.mu.Lock()
	m.region = region
	m.mu.Unlock()
	m.detector.Reset()
	zap.L().Info("monitor: region updated", zap.Any("region", region))
}

func (m *Monitor) Region() screenshot.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.region
}

func (m *Monitor) SetInputPoint(p screenshot.Point) {
	m.mu.Lock()
	m.input = p
	m.mu.Unlock()
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		zap.L().Warn("monitor: already running")
		return nil
	}
	if m.opts.Recognizer == nil || m.opts.Pool == nil || m.opts.Reply == nil || m.opts.Sender == nil {
		return errors.New("monitor: recognizer, pool, reply and sender are required")
	}
	m.detector.Reset()
	// A result that arrived after the previous stop belongs to an old frame.
	select {
	case <-m.results:
	default:
	}
	m.running = true
	// Stop cancels loopCtx so an in-flight OCR job or model request ends early.
	loopCtx, cancel := context.WithCancel(ctx)
	m.stopCh = make(chan struct{})
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.stopCh, m.done)
	zap.L().Info("monitor: started", zap.Any("region", m.region), zap.Duration("interval", m.opts.Interval))
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.cancel()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		zap.L().Info("monitor: stopped")
	case <-time.After(stopTimeout):
		zap.L().Warn("monitor: still busy after stop timeout")
	}
}

// Wait blocks until the most recently started loop has exited. Stop gives up
// after a timeout; callers that release shared resources wait here first.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.tick(ctx, stop)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, stop)
		case res := <-m.results:
			m.handleResult(ctx, stop, res)
		}
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// tick captures a frame and submits it for OCR when it changed.
func (m *Monitor) tick(ctx context.Context, stop <-chan struct{}) {
	// select picks among ready cases at random, so a pending tick can race a stop.
	if stopped(ctx, stop) {
		return
	}
	region, err := m.captureRegion()
	if err != nil {
		zap.L().Error("monitor: no capture region", zap.Error(err))
		return
	}
	img, err := m.opts.Capture(region)
	if err != nil {
		zap.L().Error("monitor: capture failed", zap.Error(err))
		return
	}
	changed, pct := m.detector.Changed(img)
	if !changed {
		return
	}
	zap.L().Debug("monitor: change detected", zap.Float64("percent", pct))

	jobCtx, cancel := context.WithTimeout(ctx, m.opts.OCRDeadline)
	submitted := m.opts.Pool.Submit(jobCtx, func(ctx context.Context) (string, error) {
		return m.opts.Recognizer.Extract(ctx, img)
	}, func(text string, err error) {
		defer cancel()
		select {
		case m.results <- ocrResult{text: text, err: err}:
		case <-ctx.Done():
		}
	})
	if !submitted {
		cancel()
		// Compare the next frame against an empty reference so this change is not lost.
		m.detector.Reset()
		zap.L().Debug("monitor: OCR busy, frame dropped")
	}
}

// captureRegion clamps the configured region to the screen. An unusable
// region is cleared and the full screen is used instead.
func (m *Monitor) captureRegion() (screenshot.Region, error) {
	bounds, err := m.opts.Bounds()
	if err != nil {
		return screenshot.Region{}, err
	}
	region := m.Region()
	if region.Empty() {
		return screenshot.FromRect(bounds), nil
	}
	clamped, ok := screenshot.Clamp(region, bounds)
	if !ok {
		zap.L().Warn("monitor: region outside screen, using full screen", zap.Any("region", region))
		m.mu.Lock()
		m.region = screenshot.Region{}
		m.mu.Unlock()
		if m.opts.OnRegionCleared != nil {
			m.opts.OnRegionCleared()
		}
		return screenshot.FromRect(bounds), nil
	}
	return clamped, nil
}

func (m *Monitor) handleResult(ctx context.Context, stop <-chan struct{}, res ocrResult) {
	if stopped(ctx, stop) {
		return
	}
	if res.err != nil {
		zap.L().Warn("monitor: OCR failed", zap.Error(res.err))
		return
	}
	if res.text == "" {
		return
	}
	zap.L().Info("monitor: new message", zap.String("text", logutil.Sanitize(res.text, 50)))

	reply, err := m.opts.Reply(ctx, res.text)
	if stopped(ctx, stop) {
		zap.L().Info("monitor: stopped while waiting for the model, reply dropped")
		return
	}
	if err != nil {
		zap.L().Warn("monitor: model failed, sending fallback", zap.Error(err))
		reply = llm.FallbackReply(err)
	}

	m.mu.Lock()
	input := m.input
	m.mu.Unlock()

	if err := m.opts.Sender.SendMessage(reply, input); err != nil {
		zap.L().Error("monitor: send failed", zap.Error(err))
		return
	}
	m.opts.Recognizer.RecordSent(reply)
	if _, err := m.opts.History.Record(ctx, history.Exchange{Mode: Mode, Incoming: res.text, Reply: reply}); err != nil {
		zap.L().Warn("monitor: history not recorded", zap.Error(err))
	}
	zap.L().Info("monitor: reply sent", zap.String("reply", logutil.Sanitize(reply, 50)))
}
