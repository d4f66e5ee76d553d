package autocopy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/clipboard"
	"chat-autoreply/src/config"
	"chat-autoreply/src/history"
	"chat-autoreply/src/input"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/screenshot"
)

const (
	Mode = config.ModeAutoCopy

	dedupWindow  = 10 * time.Second
	stopTimeout  = 2 * time.Second
	errorBackoff = 1 * time.Second
	minWait      = 500 * time.Millisecond
)

var ErrPointsNotSet = errors.New("capture point or input point not set")

// Outcome says how a cycle ended.
type Outcome string

const (
	Sent             Outcome = "sent"
	SkippedStopped   Outcome = "stopped"
	SkippedBusy      Outcome = "busy"
	SkippedEmpty     Outcome = "empty"
	SkippedDuplicate Outcome = "duplicate"
	SkippedNoReply   Outcome = "no_reply"
)

// Clipboard is the text clipboard used to carry chat text in and replies out.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
	Clear() error
}

type systemClipboard struct{}

func (systemClipboard) Read() (string, error)   { return clipboard.Read() }
func (systemClipboard) Write(text string) error { return clipboard.Write(text) }
func (systemClipboard) Clear() error            { return clipboard.Clear() }

// SystemClipboard is the real desktop clipboard.
var SystemClipboard Clipboard = systemClipboard{}

type ReplyFunc func(ctx context.Context, text string) (string, error)

// Points are the screen coordinates the handler works with.
type Points struct {
	CopyArea config.Area
	Input    config.Point
}

type Options struct {
	Points    Points
	Interval  time.Duration
	Sim       *input.Simulator
	Clipboard Clipboard
	Reply     ReplyFunc
	History   history.Recorder
}

// Handler selects the newest chat message at the capture point, copies it,
// asks the model for a reply and pastes that reply into the input box.
type Handler struct {
	sim   *input.Simulator
	clip  Clipboard
	reply ReplyFunc
	hist  history.Recorder
	now   func() time.Time

	mu         sync.Mutex
	points     Points
	interval   time.Duration
	running    bool
	processing bool
	stopCh     chan struct{}
	done       chan struct{}
	lastText   string
	lastAt     time.Time
}

func New(opts Options) *Handler {
	if opts.Clipboard == nil {
		opts.Clipboard = SystemClipboard
	}
	if opts.History == nil {
		opts.History = history.Discard{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	return &Handler{
		sim:      opts.Sim,
		clip:     opts.Clipboard,
		reply:    opts.Reply,
		hist:     opts.History,
		now:      time.Now,
		points:   opts.Points,
		interval: opts.Interval,
	}
}

func (h *Handler) Name() string { return Mode }

// Configure replaces coordinates and interval; a running loop picks them up
// on its next cycle.
func (h *Handler) Configure(points Points, interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = points
	if interval > 0 {
		h.interval = interval
	}
}

func (h *Handler) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Start launches the copy loop. Starting a running handler only logs a warning.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		zap.L().Warn("autocopy: already running")
		return nil
	}
	if h.sim == nil || h.reply == nil {
		h.mu.Unlock()
		return errors.New("autocopy: simulator and reply function are required")
	}
	h.lastText = ""
	h.lastAt = time.Time{}
	h.processing = false
	h.running = true
	h.stopCh = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stopCh, h.done
	points, interval := h.points, h.interval
	h.mu.Unlock()

	h.clearClipboard()
	zap.L().Info("autocopy: started",
		zap.Any("capture_point", points.CopyArea.Center()),
		zap.Any("input_point", points.Input),
		zap.Duration("interval", interval))

	go h.loop(ctx, stop, done)
	return nil
}

// Stop ends the loop and waits up to two seconds for the current cycle.
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.done
	h.mu.Unlock()

	h.clearClipboard()
	select {
	case <-done:
		zap.L().Info("autocopy: stopped")
	case <-time.After(stopTimeout):
		zap.L().Warn("autocopy: cycle still running after stop timeout")
	}
}

func (h *Handler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := h.nextWait()
		outcome, err := h.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrPointsNotSet):
			zap.L().Warn("autocopy: coordinates not set")
		case err != nil:
			zap.L().Error("autocopy: cycle failed", zap.Error(err))
			wait = errorBackoff
		default:
			zap.L().Debug("autocopy: cycle finished", zap.String("outcome", string(outcome)))
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// nextWait is the interval with ±0.5 s jitter, never below 0.5 s.
func (h *Handler) nextWait() time.Duration {
	h.mu.Lock()
	interval := h.interval
	h.mu.Unlock()
	wait := interval + input.Seconds(h.sim.Uniform(-0.5, 0.5))
	if wait < minWait {
		wait = minWait
	}
	return wait
}

// RunCycle performs one copy, reply, paste round trip.
func (h *Handler) RunCycle(ctx context.Context) (Outcome, error) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return SkippedStopped, nil
	}
	if h.processing {
		h.mu.Unlock()
		zap.L().Debug("autocopy: previous cycle still processing")
		return SkippedBusy, nil
	}
	h.processing = true
	points := h.points
	h.mu.Unlock()

	defer func() {
		h.clearClipboard()
		h.mu.Lock()
		h.processing = false
		h.mu.Unlock()
	}()

	if points.CopyArea.Origin().IsZero() || points.Input.IsZero() {
		return "", ErrPointsNotSet
	}
	capture := points.CopyArea.Center()
	captureAt := screenshot.Point{X: capture.X, Y: capture.Y}
	inputAt := screenshot.Point{X: points.Input.X, Y: points.Input.Y}

	text, err := h.copyAt(captureAt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return SkippedEmpty, nil
	}
	if h.isDuplicate(text) {
		zap.L().Debug("autocopy: duplicate text skipped")
		return SkippedDuplicate, nil
	}
	zap.L().Info("autocopy: captured", zap.String("text", logutil.Sanitize(text, 50)))

	reply, err := h.reply(ctx, text)
	if err != nil || reply == "" {
		zap.L().Warn("autocopy: no reply from model", zap.Error(err))
		return SkippedNoReply, nil
	}
	if !h.Running() {
		return SkippedStopped, nil
	}

	think := input.Seconds(float64(len([]rune(reply))) * h.sim.Uniform(0.05, 0.15))
	if think < time.Second {
		think = time.Second
	}
	if think > 8*time.Second {
		think = 8 * time.Second
	}
	h.sim.Sleep(think)

	if err := h.pasteAt(inputAt, reply); err != nil {
		return "", err
	}

	h.mu.Lock()
	h.lastText = text
	h.lastAt = h.now()
	h.mu.Unlock()

	if _, err := h.hist.Record(ctx, history.Exchange{Mode: Mode, Incoming: text, Reply: reply}); err != nil {
		zap.L().Warn("autocopy: history not recorded", zap.Error(err))
	}
	zap.L().Info("autocopy: reply sent", zap.String("reply", logutil.Sanitize(reply, 50)))
	return Sent, nil
}

func (h *Handler) copyAt(p screenshot.Point) (string, error) {
	h.sim.HumanMove(p.X, p.Y)
	h.sim.Pause(0.2, 0.5)
	h.sim.Click(p)
	h.sim.Pause(0.1, 0.3)
	h.sim.TripleClickAt(p)
	h.sim.Pause(0.2, 0.4)
	h.sim.Pause(0.1, 0.2)
	if err := h.sim.Copy(); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	h.sim.Pause(0.3, 0.7)
	text, err := h.clip.Read()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

func (h *Handler) pasteAt(p screenshot.Point, reply string) error {
	h.sim.HumanMove(p.X, p.Y)
	h.sim.Pause(0.1, 0.3)
	h.sim.Click(p)
	h.sim.Pause(0.1, 0.3)
	if err := h.clip.Write(reply); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	h.sim.Pause(0.1, 0.2)
	if err := h.sim.Paste(); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	h.sim.Pause(0.2, 0.5)
	h.sim.Sleep(input.Seconds(float64(len([]rune(reply))) * h.sim.Uniform(0.01, 0.03)))
	h.sim.Pause(0.2, 0.8)
	if err := h.sim.Enter(); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

func (h *Handler) isDuplicate(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return text == h.lastText && h.now().Sub(h.lastAt) < dedupWindow
}

func (h *Handler) clearClipboard() {
	if err := h.clip.Clear(); err != nil {
		zap.L().Debug("autocopy: clear clipboard failed", zap.Error(err))
	}
}
