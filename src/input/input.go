package input

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/clipboard"
	"chat-autoreply/src/screenshot"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrPointNotSet  = errors.New("input point not set")
)

const maxTypingWait = 8 * time.Second

// Simulator performs human-paced mouse and keyboard actions.
type Simulator struct {
	drv Driver

	mu  sync.Mutex
	rnd *rand.Rand

	// Sleep and WriteClipboard are replaceable for tests.
	Sleep          func(time.Duration)
	WriteClipboard func(string) error
}

func NewSimulator(drv Driver) *Simulator {
	return &Simulator{
		drv:            drv,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep:          time.Sleep,
		WriteClipboard: clipboard.Write,
	}
}

// WithSeed makes the random pacing reproducible.
func (s *Simulator) WithSeed(seed int64) *Simulator {
	s.mu.Lock()
	s.rnd = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
	return s
}

// Uniform returns a value in [min, max).
func (s *Simulator) Uniform(min, max float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rnd.Float64()*(max-min)
}

func (s *Simulator) intn(min, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rnd.Intn(max-min+1)
}

// Seconds converts a float second count to a Duration.
func Seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Pause sleeps for a random duration between min and max seconds.
func (s *Simulator) Pause(min, max float64) {
	s.Sleep(Seconds(s.Uniform(min, max)))
}

// HumanMove glides the cursor to (x, y) along an eased, slightly jittered
// path and finishes exactly on the target.
func (s *Simulator) HumanMove(x, y int) {
	startX, startY := s.drv.Location()
	steps := s.intn(10, 25)
	total := s.Uniform(0.3, 0.8)
	stepDelay := total / float64(steps)

	for i := 1; i <= steps; i++ {
		progress := float64(i) / float64(steps)
		eased := progress * progress
		cx := startX + int(float64(x-startX)*eased) + s.intn(-2, 2)
		cy := startY + int(float64(y-startY)*eased) + s.intn(-2, 2)
		s.drv.Move(cx, cy)
		s.Sleep(Seconds(stepDelay * s.Uniform(0.8, 1.2)))
	}
	s.drv.Move(x, y)
}

func (s *Simulator) ClickAt(p screenshot.Point) {
	s.HumanMove(p.X, p.Y)
	s.Pause(0.05, 0.15)
	s.drv.Click()
}

// Click jumps to p and clicks once.
func (s *Simulator) Click(p screenshot.Point) {
	s.drv.Move(p.X, p.Y)
	s.drv.Click()
}

// TripleClickAt selects a whole line or paragraph under p.
func (s *Simulator) TripleClickAt(p screenshot.Point) {
	s.drv.Move(p.X, p.Y)
	s.drv.DoubleClick()
	s.Sleep(50 * time.Millisecond)
	s.drv.Click()
}

func (s *Simulator) Copy() error      { return s.drv.KeyTap("c", "ctrl") }
func (s *Simulator) Paste() error     { return s.drv.KeyTap("v", "ctrl") }
func (s *Simulator) SelectAll() error { return s.drv.KeyTap("a", "ctrl") }
func (s *Simulator) Backspace() error { return s.drv.KeyTap("backspace") }
func (s *Simulator) Enter() error     { return s.drv.KeyTap("enter") }

// TypingDelay is how long a human would take to type text.
func (s *Simulator) TypingDelay(text string) time.Duration {
	n := len([]rune(text))
	var per float64
	switch {
	case n < 10:
		per = s.Uniform(0.05, 0.1)
	case n < 50:
		per = s.Uniform(0.08, 0.15)
	default:
		per = s.Uniform(0.1, 0.25)
	}
	d := Seconds(float64(n) * per)
	if d > maxTypingWait {
		d = maxTypingWait
	}
	return d
}

// SendMessage replaces the content of the input box at p with text and
// presses Enter.
func (s *Simulator) SendMessage(text string, p screenshot.Point) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if p.X == 0 && p.Y == 0 {
		return ErrPointNotSet
	}

	s.ClickAt(p)
	s.Pause(0.1, 0.3)

	if err := s.SelectAll(); err != nil {
		return fmt.Errorf("select all: %w", err)
	}
	s.Sleep(50 * time.Millisecond)
	if err := s.Backspace(); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	s.Sleep(50 * time.Millisecond)

	if err := s.WriteClipboard(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := s.Paste(); err != nil {
		return fmt.Errorf("paste: %w", err)
	}

	wait := s.TypingDelay(text)
	zap.L().Debug("input: simulated typing", zap.Int("chars", len([]rune(text))), zap.Duration("wait", wait))
	s.Sleep(wait)

	if err := s.Enter(); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}
