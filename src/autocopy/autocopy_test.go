package autocopy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat-autoreply/src/config"
	"chat-autoreply/src/history"
	"chat-autoreply/src/input"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDriver struct {
	mu   sync.Mutex
	x, y int
	keys []string
}

func (f *fakeDriver) Location() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.x, f.y
}

func (f *fakeDriver) Move(x, y int) {
	f.mu.Lock()
	f.x, f.y = x, y
	f.mu.Unlock()
}

func (f *fakeDriver) Click()       {}
func (f *fakeDriver) DoubleClick() {}

func (f *fakeDriver) KeyTap(key string, mods ...string) error {
	f.mu.Lock()
	f.keys = append(f.keys, strings.Join(append(mods, key), "+"))
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakeClipboard struct {
	mu      sync.Mutex
	content string
	writes  []string
	clears  int
	reads   chan struct{}
}

func (c *fakeClipboard) Read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reads != nil {
		select {
		case c.reads <- struct{}{}:
		default:
		}
	}
	return c.content, nil
}

func (c *fakeClipboard) Write(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, text)
	return nil
}

func (c *fakeClipboard) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	return nil
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []history.Exchange
}

func (r *fakeRecorder) Record(_ context.Context, ex history.Exchange) (history.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ex)
	return ex, nil
}

var testPoints = Points{
	CopyArea: config.Area{X: 500, Y: 1000, Width: 200, Height: 50},
	Input:    config.Point{X: 200, Y: 750},
}

type fixture struct {
	h    *Handler
	drv  *fakeDriver
	clip *fakeClipboard
	rec  *fakeRecorder
	now  time.Time
}

func newFixture(t *testing.T, reply ReplyFunc) *fixture {
	t.Helper()
	f := &fixture{
		drv:  &fakeDriver{},
		clip: &fakeClipboard{content: "你好，在吗？"},
		rec:  &fakeRecorder{},
		now:  time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	sim := input.NewSimulator(f.drv).WithSeed(7)
	sim.Sleep = func(time.Duration) {}
	if reply == nil {
		reply = func(context.Context, string) (string, error) { return "在的，有什么事？", nil }
	}
	f.h = New(Options{Points: testPoints, Interval: time.Second, Sim: sim, Clipboard: f.clip, Reply: reply, History: f.rec})
	f.h.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) markRunning() {
	f.h.mu.Lock()
	f.h.running = true
	f.h.mu.Unlock()
}

func TestRunCycleSends(t *testing.T) {
	f := newFixture(t, nil)
	f.markRunning()

	outcome, err := f.h.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sent, outcome)

	assert.Equal(t, []string{"ctrl+c", "ctrl+v", "enter"}, f.drv.Keys())
	assert.Equal(t, []string{"在的，有什么事？"}, f.clip.writes)
	assert.Equal(t, 1, f.clip.clears, "clipboard cleared after the cycle")
	x, y := f.drv.Location()
	assert.Equal(t, 200, x)
	assert.Equal(t, 750, y)

	require.Len(t, f.rec.got, 1)
	assert.Equal(t, Mode, f.rec.got[0].Mode)
	assert.Equal(t, "你好，在吗？", f.rec.got[0].Incoming)
}

func TestRunCycleDedup(t *testing.T) {
	f := newFixture(t, nil)
	f.markRunning()

	outcome, _ := f.h.RunCycle(context.Background())
	require.Equal(t, Sent, outcome)

	f.now = f.now.Add(5 * time.Second)
	outcome, err := f.h.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, outcome)

	f.now = f.now.Add(6 * time.Second)
	outcome, _ = f.h.RunCycle(context.Background())
	assert.Equal(t, Sent, outcome, "same text is answered again after the window")
}

func TestRunCycleSkips(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		f := newFixture(t, nil)
		outcome, err := f.h.RunCycle(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, SkippedStopped, outcome)
		assert.Empty(t, f.drv.Keys())
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, nil)
		f.markRunning()
		f.h.processing = true
		outcome, _ := f.h.RunCycle(context.Background())
		assert.Equal(t, SkippedBusy, outcome)
	})

	t.Run("empty clipboard", func(t *testing.T) {
		f := newFixture(t, nil)
		f.markRunning()
		f.clip.content = "  \n"
		outcome, err := f.h.RunCycle(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, SkippedEmpty, outcome)
		assert.Equal(t, []string{"ctrl+c"}, f.drv.Keys())
	})

	t.Run("model error", func(t *testing.T) {
		f := newFixture(t, func(context.Context, string) (string, error) {
			return "", errors.New("connection refused")
		})
		f.markRunning()
		outcome, err := f.h.RunCycle(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, SkippedNoReply, outcome)
		assert.NotContains(t, f.drv.Keys(), "ctrl+v")
		assert.Empty(t, f.rec.got)
	})

	t.Run("points not set", func(t *testing.T) {
		f := newFixture(t, nil)
		f.markRunning()
		f.h.Configure(Points{CopyArea: testPoints.CopyArea}, 0)
		_, err := f.h.RunCycle(context.Background())
		assert.ErrorIs(t, err, ErrPointsNotSet)
		assert.False(t, f.h.processing, "processing flag released")
	})

	t.Run("copy area at origin", func(t *testing.T) {
		f := newFixture(t, nil)
		f.markRunning()
		f.h.Configure(Points{CopyArea: config.Area{Width: 200, Height: 50}, Input: testPoints.Input}, 0)
		_, err := f.h.RunCycle(context.Background())
		assert.ErrorIs(t, err, ErrPointsNotSet, "a sized area with a zero origin is still unset")
		assert.Empty(t, f.drv.Keys())
	})
}

func TestCapturePointIsAreaCentre(t *testing.T) {
	f := newFixture(t, nil)
	f.markRunning()
	var moves [][2]int
	f.h.reply = func(context.Context, string) (string, error) {
		x, y := f.drv.Location()
		moves = append(moves, [2]int{x, y})
		return "ok", nil
	}
	_, err := f.h.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{600, 1025}}, moves)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.reads = make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.h.Start(ctx))
	require.NoError(t, f.h.Start(ctx), "second start is a no-op")
	assert.True(t, f.h.Running())

	select {
	case <-f.clip.reads:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran")
	}

	f.h.Stop()
	f.h.Stop()
	assert.False(t, f.h.Running())
}

func TestStartRequiresDependencies(t *testing.T) {
	h := New(Options{})
	assert.Error(t, h.Start(context.Background()))
	assert.False(t, h.Running())
}
