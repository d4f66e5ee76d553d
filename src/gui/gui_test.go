package gui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-autoreply/src/config"
	"chat-autoreply/src/messages"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ACTIVE_MODE", "")
	t.Setenv("OLLAMA_MODEL", "")
	path := filepath.Join(t.TempDir(), config.DefaultConfigName)
	cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: path, SkipDotenv: true})
	require.NoError(t, err)
	return cfg
}

func TestLogSinkBuffersAndCaps(t *testing.T) {
	sink := NewLogSink(3)
	_, _ = sink.Write([]byte("one\n"))
	_, _ = sink.Write([]byte("two\nthree\n\n"))
	_, _ = sink.Write([]byte("four\r\n"))
	assert.Equal(t, []string{"two", "three", "four"}, sink.Lines())

	data := binding.NewStringList()
	sink.Attach(data)
	got, err := data.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "four"}, got)

	_, _ = sink.Write([]byte("five\n"))
	got, _ = data.Get()
	assert.Equal(t, []string{"three", "four", "five"}, got)
	assert.NoError(t, sink.Sync())
}

func TestNormalizeArea(t *testing.T) {
	a, err := normalizeArea(config.Point{X: 300, Y: 40}, config.Point{X: 100, Y: 90})
	require.NoError(t, err)
	assert.Equal(t, config.Area{X: 100, Y: 40, Width: 200, Height: 50}, a)

	_, err = normalizeArea(config.Point{X: 5, Y: 5}, config.Point{X: 5, Y: 50})
	assert.ErrorIs(t, err, errEmptyArea)
}

func TestCapturerPoint(t *testing.T) {
	var mu sync.Mutex
	var moves int
	c := capturer{
		locate: func() (int, int) { return 12, 34 },
		wait:   func(ctx context.Context, key string) error { return nil },
		onMove: func(x, y int) {
			mu.Lock()
			moves++
			mu.Unlock()
		},
	}
	p, err := c.point(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Point{X: 12, Y: 34}, p)
	mu.Lock()
	assert.GreaterOrEqual(t, moves, 1)
	mu.Unlock()
}

func TestCapturerArea(t *testing.T) {
	corners := [][2]int{{400, 80}, {100, 20}}
	var keys []string
	c := capturer{
		locate: func() (int, int) {
			p := corners[0]
			corners = corners[1:]
			return p[0], p[1]
		},
		wait: func(ctx context.Context, key string) error {
			keys = append(keys, key)
			return nil
		},
	}
	var prompts []string
	a, err := c.area(context.Background(), func(step string) { prompts = append(prompts, step) })
	require.NoError(t, err)
	assert.Equal(t, config.Area{X: 100, Y: 20, Width: 300, Height: 60}, a)
	assert.Equal(t, []string{"enter", "enter"}, keys)
	assert.Len(t, prompts, 2)
}

func TestCapturerCancelled(t *testing.T) {
	c := capturer{
		locate: func() (int, int) { return 0, 0 },
		wait:   func(ctx context.Context, key string) error { return context.Canceled },
	}
	_, err := c.area(context.Background(), func(string) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSettingsFormRoundTrip(t *testing.T) {
	test.NewTempApp(t)
	cfg := loadConfig(t)
	s, err := cfg.Settings()
	require.NoError(t, err)

	f := newSettingsForm()
	f.load(s)
	assert.Equal(t, s.Monitoring.Region, f.region.get())
	monitorOn, _ := f.screenMonitor.Get()
	copyOn, _ := f.autoCopy.Get()
	assert.False(t, monitorOn)
	assert.True(t, copyOn)

	f.input.set(config.Point{X: 640, Y: 900})
	f.region.set(config.Area{X: 1, Y: 2, Width: 3, Height: 4})
	_ = f.screenMonitor.Set(true)
	_ = f.model.Set("qwen2.5:7b")
	require.NoError(t, f.store(cfg))

	s, err = cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, config.ModeBoth, s.ActiveMode)
	assert.Equal(t, config.Point{X: 640, Y: 900}, s.Monitoring.InputCoords)
	assert.Equal(t, config.Area{X: 1, Y: 2, Width: 3, Height: 4}, s.Monitoring.Region)
	assert.Equal(t, "qwen2.5:7b", s.Ollama.Model)

	_ = f.screenMonitor.Set(false)
	_ = f.autoCopy.Set(false)
	assert.ErrorIs(t, f.store(cfg), errNoMode)
}

type fakeController struct {
	mu   sync.Mutex
	cmds []messages.Command
	err  error
}

func (c *fakeController) Do(ctx context.Context, cmd messages.Command) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return "ok", c.err
}

func (c *fakeController) commands() []messages.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messages.Command(nil), c.cmds...)
}

func TestWindowStartSavesAndStarts(t *testing.T) {
	a := test.NewTempApp(t)
	cfg := loadConfig(t)
	ctrl := &fakeController{}
	var saved []config.Settings
	w := New(a, Deps{
		Config:  cfg,
		Control: ctrl,
		OnSaved: func(s config.Settings) { saved = append(saved, s) },
	})

	w.form.input.set(config.Point{X: 10, Y: 20})
	test.Tap(w.startBtn)

	assert.Eventually(t, func() bool {
		cmds := ctrl.commands()
		return len(cmds) == 1 && cmds[0] == messages.CmdStart
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, saved, 1)
	assert.Equal(t, config.Point{X: 10, Y: 20}, saved[0].Monitoring.InputCoords)

	reloaded, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: cfg.Path(), SkipDotenv: true})
	require.NoError(t, err)
	assert.Equal(t, 20, reloaded.GetInt("monitoring.input_coords.y"))
}

func TestWindowStartNeedsAMode(t *testing.T) {
	a := test.NewTempApp(t)
	ctrl := &fakeController{}
	w := New(a, Deps{Config: loadConfig(t), Control: ctrl})

	_ = w.form.autoCopy.Set(false)
	_ = w.form.screenMonitor.Set(false)
	test.Tap(w.startBtn)

	assert.Never(t, func() bool { return len(ctrl.commands()) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.False(t, w.startBtn.Disabled())
}

func TestWindowReflectsStatus(t *testing.T) {
	a := test.NewTempApp(t)
	w := New(a, Deps{Config: loadConfig(t), Control: &fakeController{}})

	w.SetStatus(messages.Status{Running: true, Modes: []string{"auto_copy"}})
	assert.Eventually(t, func() bool { return w.stopBtn.Disabled() == false && w.startBtn.Disabled() }, time.Second, 10*time.Millisecond)
	text, _ := w.status.Get()
	assert.Equal(t, "Status: running (auto_copy)", text)

	w.SetStatus(messages.Status{Text: "input point not set"})
	assert.Eventually(t, func() bool { return w.stopBtn.Disabled() && !w.startBtn.Disabled() }, time.Second, 10*time.Millisecond)
	text, _ = w.status.Get()
	assert.Equal(t, "Stopped: input point not set", text)
}

func TestWindowStopFailureShowsStatus(t *testing.T) {
	a := test.NewTempApp(t)
	ctrl := &fakeController{err: errors.New("event loop stopped")}
	w := New(a, Deps{Config: loadConfig(t), Control: ctrl})

	w.stopBtn.Enable()
	test.Tap(w.stopBtn)
	assert.Eventually(t, func() bool {
		text, _ := w.status.Get()
		return strings.Contains(text, "event loop stopped")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetModelsKeepsCurrent(t *testing.T) {
	a := test.NewTempApp(t)
	w := New(a, Deps{Config: loadConfig(t), Control: &fakeController{}})

	w.setModels([]string{"qwen2.5:7b", "mistral"})
	assert.Equal(t, []string{"llama3.1:8b", "qwen2.5:7b", "mistral"}, w.models.Options)
	assert.Equal(t, "llama3.1:8b", w.models.Selected)
}
