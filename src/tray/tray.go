package tray

import (
	"sync"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"chat-autoreply/src/messages"
)

// Actions are invoked from the tray menu goroutine.
type Actions struct {
	Toggle func()
	Once   func()
	Quit   func()
}

// Tray is the headless resident's notification-area icon.
type Tray struct {
	title   string
	actions Actions

	mu      sync.Mutex
	ready   bool
	status  messages.Status
	mToggle *systray.MenuItem
	mStatus *systray.MenuItem
}

func New(title string, actions Actions) *Tray {
	return &Tray{title: title, actions: actions}
}

// Run blocks until Quit is called. On some platforms it must run on the
// main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) Quit() {
	systray.Quit()
}

// SetStatus updates the tooltip and menu labels.
func (t *Tray) SetStatus(st messages.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = st
	if t.ready {
		t.applyLocked()
	}
}

func (t *Tray) onReady() {
	systray.SetIcon(platformIcon())
	systray.SetTitle(t.title)

	mStatus := systray.AddMenuItem("", "Current state")
	mStatus.Disable()
	systray.AddSeparator()
	mToggle := systray.AddMenuItem("Start", "Start or stop the reply loops")
	mOnce := systray.AddMenuItem("Reply once", "Capture, reply and send a single time")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	t.mu.Lock()
	t.mToggle = mToggle
	t.mStatus = mStatus
	t.ready = true
	t.applyLocked()
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-mToggle.ClickedCh:
				call(t.actions.Toggle)
			case <-mOnce.ClickedCh:
				call(t.actions.Once)
			case <-mQuit.ClickedCh:
				call(t.actions.Quit)
				systray.Quit()
				return
			}
		}
	}()
	zap.L().Info("tray: ready")
}

func (t *Tray) onExit() {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()
	zap.L().Info("tray: exited")
}

func (t *Tray) applyLocked() {
	systray.SetTooltip(Tooltip(t.title, t.status))
	t.mStatus.SetTitle(t.status.String())
	t.mToggle.SetTitle(ToggleLabel(t.status))
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// Tooltip renders the hover text; Windows cuts tooltips at 127 characters.
func Tooltip(title string, st messages.Status) string {
	s := title + ": " + st.String()
	if r := []rune(s); len(r) > 127 {
		s = string(r[:124]) + "..."
	}
	return s
}

func ToggleLabel(st messages.Status) string {
	if st.Running {
		return "Stop"
	}
	return "Start"
}
