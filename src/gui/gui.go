package gui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"chat-autoreply/src/config"
	"chat-autoreply/src/messages"
	"chat-autoreply/src/monitor"
	"chat-autoreply/src/tray"
)

const (
	Title          = "Chat AutoReply"
	commandTimeout = 10 * time.Second
	modelsTimeout  = 5 * time.Second
)

// Controller runs resident commands; the event loop implements it.
type Controller interface {
	Do(ctx context.Context, cmd messages.Command) (string, error)
}

type Deps struct {
	Config  *config.Config
	Control Controller
	// Models lists the models the endpoint serves. Optional.
	Models func(ctx context.Context) ([]string, error)
	// TestOCR runs one recognition of the saved region. Optional.
	TestOCR func(ctx context.Context) (monitor.TestResult, error)
	// Locate returns the cursor position.
	Locate func() (int, int)
	// WaitKey blocks until the named key is pressed.
	WaitKey func(ctx context.Context, key string) error
	Logs    *LogSink
	// OnSaved runs after settings were written to disk.
	OnSaved func(s config.Settings)
}

// Window is the control panel. It implements eventloop.StatusSink.
type Window struct {
	app  fyne.App
	win  fyne.Window
	deps Deps
	form *settingsForm

	status binding.String
	logs   binding.StringList

	startBtn *widget.Button
	stopBtn  *widget.Button
	testBtn  *widget.Button
	models   *widget.Select
	capture  []*widget.Button

	trayMenu   *fyne.Menu
	trayToggle *fyne.MenuItem

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

func New(a fyne.App, deps Deps) *Window {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		app:    a,
		win:    a.NewWindow(Title),
		deps:   deps,
		form:   newSettingsForm(),
		status: binding.NewString(),
		logs:   binding.NewStringList(),
		ctx:    ctx,
		cancel: cancel,
	}
	if s, err := deps.Config.Settings(); err == nil {
		w.form.load(s)
	} else {
		zap.L().Error("gui: settings unreadable", zap.Error(err))
	}
	if deps.Logs != nil {
		deps.Logs.Attach(w.logs)
	}
	_ = w.status.Set("Ready")

	w.win.SetContent(w.build())
	w.win.Resize(fyne.NewSize(640, 720))
	w.win.SetCloseIntercept(w.onClose)
	w.setupTray()
	w.refreshModels()
	return w
}

// ShowAndRun blocks until the app quits.
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
	w.cancel()
}

func (w *Window) Window() fyne.Window { return w.win }

func (w *Window) build() fyne.CanvasObject {
	regionBtn := widget.NewButton("Capture", func() { w.captureArea(w.form.region, keyRegion) })
	inputBtn := widget.NewButton("Capture", func() { w.capturePoint(w.form.input) })
	copyBtn := widget.NewButton("Capture", func() { w.captureArea(w.form.copyArea, keyCopyArea) })
	w.capture = []*widget.Button{regionBtn, inputBtn, copyBtn}

	header := container.NewGridWithColumns(5,
		widget.NewLabel("X"), widget.NewLabel("Y"), widget.NewLabel("Width"), widget.NewLabel("Height"), widget.NewLabel(""))
	coords := widget.NewForm(
		widget.NewFormItem("", header),
		widget.NewFormItem("OCR region", areaRow(w.form.region, regionBtn)),
		widget.NewFormItem("Input box", pointRow(w.form.input, inputBtn)),
		widget.NewFormItem("Copy area", areaRow(w.form.copyArea, copyBtn)),
	)

	modes := container.NewHBox(
		widget.NewCheckWithData("OCR screen monitor", w.form.screenMonitor),
		widget.NewCheckWithData("Copy area auto-copy", w.form.autoCopy),
	)

	w.models = widget.NewSelect(nil, func(name string) {
		if name != "" {
			_ = w.form.model.Set(name)
		}
	})
	if model, _ := w.form.model.Get(); model != "" {
		w.models.SetOptions([]string{model})
		w.models.SetSelected(model)
	}
	refresh := widget.NewButton("Refresh", w.refreshModels)
	modelRow := container.NewBorder(nil, nil, widget.NewLabel("Model"), refresh, w.models)

	w.startBtn = widget.NewButton("Start", w.onStart)
	w.stopBtn = widget.NewButton("Stop", w.onStop)
	w.stopBtn.Disable()
	w.testBtn = widget.NewButton("Test OCR", w.onTestOCR)
	buttons := container.NewGridWithColumns(3, w.startBtn, w.stopBtn, w.testBtn)

	logList := widget.NewListWithData(
		w.logs,
		func() fyne.CanvasObject { return widget.NewLabel("log line") },
		func(i binding.DataItem, o fyne.CanvasObject) { o.(*widget.Label).Bind(i.(binding.String)) },
	)
	w.logs.AddListener(binding.NewDataListener(func() {
		if w.logs.Length() > 0 {
			logList.ScrollToBottom()
		}
	}))

	statusLabel := widget.NewLabelWithData(w.status)
	statusLabel.TextStyle = fyne.TextStyle{Bold: true}

	top := container.NewVBox(
		coords,
		modes,
		modelRow,
		buttons,
		widget.NewSeparator(),
		widget.NewLabel("Log"),
	)
	return container.NewBorder(top, statusLabel, nil, nil, logList)
}

func (w *Window) setupTray() {
	desk, ok := w.app.(desktop.App)
	if !ok {
		return
	}
	w.trayToggle = fyne.NewMenuItem("Start", w.toggleFromTray)
	w.trayMenu = fyne.NewMenu(Title,
		fyne.NewMenuItem("Show", func() { w.win.Show() }),
		w.trayToggle,
	)
	desk.SetSystemTrayMenu(w.trayMenu)
	desk.SetSystemTrayIcon(fyne.NewStaticResource("chat-autoreply.png", tray.IconPNG()))
}

// SetStatus is safe to call from any goroutine.
func (w *Window) SetStatus(st messages.Status) {
	fyne.Do(func() { w.applyStatus(st) })
}

func (w *Window) applyStatus(st messages.Status) {
	w.mu.Lock()
	w.running = st.Running
	w.mu.Unlock()

	_ = w.status.Set(statusText(st))
	if st.Running {
		w.startBtn.Disable()
		w.stopBtn.Enable()
	} else {
		w.startBtn.Enable()
		w.stopBtn.Disable()
	}
	if w.trayToggle != nil {
		w.trayToggle.Label = tray.ToggleLabel(st)
		w.trayMenu.Refresh()
	}
}

func statusText(st messages.Status) string {
	if st.Text != "" && !st.Running {
		return "Stopped: " + st.Text
	}
	return "Status: " + st.String()
}

func (w *Window) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// save writes the form to disk. Errors are shown to the user.
func (w *Window) save() error {
	cfg := w.deps.Config
	if err := w.form.store(cfg); err != nil {
		return err
	}
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	zap.L().Info("gui: settings saved", zap.String("path", cfg.Path()), zap.String("active_mode", s.ActiveMode))
	if w.deps.OnSaved != nil {
		w.deps.OnSaved(s)
	}
	return nil
}

func (w *Window) onStart() {
	if err := w.save(); err != nil {
		w.showError(err)
		return
	}
	w.startBtn.Disable()
	w.run(messages.CmdStart)
}

func (w *Window) onStop() {
	w.stopBtn.Disable()
	w.run(messages.CmdStop)
}

func (w *Window) toggleFromTray() {
	if w.isRunning() {
		w.onStop()
		return
	}
	w.onStart()
}

// run sends cmd to the controller without blocking the UI goroutine.
func (w *Window) run(cmd messages.Command) {
	go func() {
		ctx, cancel := context.WithTimeout(w.ctx, commandTimeout)
		defer cancel()
		out, err := w.deps.Control.Do(ctx, cmd)
		if err != nil {
			zap.L().Warn("gui: command failed", zap.String("cmd", cmd.String()), zap.Error(err))
			fyne.Do(func() {
				w.applyStatus(messages.Status{Running: w.isRunning(), Text: err.Error()})
				w.showError(err)
			})
			return
		}
		zap.L().Info("gui: command done", zap.String("cmd", cmd.String()), zap.String("status", out))
	}()
}

func (w *Window) onTestOCR() {
	if w.deps.TestOCR == nil {
		return
	}
	if err := w.save(); err != nil {
		w.showError(err)
		return
	}
	w.testBtn.Disable()
	_ = w.status.Set("Testing OCR...")
	go func() {
		res, err := w.deps.TestOCR(w.ctx)
		fyne.Do(func() {
			w.testBtn.Enable()
			_ = w.status.Set("Ready")
			if err != nil {
				w.showError(fmt.Errorf("OCR test failed: %w", err))
				return
			}
			w.showTestResult(res)
		})
	}()
}

func (w *Window) showTestResult(res monitor.TestResult) {
	text := res.Text
	if text == "" {
		text = "(no meaningful text recognized)"
	}
	label := widget.NewLabel(text)
	label.Wrapping = fyne.TextWrapWord
	items := []fyne.CanvasObject{
		widget.NewLabel(fmt.Sprintf("Region: x=%d y=%d %dx%d", res.Region.X, res.Region.Y, res.Region.Width, res.Region.Height)),
		label,
	}
	if res.ImagePath != "" {
		img := canvas.NewImageFromFile(res.ImagePath)
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(480, 270))
		items = append(items, img, widget.NewLabel(res.ImagePath))
	}
	dialog.ShowCustom("OCR test", "Close", container.NewVBox(items...), w.win)
}

func (w *Window) capturePoint(f pointFields) {
	c, ok := w.capturer()
	if !ok {
		return
	}
	w.setCapturing(true)
	_ = w.status.Set("Move the mouse to the input box and press Enter")
	go func() {
		p, err := c.point(w.ctx)
		fyne.Do(func() {
			w.setCapturing(false)
			if err != nil {
				w.showError(err)
				return
			}
			f.set(p)
			_ = w.status.Set(fmt.Sprintf("Input box set to (%d, %d)", p.X, p.Y))
		})
	}()
}

func (w *Window) captureArea(f areaFields, key string) {
	c, ok := w.capturer()
	if !ok {
		return
	}
	w.setCapturing(true)
	go func() {
		a, err := c.area(w.ctx, func(step string) {
			fyne.Do(func() { _ = w.status.Set(step) })
		})
		fyne.Do(func() {
			w.setCapturing(false)
			if err != nil {
				w.showError(err)
				return
			}
			f.set(a)
			zap.L().Info("gui: area captured", zap.String("key", key), zap.Any("area", a))
			_ = w.status.Set(fmt.Sprintf("Area set to %dx%d at (%d, %d)", a.Width, a.Height, a.X, a.Y))
		})
	}()
}

func (w *Window) capturer() (capturer, bool) {
	if w.deps.Locate == nil || w.deps.WaitKey == nil {
		w.showError(fmt.Errorf("coordinate capture is not available"))
		return capturer{}, false
	}
	return capturer{
		locate: w.deps.Locate,
		wait:   w.deps.WaitKey,
		onMove: func(x, y int) {
			_ = w.status.Set(fmt.Sprintf("Cursor: (%d, %d), press Enter to confirm", x, y))
		},
	}, true
}

func (w *Window) setCapturing(on bool) {
	for _, b := range w.capture {
		if on {
			b.Disable()
		} else {
			b.Enable()
		}
	}
}

func (w *Window) refreshModels() {
	if w.deps.Models == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(w.ctx, modelsTimeout)
		defer cancel()
		names, err := w.deps.Models(ctx)
		if err != nil {
			zap.L().Warn("gui: could not list models", zap.Error(err))
			return
		}
		fyne.Do(func() { w.setModels(names) })
	}()
}

func (w *Window) setModels(names []string) {
	current, _ := w.form.model.Get()
	options := names
	if current != "" && !contains(names, current) {
		options = append([]string{current}, names...)
	}
	w.models.SetOptions(options)
	if current != "" {
		w.models.SetSelected(current)
	}
}

func (w *Window) onClose() {
	if err := w.save(); err != nil {
		zap.L().Warn("gui: settings not saved on close", zap.Error(err))
	}
	if w.trayMenu != nil {
		w.win.Hide()
		zap.L().Info("gui: window hidden, the tray icon keeps running")
		return
	}
	w.cancel()
	w.app.Quit()
}

func (w *Window) showError(err error) {
	zap.L().Warn("gui: error shown", zap.Error(err))
	dialog.ShowError(err, w.win)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
