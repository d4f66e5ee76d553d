package gui

import (
	"errors"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/widget"

	"chat-autoreply/src/config"
)

const (
	keyRegion   = "monitoring.region"
	keyInput    = "monitoring.input_coords"
	keyCopyArea = "monitoring.copy_area_coords"
)

var errNoMode = errors.New("enable OCR screen monitor or copy area auto-copy")

type pointFields struct {
	x, y binding.Int
}

func newPointFields() pointFields {
	return pointFields{x: binding.NewInt(), y: binding.NewInt()}
}

func (f pointFields) get() config.Point {
	x, _ := f.x.Get()
	y, _ := f.y.Get()
	return config.Point{X: x, Y: y}
}

func (f pointFields) set(p config.Point) {
	_ = f.x.Set(p.X)
	_ = f.y.Set(p.Y)
}

type areaFields struct {
	x, y, width, height binding.Int
}

func newAreaFields() areaFields {
	return areaFields{x: binding.NewInt(), y: binding.NewInt(), width: binding.NewInt(), height: binding.NewInt()}
}

func (f areaFields) get() config.Area {
	x, _ := f.x.Get()
	y, _ := f.y.Get()
	w, _ := f.width.Get()
	h, _ := f.height.Get()
	return config.Area{X: x, Y: y, Width: w, Height: h}
}

func (f areaFields) set(a config.Area) {
	_ = f.x.Set(a.X)
	_ = f.y.Set(a.Y)
	_ = f.width.Set(a.Width)
	_ = f.height.Set(a.Height)
}

// settingsForm holds the editable part of the configuration.
type settingsForm struct {
	region        areaFields
	input         pointFields
	copyArea      areaFields
	screenMonitor binding.Bool
	autoCopy      binding.Bool
	model         binding.String
}

func newSettingsForm() *settingsForm {
	return &settingsForm{
		region:        newAreaFields(),
		input:         newPointFields(),
		copyArea:      newAreaFields(),
		screenMonitor: binding.NewBool(),
		autoCopy:      binding.NewBool(),
		model:         binding.NewString(),
	}
}

func (f *settingsForm) load(s config.Settings) {
	f.region.set(s.Monitoring.Region)
	f.input.set(s.Monitoring.InputCoords)
	f.copyArea.set(s.Monitoring.CopyAreaCoords)
	_ = f.screenMonitor.Set(s.ScreenMonitorEnabled())
	_ = f.autoCopy.Set(s.AutoCopyEnabled())
	_ = f.model.Set(s.Ollama.Model)
}

// store writes the form back into cfg without saving it.
func (f *settingsForm) store(cfg *config.Config) error {
	monitorOn, _ := f.screenMonitor.Get()
	copyOn, _ := f.autoCopy.Get()
	mode := config.ModeFor(monitorOn, copyOn)
	if mode == "" {
		return errNoMode
	}
	cfg.Set("active_mode", mode)
	cfg.SetArea(keyRegion, f.region.get())
	cfg.SetPoint(keyInput, f.input.get())
	cfg.SetArea(keyCopyArea, f.copyArea.get())
	if model, _ := f.model.Get(); model != "" {
		cfg.Set("ollama.model", model)
	}
	return nil
}

func intEntry(b binding.Int) *widget.Entry {
	return widget.NewEntryWithData(binding.IntToString(b))
}

func areaRow(f areaFields, capture *widget.Button) fyne.CanvasObject {
	return container.NewGridWithColumns(5,
		intEntry(f.x), intEntry(f.y), intEntry(f.width), intEntry(f.height), capture)
}

func pointRow(f pointFields, capture *widget.Button) fyne.CanvasObject {
	return container.NewGridWithColumns(5,
		intEntry(f.x), intEntry(f.y), widget.NewLabel(""), widget.NewLabel(""), capture)
}
