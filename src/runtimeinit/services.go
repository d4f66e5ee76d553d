package runtimeinit

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"chat-autoreply/src/autocopy"
	"chat-autoreply/src/config"
	"chat-autoreply/src/eventloop"
	"chat-autoreply/src/history"
	"chat-autoreply/src/input"
	"chat-autoreply/src/llm"
	"chat-autoreply/src/monitor"
	"chat-autoreply/src/ocr"
	"chat-autoreply/src/screenshot"
	"chat-autoreply/src/session"
	"chat-autoreply/src/textfilter"
	"chat-autoreply/src/worker"
)

// Services holds the long-lived components shared by the GUI and the
// headless resident.
type Services struct {
	cfg *config.Config

	Sim       *input.Simulator
	Filter    *textfilter.Filter
	Processor *ocr.Processor
	Pool      *worker.Pool
	History   history.Recorder
	AutoCopy  *autocopy.Handler
	Monitor   *monitor.Monitor

	store *history.Store
}

// BuildServices wires the pipeline components from cfg.
func BuildServices(cfg *config.Config) (*Services, error) {
	s, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	svc := &Services{
		cfg:     cfg,
		Sim:     input.NewSimulator(input.RobotDriver{}),
		Filter:  textfilter.NewFilter(),
		Pool:    worker.New(1),
		History: history.Discard{},
	}
	if s.History.Enabled {
		store, err := history.Open(s.History.Path)
		if err != nil {
			// Replies still work without a transcript.
			zap.L().Warn("runtimeinit: history disabled", zap.String("path", s.History.Path), zap.Error(err))
		} else {
			svc.store = store
			svc.History = store
		}
	}

	engine := ocr.NewTesseractEngine(s.Monitoring.OCRLang, s.Paths.TessdataPrefix)
	svc.Processor = ocr.NewProcessor(engine, svc.Filter, ocr.Options{
		Attempts:      s.Monitoring.OCRAttempts,
		MinConfidence: s.Monitoring.ConfidenceThreshold,
		MinLength:     s.Monitoring.MinTextLength,
	})

	svc.AutoCopy = autocopy.New(autocopy.Options{
		Points:   copyPoints(s),
		Interval: s.AutoCopyPeriod(),
		Sim:      svc.Sim,
		Reply:    llm.Reply,
		History:  svc.History,
	})
	svc.Monitor = monitor.New(monitor.Options{
		Region:          regionOf(s.Monitoring.Region),
		InputPoint:      pointOf(s.Monitoring.InputCoords),
		Interval:        s.MonitorInterval(),
		ChangeThreshold: s.Monitoring.ChangeThreshold,
		OCRDeadline:     s.OCRDeadline(),
		Recognizer:      svc.Processor,
		Pool:            svc.Pool,
		Reply:           llm.Reply,
		Sender:          svc.Sim,
		History:         svc.History,
		OnRegionCleared: svc.clearRegion,
	})
	return svc, nil
}

// Runners returns the mode loops in a fixed order.
func (svc *Services) Runners() []eventloop.Runner {
	return []eventloop.Runner{svc.AutoCopy, svc.Monitor}
}

// Enabled lists the runner names active_mode turns on.
func (svc *Services) Enabled() []string {
	s, err := svc.cfg.Settings()
	if err != nil {
		zap.L().Error("runtimeinit: settings unreadable", zap.Error(err))
		return nil
	}
	var names []string
	if s.AutoCopyEnabled() {
		names = append(names, autocopy.Mode)
	}
	if s.ScreenMonitorEnabled() {
		names = append(names, monitor.Mode)
	}
	return names
}

// Apply pushes the current coordinates and intervals into the runners.
func (svc *Services) Apply() error {
	s, err := svc.cfg.Settings()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Monitoring.InputCoords.IsZero() {
		return fmt.Errorf("%w: set the input box coordinates first", input.ErrPointNotSet)
	}
	svc.AutoCopy.Configure(copyPoints(s), s.AutoCopyPeriod())
	svc.Monitor.UpdateRegion(regionOf(s.Monitoring.Region))
	svc.Monitor.SetInputPoint(pointOf(s.Monitoring.InputCoords))
	return nil
}

// Once recognizes the monitored region, asks the model and types the reply.
func (svc *Services) Once(ctx context.Context) (session.Result, error) {
	s, err := svc.cfg.Settings()
	if err != nil {
		return session.Result{}, err
	}
	region := regionOf(s.Monitoring.Region)
	if region.Empty() {
		bounds, err := screenshot.VirtualBounds()
		if err != nil {
			return session.Result{}, err
		}
		region = screenshot.FromRect(bounds)
	}
	return session.Execute(ctx, session.Options{
		Deadline:  s.OCRDeadline(),
		Capture:   session.CaptureRegion(region),
		Recognize: svc.Processor.Extract,
		Reply:     llm.Reply,
		Target: session.InputTarget{
			Sender: svc.Sim,
			Point:  pointOf(s.Monitoring.InputCoords),
			OnSent: func(res session.Result) {
				svc.Processor.RecordSent(res.Reply)
				if _, err := svc.History.Record(ctx, history.Exchange{Mode: "once", Incoming: res.Incoming, Reply: res.Reply}); err != nil {
					zap.L().Warn("runtimeinit: history not recorded", zap.Error(err))
				}
			},
		},
	})
}

// TestOCR runs a one-off recognition of the configured region.
func (svc *Services) TestOCR(ctx context.Context) (monitor.TestResult, error) {
	if err := svc.Apply(); err != nil {
		zap.L().Debug("runtimeinit: testing OCR with partial settings", zap.Error(err))
	}
	return svc.Monitor.TestOCR(ctx)
}

// Recognize runs the OCR pipeline on an arbitrary image.
func (svc *Services) Recognize(ctx context.Context, img image.Image) (string, error) {
	return svc.Processor.Extract(ctx, img)
}

func (svc *Services) Close() {
	svc.AutoCopy.Stop()
	svc.Monitor.Stop()
	// The monitor loop submits to Pool; it must be gone before the pool closes.
	svc.Monitor.Wait()
	svc.Pool.Close()
	if svc.store != nil {
		if err := svc.store.Close(); err != nil {
			zap.L().Warn("runtimeinit: closing history failed", zap.Error(err))
		}
	}
}

// clearRegion forgets a region that no longer fits on any display.
func (svc *Services) clearRegion() {
	svc.cfg.SetArea("monitoring.region", config.Area{})
	if err := svc.cfg.Save(); err != nil {
		zap.L().Warn("runtimeinit: could not save cleared region", zap.Error(err))
	}
}

func copyPoints(s config.Settings) autocopy.Points {
	return autocopy.Points{CopyArea: s.Monitoring.CopyAreaCoords, Input: s.Monitoring.InputCoords}
}

func regionOf(a config.Area) screenshot.Region {
	return screenshot.Region{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height}
}

func pointOf(p config.Point) screenshot.Point {
	return screenshot.Point{X: p.X, Y: p.Y}
}
