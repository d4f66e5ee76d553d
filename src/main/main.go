package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-autoreply/src/config"
	"chat-autoreply/src/eventloop"
	"chat-autoreply/src/gui"
	"chat-autoreply/src/hotkey"
	"chat-autoreply/src/input"
	"chat-autoreply/src/llm"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/messages"
	"chat-autoreply/src/runtimeinit"
	"chat-autoreply/src/singleinstance"
	"chat-autoreply/src/tray"
)

const (
	appID           = "io.github.chat-autoreply"
	delegateTimeout = 90 * time.Second
)

var errNoResident = errors.New("no running instance found")

type mainOptions struct {
	configPath string
	mode       string
	headless   bool
	autostart  bool
	verbose    bool

	start  bool
	stop   bool
	toggle bool
	status bool
	once   bool
}

func main() {
	if err := newRootCmd(&mainOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chat-autoreply",
		Short:         "Answer chat messages on screen with a local model",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok, err := opts.delegated(); err != nil {
				return err
			} else if ok {
				return runDelegated(cmd.Context(), *opts, c, singleinstance.NewClient(), cmd.OutOrStdout())
			}
			return runResident(*opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to user_config.json")
	f.StringVar(&opts.mode, "mode", "", "Override active_mode for this run (auto_copy, screen_monitor, both)")
	f.BoolVar(&opts.headless, "headless", false, "Run without a window: tray icon and hotkey only")
	f.BoolVar(&opts.autostart, "autostart", false, "Start the enabled modes right away")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	f.BoolVar(&opts.start, "start", false, "Ask the running instance to start")
	f.BoolVar(&opts.stop, "stop", false, "Ask the running instance to stop")
	f.BoolVar(&opts.toggle, "toggle", false, "Ask the running instance to toggle")
	f.BoolVar(&opts.status, "status", false, "Print the running instance's status")
	f.BoolVar(&opts.once, "once", false, "Ask the running instance to reply once")
	return cmd
}

// delegated returns the command selected by --start/--stop/--toggle/--status/--once.
func (o mainOptions) delegated() (messages.Command, bool, error) {
	var picked []messages.Command
	for _, c := range []struct {
		set bool
		cmd messages.Command
	}{
		{o.start, messages.CmdStart},
		{o.stop, messages.CmdStop},
		{o.toggle, messages.CmdToggle},
		{o.status, messages.CmdStatus},
		{o.once, messages.CmdOnce},
	} {
		if c.set {
			picked = append(picked, c.cmd)
		}
	}
	switch len(picked) {
	case 0:
		return "", false, nil
	case 1:
		return picked[0], true, nil
	default:
		return "", false, fmt.Errorf("only one of --start, --stop, --toggle, --status, --once may be given")
	}
}

func runDelegated(ctx context.Context, opts mainOptions, cmd messages.Command, client singleinstance.Client, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// The .env file may move the port range.
	if _, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: opts.configPath}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, delegateTimeout)
	defer cancel()
	return delegate(ctx, client, cmd, out)
}

func delegate(ctx context.Context, client singleinstance.Client, cmd messages.Command, out io.Writer) error {
	delegated, payload, err := client.Send(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if !delegated {
		return errNoResident
	}
	if payload != "" {
		fmt.Fprintln(out, payload)
	}
	return nil
}

func runResident(opts mainOptions) error {
	enableDPIAwareness()

	loadOpts := config.LoadOptions{ConfigPath: opts.configPath, ModeOverride: opts.mode}
	if _, err := config.LoadWithOptions(loadOpts); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Binding the first port of the range is what makes us the resident.
	srv := singleinstance.NewServer()
	if err := srv.Start(ctx); err != nil {
		start, _ := singleinstance.PortRange()
		return fmt.Errorf("another instance is already running on port %d", start)
	}
	defer srv.Close()

	var sink *gui.LogSink
	if !opts.headless {
		sink = gui.NewLogSink(gui.DefaultLogLines)
	}
	restoreLogs := func() {}
	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: loadOpts,
		SetupLogging: func(fileLogging bool) {
			lo := logutil.Options{EnableFileLogging: fileLogging, Verbose: opts.verbose}
			if sink != nil {
				lo.Extra = sink
			}
			_, restoreLogs = logutil.Setup(lo)
		},
		ShowBlockingLLMError: opts.headless,
	})
	defer func() { restoreLogs() }()
	if err != nil {
		return err
	}
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	logMonitorConfiguration()

	svc, err := runtimeinit.BuildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	relay := &statusRelay{}
	loop := eventloop.New(eventloop.Options{
		Runners:  svc.Runners(),
		Enabled:  svc.Enabled,
		Prepare:  svc.Apply,
		Once:     svc.Once,
		Sink:     relay,
		Server:   srv,
		Deadline: s.OCRDeadline() + s.OllamaTimeout(),
	})
	if err := loop.StartHotkey(s.Hotkey); err != nil {
		zap.L().Warn("main: hotkey unavailable", zap.String("hotkey", s.Hotkey), zap.Error(err))
	}
	defer hotkey.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	if opts.autostart {
		go func() {
			if _, err := loop.Do(ctx, messages.CmdStart); err != nil {
				zap.L().Warn("main: autostart failed", zap.Error(err))
			}
		}()
	}

	zap.L().Info("main: resident running",
		zap.Bool("headless", opts.headless),
		zap.String("hotkey", s.Hotkey),
		zap.String("active_mode", s.ActiveMode))

	if opts.headless {
		runTray(ctx, cancel, loop, relay)
	} else {
		runWindow(ctx, cancel, cfg, svc, loop, relay, sink)
	}

	cancel()
	select {
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(5 * time.Second):
		zap.L().Warn("main: event loop did not stop in time")
	}
	return nil
}

func runTray(ctx context.Context, cancel context.CancelFunc, loop *eventloop.Loop, relay *statusRelay) {
	t := tray.New(gui.Title, tray.Actions{
		Toggle: loop.PostHotkey,
		Once: func() {
			go func() {
				if _, err := loop.Do(ctx, messages.CmdOnce); err != nil {
					zap.L().Warn("main: one-shot run failed", zap.Error(err))
				}
			}()
		},
		Quit: cancel,
	})
	relay.add(t)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

func runWindow(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, svc *runtimeinit.Services, loop *eventloop.Loop, relay *statusRelay, sink *gui.LogSink) {
	a := app.NewWithID(appID)
	a.SetIcon(fyne.NewStaticResource("chat-autoreply.png", tray.IconPNG()))
	w := gui.New(a, gui.Deps{
		Config:  cfg,
		Control: loop,
		Models:  llm.ListModels,
		TestOCR: svc.TestOCR,
		Locate:  input.RobotDriver{}.Location,
		WaitKey: hotkey.WaitForKey,
		Logs:    sink,
		OnSaved: func(s config.Settings) {
			if err := llm.Init(runtimeinit.LLMConfig(s)); err != nil {
				zap.L().Error("main: model client not updated", zap.Error(err))
			}
		},
	})
	relay.add(w)
	go func() {
		<-ctx.Done()
		fyne.Do(a.Quit)
	}()
	w.ShowAndRun()
	cancel()
}

// statusRelay fans status updates out to the window and tray.
type statusRelay struct {
	mu    sync.Mutex
	last  *messages.Status
	sinks []eventloop.StatusSink
}

func (r *statusRelay) add(s eventloop.StatusSink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	last := r.last
	r.mu.Unlock()
	if last != nil {
		s.SetStatus(*last)
	}
}

func (r *statusRelay) SetStatus(st messages.Status) {
	r.mu.Lock()
	r.last = &st
	sinks := append([]eventloop.StatusSink(nil), r.sinks...)
	r.mu.Unlock()
	for _, s := range sinks {
		s.SetStatus(st)
	}
}
