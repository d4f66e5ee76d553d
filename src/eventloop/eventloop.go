package eventloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/hotkey"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/messages"
	"chat-autoreply/src/session"
	"chat-autoreply/src/singleinstance"
	"chat-autoreply/src/worker"
)

var (
	// ErrBusy is returned while a one-shot run is in flight.
	ErrBusy = errors.New("busy, please retry")
	// ErrNoModes means active_mode enables no runner.
	ErrNoModes = errors.New("no mode enabled")
	// ErrStopped is returned by Do after Run has returned.
	ErrStopped = errors.New("event loop stopped")
)

// Runner is a mode loop the coordinator can start and stop.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// StatusSink shows the resident state, e.g. a tray tooltip or status bar.
type StatusSink interface {
	SetStatus(st messages.Status)
}

// OnceFunc runs the capture, reply, send pipeline a single time.
type OnceFunc func(ctx context.Context) (session.Result, error)

type Options struct {
	Runners []Runner
	// Enabled returns the runner names active_mode turns on. It is asked on
	// every START so settings edits apply without a restart.
	Enabled func() []string
	// Prepare runs before runners start, e.g. to push fresh coordinates.
	Prepare func() error
	Once    OnceFunc
	Sink    StatusSink
	// Server is optional; nil disables resident control.
	Server   singleinstance.Server
	Pool     *worker.Pool
	Deadline time.Duration
}

// Loop is the single goroutine that owns runner state. Hotkey presses,
// resident connections and GUI calls are all funneled into Run.
type Loop struct {
	opts     Options
	pool     *worker.Pool
	ownsPool bool
	busy     bool
	results  chan result
	hotkeyCh chan struct{}
	cmdCh    chan request
	stopped  chan struct{}
	unhook   func()
}

type request struct {
	cmd     messages.Command
	source  messages.Source
	respond func(payload string, err error)
}

type result struct {
	text    string
	err     error
	respond func(payload string, err error)
	cancel  context.CancelFunc
}

func New(opts Options) *Loop {
	if opts.Deadline <= 0 {
		opts.Deadline = 60 * time.Second
	}
	l := &Loop{
		opts:     opts,
		pool:     opts.Pool,
		results:  make(chan result, 1),
		hotkeyCh: make(chan struct{}, 4),
		cmdCh:    make(chan request),
		stopped:  make(chan struct{}),
	}
	if l.pool == nil {
		l.pool = worker.New(1)
		l.ownsPool = true
	}
	return l
}

// StartHotkey registers the global toggle hotkey.
func (l *Loop) StartHotkey(combo string) error {
	if strings.TrimSpace(combo) == "" {
		return nil
	}
	stop, err := hotkey.Listen(combo, l.PostHotkey)
	if err != nil {
		return fmt.Errorf("register hotkey: %w", err)
	}
	l.unhook = stop
	return nil
}

// PostHotkey queues a toggle as if the hotkey had been pressed. Presses
// beyond the queue are dropped.
func (l *Loop) PostHotkey() {
	select {
	case l.hotkeyCh <- struct{}{}:
	default:
	}
}

// Do submits cmd from the GUI or tray and waits for its answer.
func (l *Loop) Do(ctx context.Context, cmd messages.Command) (string, error) {
	type answer struct {
		payload string
		err     error
	}
	ch := make(chan answer, 1)
	req := request{cmd: cmd, source: messages.SourceGUI, respond: func(p string, err error) {
		ch <- answer{p, err}
	}}
	select {
	case l.cmdCh <- req:
	case <-l.stopped:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case a := <-ch:
		return a.payload, a.err
	case <-l.stopped:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run processes commands until ctx is cancelled. Runners are stopped on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	defer l.shutdown()

	var reqCh chan singleinstance.Conn
	if srv := l.opts.Server; srv != nil {
		if err := srv.Start(ctx); err != nil {
			return err
		}
		zap.L().Info("eventloop: resident listening", zap.Int("port", srv.Port()))
		reqCh = make(chan singleinstance.Conn, 4)
		go func() {
			defer close(reqCh)
			for {
				conn, err := srv.Next(ctx)
				if err != nil {
					return
				}
				select {
				case reqCh <- conn:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}
		}()
	}

	l.publish("")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.hotkeyCh:
			l.handle(ctx, request{cmd: messages.CmdToggle, source: messages.SourceHotkey, respond: logResponse(messages.CmdToggle)})
		case req := <-l.cmdCh:
			l.handle(ctx, req)
		case conn, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			l.handle(ctx, request{cmd: conn.Request().Command, source: messages.SourceResident, respond: connResponder(conn)})
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) shutdown() {
	if l.unhook != nil {
		l.unhook()
	}
	l.stopAll()
	if l.ownsPool {
		l.pool.Close()
	}
	if l.opts.Server != nil {
		_ = l.opts.Server.Close()
	}
}

func (l *Loop) handle(ctx context.Context, req request) {
	zap.L().Info("eventloop: command", zap.String("cmd", req.cmd.String()), zap.String("source", string(req.source)))
	switch req.cmd {
	case messages.CmdStart:
		req.respond(l.start(ctx))
	case messages.CmdStop:
		l.stopAll()
		l.publish("")
		req.respond(l.status().String(), nil)
	case messages.CmdToggle:
		if l.anyRunning() {
			l.stopAll()
			l.publish("")
			req.respond(l.status().String(), nil)
			return
		}
		req.respond(l.start(ctx))
	case messages.CmdStatus:
		req.respond(l.status().String(), nil)
	case messages.CmdOnce:
		l.startOnce(ctx, req)
	default:
		req.respond("", fmt.Errorf("unknown command %q", req.cmd))
	}
}

func (l *Loop) start(ctx context.Context) (string, error) {
	if l.opts.Prepare != nil {
		if err := l.opts.Prepare(); err != nil {
			l.publish(err.Error())
			return "", err
		}
	}
	enabled := l.enabled()
	var started int
	var errs []error
	for _, r := range l.opts.Runners {
		if !enabled[r.Name()] {
			continue
		}
		if err := r.Start(ctx); err != nil {
			zap.L().Error("eventloop: runner failed to start", zap.String("runner", r.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		started++
	}
	if started == 0 && len(errs) == 0 {
		errs = append(errs, ErrNoModes)
	}
	if err := errors.Join(errs...); err != nil && started == 0 {
		l.publish(err.Error())
		return "", err
	}
	l.publish("")
	return l.status().String(), nil
}

func (l *Loop) enabled() map[string]bool {
	out := make(map[string]bool)
	if l.opts.Enabled == nil {
		for _, r := range l.opts.Runners {
			out[r.Name()] = true
		}
		return out
	}
	for _, name := range l.opts.Enabled() {
		out[name] = true
	}
	return out
}

func (l *Loop) stopAll() {
	for _, r := range l.opts.Runners {
		if r.Running() {
			r.Stop()
		}
	}
}

func (l *Loop) anyRunning() bool {
	for _, r := range l.opts.Runners {
		if r.Running() {
			return true
		}
	}
	return false
}

func (l *Loop) status() messages.Status {
	st := messages.Status{Busy: l.busy}
	for _, r := range l.opts.Runners {
		if r.Running() {
			st.Running = true
			st.Modes = append(st.Modes, r.Name())
		}
	}
	return st
}

func (l *Loop) publish(text string) {
	if l.opts.Sink == nil {
		return
	}
	st := l.status()
	st.Text = text
	l.opts.Sink.SetStatus(st)
}

func (l *Loop) startOnce(ctx context.Context, req request) {
	if l.opts.Once == nil {
		req.respond("", errors.New("one-shot run is not configured"))
		return
	}
	if l.busy {
		req.respond("", ErrBusy)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, l.opts.Deadline)
	once := l.opts.Once
	l.busy = true
	l.publish("processing...")
	submitted := l.pool.Submit(jobCtx, func(ctx context.Context) (string, error) {
		res, err := once(ctx)
		return res.Text(), err
	}, func(text string, err error) {
		// The loop may be gone by the time a slow job finishes.
		select {
		case l.results <- result{text: text, err: err, respond: req.respond, cancel: cancel}:
		case <-l.stopped:
			cancel()
		}
	})
	if !submitted {
		cancel()
		l.busy = false
		l.publish("")
		req.respond("", ErrBusy)
	}
}

func (l *Loop) handleResult(res result) {
	l.busy = false
	if res.cancel != nil {
		res.cancel()
	}
	if res.err != nil {
		zap.L().Warn("eventloop: one-shot run failed", zap.Error(res.err))
		l.publish(res.err.Error())
	} else {
		zap.L().Info("eventloop: one-shot run finished", zap.String("text", logutil.Sanitize(res.text, 100)))
		l.publish("")
	}
	res.respond(res.text, res.err)
}

func connResponder(conn singleinstance.Conn) func(string, error) {
	return func(payload string, err error) {
		defer conn.Close()
		target := session.DelegatedTarget{Conn: conn}
		if err != nil {
			_ = target.OnFailure(err)
			return
		}
		_ = target.OnSuccess(session.Result{Reply: payload})
	}
}

func logResponse(cmd messages.Command) func(string, error) {
	return func(payload string, err error) {
		if err != nil {
			zap.L().Warn("eventloop: command failed", zap.String("cmd", cmd.String()), zap.Error(err))
			return
		}
		zap.L().Info("eventloop: command done", zap.String("cmd", cmd.String()), zap.String("status", payload))
	}
}
