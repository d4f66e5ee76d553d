package eventloop

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat-autoreply/src/messages"
	"chat-autoreply/src/session"
	"chat-autoreply/src/singleinstance"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	name     string
	startErr error

	mu      sync.Mutex
	running bool
	starts  int
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.running = true
	r.starts++
	return nil
}

func (r *fakeRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *fakeRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

type recordingSink struct {
	mu   sync.Mutex
	last messages.Status
	n    int
}

func (s *recordingSink) SetStatus(st messages.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	s.n++
}

func (s *recordingSink) Last() messages.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type fakeConn struct {
	cmd messages.Command

	mu      sync.Mutex
	payload string
	errMsg  string
	closed  bool
}

func (c *fakeConn) Request() singleinstance.Request { return singleinstance.Request{Command: c.cmd} }

func (c *fakeConn) RespondSuccess(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = payload
	return nil
}

func (c *fakeConn) RespondError(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = msg
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, c.errMsg, c.closed
}

type fakeServer struct {
	conns chan singleinstance.Conn
	done  chan struct{}
	once  sync.Once
}

func newFakeServer() *fakeServer {
	return &fakeServer{conns: make(chan singleinstance.Conn, 4), done: make(chan struct{})}
}

func (s *fakeServer) Start(ctx context.Context) error { return nil }
func (s *fakeServer) Port() int                       { return 49500 }

func (s *fakeServer) Next(ctx context.Context) (singleinstance.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, net.ErrClosed
	case c := <-s.conns:
		return c, nil
	}
}

func (s *fakeServer) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func runLoop(t *testing.T, opts Options) *Loop {
	t.Helper()
	l := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("event loop did not stop")
		}
	})
	return l
}

func TestStartOnlyEnabledRunners(t *testing.T) {
	copier := &fakeRunner{name: "auto_copy"}
	watcher := &fakeRunner{name: "screen_monitor"}
	sink := &recordingSink{}
	l := runLoop(t, Options{
		Runners: []Runner{copier, watcher},
		Enabled: func() []string { return []string{"auto_copy"} },
		Sink:    sink,
	})

	ctx := context.Background()
	out, err := l.Do(ctx, messages.CmdStart)
	require.NoError(t, err)
	assert.Equal(t, "running (auto_copy)", out)
	assert.True(t, copier.Running())
	assert.False(t, watcher.Running())
	assert.True(t, sink.Last().Running)

	out, err = l.Do(ctx, messages.CmdStop)
	require.NoError(t, err)
	assert.Equal(t, "stopped", out)
	assert.False(t, copier.Running())
	assert.False(t, sink.Last().Running)
}

func TestStartWithNoModes(t *testing.T) {
	l := runLoop(t, Options{
		Runners: []Runner{&fakeRunner{name: "auto_copy"}},
		Enabled: func() []string { return nil },
	})

	_, err := l.Do(context.Background(), messages.CmdStart)
	assert.ErrorIs(t, err, ErrNoModes)
}

func TestStartReportsRunnerErrors(t *testing.T) {
	bad := &fakeRunner{name: "screen_monitor", startErr: errors.New("region not set")}
	good := &fakeRunner{name: "auto_copy"}

	l := runLoop(t, Options{Runners: []Runner{bad}})
	_, err := l.Do(context.Background(), messages.CmdStart)
	assert.ErrorContains(t, err, "region not set")

	l2 := runLoop(t, Options{Runners: []Runner{bad, good}})
	out, err := l2.Do(context.Background(), messages.CmdStart)
	require.NoError(t, err, "one runner up is enough")
	assert.Equal(t, "running (auto_copy)", out)
}

func TestPrepareFailureBlocksStart(t *testing.T) {
	r := &fakeRunner{name: "auto_copy"}
	l := runLoop(t, Options{
		Runners: []Runner{r},
		Prepare: func() error { return errors.New("input point not set") },
	})

	_, err := l.Do(context.Background(), messages.CmdStart)
	assert.ErrorContains(t, err, "input point not set")
	assert.False(t, r.Running())
}

func TestHotkeyToggles(t *testing.T) {
	r := &fakeRunner{name: "auto_copy"}
	l := runLoop(t, Options{Runners: []Runner{r}})

	l.PostHotkey()
	assert.Eventually(t, r.Running, 2*time.Second, 10*time.Millisecond)

	l.PostHotkey()
	assert.Eventually(t, func() bool { return !r.Running() }, 2*time.Second, 10*time.Millisecond)
}

func TestOnceDeliversResult(t *testing.T) {
	l := runLoop(t, Options{
		Once: func(ctx context.Context) (session.Result, error) {
			return session.Result{Incoming: "在吗？", Reply: "在的"}, nil
		},
	})

	out, err := l.Do(context.Background(), messages.CmdOnce)
	require.NoError(t, err)
	assert.Equal(t, "在的", out)
}

func TestOnceRejectsWhileBusy(t *testing.T) {
	release := make(chan struct{})
	l := runLoop(t, Options{
		Once: func(ctx context.Context) (session.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return session.Result{}, ctx.Err()
			}
			return session.Result{Reply: "ok"}, nil
		},
	})
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := l.Do(ctx, messages.CmdOnce)
		first <- err
	}()

	assert.Eventually(t, func() bool {
		out, err := l.Do(ctx, messages.CmdStatus)
		return err == nil && out == "stopped, busy"
	}, 2*time.Second, 10*time.Millisecond)

	_, err := l.Do(ctx, messages.CmdOnce)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	select {
	case err := <-first:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first run never finished")
	}
}

func TestOnceFailureIsReported(t *testing.T) {
	sink := &recordingSink{}
	l := runLoop(t, Options{
		Sink: sink,
		Once: func(ctx context.Context) (session.Result, error) {
			return session.Result{}, session.ErrNoText
		},
	})

	_, err := l.Do(context.Background(), messages.CmdOnce)
	assert.ErrorIs(t, err, session.ErrNoText)
	assert.Equal(t, session.ErrNoText.Error(), sink.Last().Text)
	assert.False(t, sink.Last().Busy)
}

func TestResidentConnection(t *testing.T) {
	srv := newFakeServer()
	r := &fakeRunner{name: "auto_copy"}
	runLoop(t, Options{Runners: []Runner{r}, Server: srv})

	start := &fakeConn{cmd: messages.CmdStart}
	srv.conns <- start
	assert.Eventually(t, func() bool {
		_, _, closed := start.snapshot()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	payload, errMsg, _ := start.snapshot()
	assert.Equal(t, "running (auto_copy)", payload)
	assert.Empty(t, errMsg)

	once := &fakeConn{cmd: messages.CmdOnce}
	srv.conns <- once
	assert.Eventually(t, func() bool {
		_, _, closed := once.snapshot()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	_, errMsg, _ = once.snapshot()
	assert.Equal(t, "one-shot run is not configured", errMsg)
}

func TestDoAfterStop(t *testing.T) {
	l := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := l.Do(context.Background(), messages.CmdStatus)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunStopsRunnersOnExit(t *testing.T) {
	r := &fakeRunner{name: "auto_copy"}
	l := New(Options{Runners: []Runner{r}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	_, err := l.Do(context.Background(), messages.CmdStart)
	require.NoError(t, err)
	require.True(t, r.Running())

	cancel()
	<-done
	assert.False(t, r.Running())
}
