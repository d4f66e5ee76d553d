package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolSubmitDropWhenBusy(t *testing.T) {
	p := New(1)
	defer p.Close()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(context.Context) (string, error) {
		close(started)
		<-release
		return "", nil
	}
	noop := func(context.Context) (string, error) { return "", nil }

	if !p.Submit(ctx, blocking, nil) {
		t.Fatal("first submit should succeed")
	}
	<-started
	// Worker busy: the single queue slot takes one more, then drops.
	if !p.Submit(ctx, noop, nil) {
		t.Fatal("second submit should fill the queue slot")
	}
	if p.Submit(ctx, noop, nil) {
		t.Fatal("third submit should drop with a full queue")
	}
	close(release)
}

func TestPoolDeliversResult(t *testing.T) {
	p := New(2)
	defer p.Close()

	type res struct {
		text string
		err  error
	}
	got := make(chan res, 1)
	ok := p.Submit(context.Background(), func(context.Context) (string, error) {
		return "你好", nil
	}, func(text string, err error) { got <- res{text, err} })
	assert.True(t, ok)

	select {
	case r := <-got:
		assert.Equal(t, "你好", r.text)
		assert.NoError(t, r.err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestPoolDeadline(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	p.Submit(ctx, func(context.Context) (string, error) {
		<-release
		return "late", nil
	}, func(_ string, err error) { errCh <- err })

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("deadline not honoured")
	}
	close(release)
	// Let the abandoned task goroutine finish before goleak runs.
	time.Sleep(20 * time.Millisecond)
}

func TestPoolCanceledBeforeStart(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errCh := make(chan error, 1)
	called := false
	p.Submit(ctx, func(context.Context) (string, error) {
		called = true
		return "", nil
	}, func(_ string, err error) { errCh <- err })

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, called)
}

func TestCloseTwice(t *testing.T) {
	p := New(1)
	p.Close()
	p.Close()
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()

	called := false
	ok := p.Submit(context.Background(), func(context.Context) (string, error) {
		called = true
		return "", nil
	}, nil)
	assert.False(t, ok, "closed pool must reject work instead of panicking")
	assert.False(t, called)
}
