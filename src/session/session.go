package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/clipboard"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/screenshot"
	"chat-autoreply/src/singleinstance"
)

// ErrNoText means the capture held nothing worth answering.
var ErrNoText = errors.New("no meaningful text captured")

type CaptureFunc func(ctx context.Context) (image.Image, error)

type RecognizeFunc func(ctx context.Context, img image.Image) (string, error)

type ReplyFunc func(ctx context.Context, text string) (string, error)

// ResultTarget receives the outcome of one pipeline run.
type ResultTarget interface {
	OnSuccess(res Result) error
	OnFailure(err error) error
}

type Options struct {
	Deadline  time.Duration
	Capture   CaptureFunc
	Recognize RecognizeFunc
	// Reply may be nil to stop after recognition.
	Reply  ReplyFunc
	Target ResultTarget
}

type Result struct {
	Incoming string
	Reply    string
}

// Execute runs capture, recognize, reply and delivery once.
func Execute(ctx context.Context, opts Options) (Result, error) {
	if opts.Capture == nil {
		return Result{}, errors.New("Capture is required")
	}
	if opts.Recognize == nil {
		return Result{}, errors.New("Recognize is required")
	}
	if opts.Target == nil {
		return Result{}, errors.New("Target is required")
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 20 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	fail := func(err error) (Result, error) {
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}

	img, err := opts.Capture(jobCtx)
	if err != nil {
		return fail(fmt.Errorf("capture: %w", err))
	}
	text, err := opts.Recognize(jobCtx, img)
	if err != nil {
		return fail(fmt.Errorf("recognize: %w", err))
	}
	if text == "" {
		return fail(ErrNoText)
	}
	zap.L().Info("session: recognized", zap.String("text", logutil.Sanitize(text, 100)))

	res := Result{Incoming: text}
	if opts.Reply != nil {
		// The model gets its own timeout; the OCR deadline should not cut it short.
		reply, err := opts.Reply(ctx, text)
		if err != nil {
			return fail(fmt.Errorf("reply: %w", err))
		}
		res.Reply = reply
	}

	if err := opts.Target.OnSuccess(res); err != nil {
		return fail(err)
	}
	return res, nil
}

// ClipboardTarget copies the reply (or the recognized text when there is no reply).
type ClipboardTarget struct{}

func (ClipboardTarget) OnSuccess(res Result) error {
	return clipboard.Write(res.Text())
}

func (ClipboardTarget) OnFailure(err error) error {
	return nil
}

// Text is the reply when present, otherwise the recognized text.
func (r Result) Text() string {
	if r.Reply != "" {
		return r.Reply
	}
	return r.Incoming
}

type StdoutTarget struct {
	Writer io.Writer
}

func (t StdoutTarget) OnSuccess(res Result) error {
	w := t.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprint(w, res.Text())
	return err
}

func (t StdoutTarget) OnFailure(err error) error {
	return nil
}

// Sender types a message into a chat input box.
type Sender interface {
	SendMessage(text string, p screenshot.Point) error
}

// InputTarget types the reply into the chat input at Point.
type InputTarget struct {
	Sender Sender
	Point  screenshot.Point
	// OnSent runs after a successful send, e.g. to remember the reply.
	OnSent func(res Result)
}

func (t InputTarget) OnSuccess(res Result) error {
	if t.Sender == nil {
		return errors.New("input target missing sender")
	}
	if err := t.Sender.SendMessage(res.Text(), t.Point); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if t.OnSent != nil {
		t.OnSent(res)
	}
	return nil
}

func (t InputTarget) OnFailure(err error) error {
	return nil
}

// DelegatedTarget answers a resident client, optionally after delivering
// through Next.
type DelegatedTarget struct {
	Conn singleinstance.Conn
	Next ResultTarget
}

func (t DelegatedTarget) OnSuccess(res Result) error {
	if t.Conn == nil {
		return errors.New("delegated target missing connection")
	}
	if t.Next != nil {
		if err := t.Next.OnSuccess(res); err != nil {
			return err
		}
	}
	return t.Conn.RespondSuccess(res.Text())
}

func (t DelegatedTarget) OnFailure(err error) error {
	if t.Next != nil {
		_ = t.Next.OnFailure(err)
	}
	if t.Conn == nil {
		return nil
	}
	if err == nil {
		return t.Conn.RespondError("unknown session error")
	}
	return t.Conn.RespondError(err.Error())
}

// CaptureRegion returns a CaptureFunc for a fixed screen region.
func CaptureRegion(region screenshot.Region) CaptureFunc {
	return func(ctx context.Context) (image.Image, error) {
		return screenshot.CaptureImage(region)
	}
}
