package gui

import (
	"context"
	"errors"
	"time"

	"chat-autoreply/src/config"
)

const (
	confirmKey   = "enter"
	cursorPeriod = 100 * time.Millisecond
)

var errEmptyArea = errors.New("the two corners must differ in both directions")

// capturer reads screen coordinates: the user points with the mouse and
// confirms with Enter.
type capturer struct {
	locate func() (int, int)
	wait   func(ctx context.Context, key string) error
	// onMove reports the live cursor position while waiting.
	onMove func(x, y int)
}

func (c capturer) point(ctx context.Context) (config.Point, error) {
	stop := c.track(ctx)
	err := c.wait(ctx, confirmKey)
	stop()
	if err != nil {
		return config.Point{}, err
	}
	x, y := c.locate()
	return config.Point{X: x, Y: y}, nil
}

// area asks for two opposite corners. prompt is called before each one.
func (c capturer) area(ctx context.Context, prompt func(step string)) (config.Area, error) {
	prompt("Move the mouse to the top-left corner and press Enter")
	first, err := c.point(ctx)
	if err != nil {
		return config.Area{}, err
	}
	prompt("Move the mouse to the bottom-right corner and press Enter")
	// The Enter that confirmed the first corner may still be held.
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return config.Area{}, ctx.Err()
	}
	second, err := c.point(ctx)
	if err != nil {
		return config.Area{}, err
	}
	return normalizeArea(first, second)
}

func (c capturer) track(ctx context.Context) func() {
	if c.onMove == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(cursorPeriod)
		defer t.Stop()
		for {
			c.onMove(c.locate())
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// normalizeArea builds an area from two corners given in any order.
func normalizeArea(a, b config.Point) (config.Area, error) {
	x0, x1 := minMax(a.X, b.X)
	y0, y1 := minMax(a.Y, b.Y)
	if x0 == x1 || y0 == y1 {
		return config.Area{}, errEmptyArea
	}
	return config.Area{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, nil
}

func minMax(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}
