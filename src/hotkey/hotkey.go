package hotkey

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"
)

// The OS hook is global; one reader fans events out to subscribers.
var hub struct {
	once sync.Once
	mu   sync.Mutex
	next int
	subs map[int]func(gohook.Event)
}

func subscribe(fn func(gohook.Event)) (unsubscribe func()) {
	hub.once.Do(startHook)
	hub.mu.Lock()
	id := hub.next
	hub.next++
	hub.subs[id] = fn
	hub.mu.Unlock()
	return func() {
		hub.mu.Lock()
		delete(hub.subs, id)
		hub.mu.Unlock()
	}
}

func startHook() {
	hub.subs = make(map[int]func(gohook.Event))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("hotkey: hook goroutine panicked", zap.Any("panic", r))
			}
		}()
		evChan := gohook.Start()
		if evChan == nil {
			zap.L().Error("hotkey: gohook.Start() returned nil channel")
			return
		}
		for ev := range evChan {
			if ev.Kind != gohook.KeyDown && ev.Kind != gohook.KeyUp {
				continue
			}
			hub.mu.Lock()
			fns := make([]func(gohook.Event), 0, len(hub.subs))
			for _, fn := range hub.subs {
				fns = append(fns, fn)
			}
			hub.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
		zap.L().Debug("hotkey: event channel closed")
	}()
}

// Shutdown removes the OS hook.
func Shutdown() {
	gohook.End()
}

// Listen calls callback every time the combination (e.g. "Ctrl+Alt+A") is
// pressed. The returned function stops listening.
func Listen(hotkeyConfig string, callback func()) (func(), error) {
	m, err := newMatcher(hotkeyConfig)
	if err != nil {
		return nil, err
	}
	zap.L().Info("hotkey: listening", zap.String("combo", hotkeyConfig))
	return subscribe(func(ev gohook.Event) {
		if m.handle(ev.Kind == gohook.KeyDown, ev.Rawcode) {
			zap.L().Info("hotkey: combination detected", zap.String("combo", hotkeyConfig))
			if callback != nil {
				callback()
			}
		}
	}), nil
}

// WaitForKey blocks until the named key is pressed or ctx is done.
func WaitForKey(ctx context.Context, keyName string) error {
	codes := keyNameToRawcodes(keyName)
	if len(codes) == 0 {
		return fmt.Errorf("unknown key %q", keyName)
	}
	pressed := make(chan struct{}, 1)
	unsubscribe := subscribe(func(ev gohook.Event) {
		if ev.Kind == gohook.KeyDown && containsCode(codes, ev.Rawcode) {
			select {
			case pressed <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case <-pressed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

// matcher tracks which keys of one combination are held down.
type matcher struct {
	mu   sync.Mutex
	keys []keyState
}

func newMatcher(hotkeyConfig string) (*matcher, error) {
	m := &matcher{}
	for _, name := range parseHotkey(hotkeyConfig) {
		codes := keyNameToRawcodes(name)
		if len(codes) == 0 {
			return nil, fmt.Errorf("cannot map key %q in hotkey %q", name, hotkeyConfig)
		}
		m.keys = append(m.keys, keyState{name: name, rawcodes: codes})
	}
	if len(m.keys) == 0 {
		return nil, fmt.Errorf("no valid keys in hotkey %q", hotkeyConfig)
	}
	return m, nil
}

// handle records a key event and reports whether it completed the combination.
func (m *matcher) handle(down bool, rawcode uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.keys {
		if containsCode(m.keys[i].rawcodes, rawcode) {
			m.keys[i].pressed = down
		}
	}
	if !down {
		return false
	}
	for i := range m.keys {
		if !m.keys[i].pressed {
			return false
		}
	}
	for i := range m.keys {
		m.keys[i].pressed = false
	}
	return true
}

func containsCode(codes []uint16, rawcode uint16) bool {
	for _, c := range codes {
		if c == rawcode {
			return true
		}
	}
	return false
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	var keys []string
	for _, part := range strings.Split(strings.ToLower(hotkeyConfig), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			part = "ctrl"
		case "win", "super":
			part = "cmd"
		}
		keys = append(keys, part)
	}
	return keys
}

var specialKeys = map[string][]uint16{
	// Modifiers: left and right variants
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},
}

// keyNameToRawcodes maps a key name to its Windows virtual key codes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	switch keyName {
	case "win", "super":
		keyName = "cmd"
	}
	if codes, ok := specialKeys[keyName]; ok {
		return codes
	}
	if len(keyName) == 1 {
		c := keyName[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c-'a') + 65}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c-'0') + 48}
		}
	}
	var n int
	if _, err := fmt.Sscanf(keyName, "f%d", &n); err == nil && n >= 1 && n <= 24 && keyName == fmt.Sprintf("f%d", n) {
		return []uint16{uint16(111 + n)} // VK_F1 = 112
	}
	zap.L().Warn("hotkey: unknown key name", zap.String("key", keyName))
	return nil
}
