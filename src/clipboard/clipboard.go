package clipboard

import (
	"errors"
	"sync"

	"golang.design/x/clipboard"
)

var ErrNotInitialized = errors.New("clipboard not initialized")

var (
	mu          sync.Mutex
	initialized bool
)

func Init() error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}
	if err := clipboard.Init(); err != nil {
		return err
	}
	initialized = true
	return nil
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Read returns the current text content, or "" when the clipboard holds no text.
func Read() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return "", ErrNotInitialized
	}
	return string(clipboard.Read(clipboard.FmtText)), nil
}

// Clear empties the text clipboard so a following Copy can be told apart
// from stale content.
func Clear() error {
	return Write("")
}
