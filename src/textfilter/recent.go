package textfilter

import (
	"strings"
	"sync"
	"time"
)

// DefaultReplyWindow is how long a sent reply keeps suppressing matching OCR text.
const DefaultReplyWindow = 5 * time.Second

// Filter remembers the last reply we typed so the monitor does not answer itself.
type Filter struct {
	mu       sync.Mutex
	lastSent string
	sentAt   time.Time
	window   time.Duration
	now      func() time.Time
}

func NewFilter() *Filter {
	return &Filter{window: DefaultReplyWindow, now: time.Now}
}

// WithClock replaces the time source.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
	return f
}

func (f *Filter) RecordSent(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSent = message
	f.sentAt = f.now()
}

// IsRecentReply matches case-insensitively in both directions, since OCR may
// capture our reply inside a larger block or only part of it.
func (f *Filter) IsRecentReply(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lastSent == "" {
		return false
	}
	if f.now().Sub(f.sentAt) > f.window {
		return false
	}

	textLower := strings.ToLower(text)
	sentLower := strings.ToLower(f.lastSent)
	return strings.Contains(textLower, sentLower) || strings.Contains(sentLower, textLower)
}
