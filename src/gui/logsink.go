package gui

import (
	"strings"
	"sync"

	"fyne.io/fyne/v2/data/binding"
)

// DefaultLogLines is how many log lines the panel keeps.
const DefaultLogLines = 200

// LogSink is a zapcore.WriteSyncer feeding the log list. Lines written
// before Attach are buffered, since logging starts before the window exists.
type LogSink struct {
	mu    sync.Mutex
	max   int
	lines []string
	data  binding.StringList
}

func NewLogSink(max int) *LogSink {
	if max <= 0 {
		max = DefaultLogLines
	}
	return &LogSink{max: max}
}

func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.lines = append(s.lines, line)
	}
	if over := len(s.lines) - s.max; over > 0 {
		s.lines = append(s.lines[:0:0], s.lines[over:]...)
	}
	data, snapshot := s.data, s.snapshotLocked()
	s.mu.Unlock()

	if data != nil {
		_ = data.Set(snapshot)
	}
	return len(p), nil
}

func (s *LogSink) Sync() error { return nil }

// Attach starts mirroring lines into data.
func (s *LogSink) Attach(data binding.StringList) {
	s.mu.Lock()
	s.data = data
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	_ = data.Set(snapshot)
}

func (s *LogSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *LogSink) snapshotLocked() []string {
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
