package config

import (
	"fmt"
	"strings"
	"time"
)

type Point struct {
	X int `mapstructure:"x" json:"x"`
	Y int `mapstructure:"y" json:"y"`
}

// IsZero reports whether the point was never configured.
func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

type Area struct {
	X      int `mapstructure:"x" json:"x"`
	Y      int `mapstructure:"y" json:"y"`
	Width  int `mapstructure:"width" json:"width"`
	Height int `mapstructure:"height" json:"height"`
}

// Origin is the top-left corner. A zero origin means the area was never set.
func (a Area) Origin() Point { return Point{X: a.X, Y: a.Y} }

// Center returns the middle of the area, or its origin when it has no size.
func (a Area) Center() Point {
	if a.Width <= 0 || a.Height <= 0 {
		return Point{X: a.X, Y: a.Y}
	}
	return Point{X: a.X + a.Width/2, Y: a.Y + a.Height/2}
}

type OllamaSettings struct {
	URL         string  `mapstructure:"url"`
	Model       string  `mapstructure:"model"`
	Timeout     float64 `mapstructure:"timeout"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type MonitoringSettings struct {
	Interval            float64 `mapstructure:"interval"`
	OCRLang             string  `mapstructure:"ocr_lang"`
	MinTextLength       int     `mapstructure:"min_text_length"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ChangeThreshold     float64 `mapstructure:"change_threshold"`
	OCRAttempts         int     `mapstructure:"ocr_attempts"`
	OCRDeadline         float64 `mapstructure:"ocr_deadline"`
	Region              Area    `mapstructure:"region"`
	InputCoords         Point   `mapstructure:"input_coords"`
	CopyAreaCoords      Area    `mapstructure:"copy_area_coords"`
}

type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingSettings struct {
	File bool `mapstructure:"file"`
}

type PathSettings struct {
	TessdataPrefix string `mapstructure:"tessdata_prefix"`
}

// Settings is the typed snapshot of the configuration.
type Settings struct {
	Ollama           OllamaSettings     `mapstructure:"ollama"`
	Monitoring       MonitoringSettings `mapstructure:"monitoring"`
	ActiveMode       string             `mapstructure:"active_mode"`
	AutoCopyInterval float64            `mapstructure:"auto_copy_interval"`
	Hotkey           string             `mapstructure:"hotkey"`
	History          HistorySettings    `mapstructure:"history"`
	Logging          LoggingSettings    `mapstructure:"logging"`
	Paths            PathSettings       `mapstructure:"paths"`
}

func (s Settings) AutoCopyEnabled() bool {
	return s.ActiveMode == ModeAutoCopy || s.ActiveMode == ModeBoth
}

func (s Settings) ScreenMonitorEnabled() bool {
	return s.ActiveMode == ModeScreenMonitor || s.ActiveMode == ModeBoth
}

func (s Settings) OllamaTimeout() time.Duration { return seconds(s.Ollama.Timeout) }

func (s Settings) MonitorInterval() time.Duration { return seconds(s.Monitoring.Interval) }

func (s Settings) AutoCopyPeriod() time.Duration { return seconds(s.AutoCopyInterval) }

func (s Settings) OCRDeadline() time.Duration { return seconds(s.Monitoring.OCRDeadline) }

// Validate reports the first setting that would make a component misbehave.
func (s Settings) Validate() error {
	var problems []string
	switch s.ActiveMode {
	case ModeAutoCopy, ModeScreenMonitor, ModeBoth:
	default:
		problems = append(problems, fmt.Sprintf("active_mode %q is not one of auto_copy, screen_monitor, both", s.ActiveMode))
	}
	if strings.TrimSpace(s.Ollama.URL) == "" {
		problems = append(problems, "ollama.url is required")
	}
	if strings.TrimSpace(s.Ollama.Model) == "" {
		problems = append(problems, "ollama.model is required")
	}
	if s.Ollama.Timeout <= 0 {
		problems = append(problems, "ollama.timeout must be positive")
	}
	if s.Monitoring.Interval <= 0 {
		problems = append(problems, "monitoring.interval must be positive")
	}
	if s.AutoCopyInterval <= 0 {
		problems = append(problems, "auto_copy_interval must be positive")
	}
	if s.Monitoring.ConfidenceThreshold < 0 || s.Monitoring.ConfidenceThreshold > 100 {
		problems = append(problems, "monitoring.confidence_threshold must be within 0..100")
	}
	if s.Monitoring.ChangeThreshold < 0 || s.Monitoring.ChangeThreshold > 1 {
		problems = append(problems, "monitoring.change_threshold must be within 0..1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
