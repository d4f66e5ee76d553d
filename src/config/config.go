package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultConfigName = "user_config.json"
	ConfigPathEnvVar  = "CHAT_AUTOREPLY_CONFIG"

	ModeAutoCopy      = "auto_copy"
	ModeScreenMonitor = "screen_monitor"
	ModeBoth          = "both"
)

type LoadOptions struct {
	// ConfigPath takes precedence over the env var and the executable directory.
	ConfigPath string
	// ModeOverride replaces active_mode for this process only.
	ModeOverride string
	// SkipDotenv disables loading .env beside the executable.
	SkipDotenv bool
}

// Config is the dotted-key configuration store persisted as JSON.
type Config struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order: explicit Set > env (.env applied first) > user file > defaults.
	if !opts.SkipDotenv {
		if envPath := resolveEnvPath(); envPath != "" {
			_ = godotenv.Load(envPath)
		}
	}

	path := resolveConfigPath(opts)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)
	bindEnv(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if mode := strings.TrimSpace(opts.ModeOverride); mode != "" {
		v.Set("active_mode", NormalizeMode(mode))
	}

	return &Config{v: v, path: path}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ollama.url", "http://localhost:11434/api/generate")
	v.SetDefault("ollama.model", "llama3.1:8b")
	v.SetDefault("ollama.timeout", 60)
	v.SetDefault("ollama.temperature", 0.7)
	v.SetDefault("ollama.top_p", 0.9)
	v.SetDefault("ollama.max_tokens", 200)

	v.SetDefault("monitoring.interval", 3)
	v.SetDefault("monitoring.ocr_lang", "chi_sim+eng")
	v.SetDefault("monitoring.min_text_length", 1)
	v.SetDefault("monitoring.confidence_threshold", 35)
	v.SetDefault("monitoring.change_threshold", 0.02)
	v.SetDefault("monitoring.ocr_attempts", 1)
	v.SetDefault("monitoring.ocr_deadline", 20)
	v.SetDefault("monitoring.region.x", 496)
	v.SetDefault("monitoring.region.y", 1012)
	v.SetDefault("monitoring.region.width", 1010)
	v.SetDefault("monitoring.region.height", 88)
	v.SetDefault("monitoring.input_coords.x", 200)
	v.SetDefault("monitoring.input_coords.y", 750)
	v.SetDefault("monitoring.copy_area_coords.x", 500)
	v.SetDefault("monitoring.copy_area_coords.y", 1000)
	v.SetDefault("monitoring.copy_area_coords.width", 200)
	v.SetDefault("monitoring.copy_area_coords.height", 50)

	v.SetDefault("active_mode", ModeAutoCopy)
	v.SetDefault("auto_copy_interval", 2)
	v.SetDefault("hotkey", "Ctrl+Alt+A")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "chat_history.db")
	v.SetDefault("logging.file", false)
	v.SetDefault("paths.tessdata_prefix", "")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("ollama.url", "OLLAMA_URL")
	_ = v.BindEnv("ollama.model", "OLLAMA_MODEL")
	_ = v.BindEnv("ollama.timeout", "OLLAMA_TIMEOUT")
	_ = v.BindEnv("logging.file", "ENABLE_FILE_LOGGING")
	_ = v.BindEnv("hotkey", "HOTKEY")
	_ = v.BindEnv("active_mode", "ACTIVE_MODE")
	_ = v.BindEnv("paths.tessdata_prefix", "TESSDATA_PREFIX")
}

// Path returns the file Save writes to.
func (c *Config) Path() string { return c.path }

// Get returns the value at a dotted key, or nil when unset.
func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Get(key)
}

// GetWithDefault returns def when key is unset.
func (c *Config) GetWithDefault(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.Get(key)
}

func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt(key)
}

// Set stores value at a dotted key; intermediate maps are created as needed.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
}

func (c *Config) SetPoint(key string, p Point) {
	c.Set(key+".x", p.X)
	c.Set(key+".y", p.Y)
}

func (c *Config) SetArea(key string, a Area) {
	c.Set(key+".x", a.X)
	c.Set(key+".y", a.Y)
	c.Set(key+".width", a.Width)
	c.Set(key+".height", a.Height)
}

// Save writes the merged configuration as indented JSON to Path().
func (c *Config) Save() error {
	return c.SaveAs(c.path)
}

func (c *Config) SaveAs(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := c.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to save config to %s: %w", path, err)
	}
	return nil
}

// Settings decodes the current values into the typed view used by components.
func (c *Config) Settings() (Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.ActiveMode = NormalizeMode(s.ActiveMode)
	return s, nil
}

// NormalizeMode maps loose spellings onto the known modes; unknown values pass through lowered.
func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "auto_copy", "autocopy", "auto-copy", "copy":
		return ModeAutoCopy
	case "screen_monitor", "screen-monitor", "monitor", "ocr":
		return ModeScreenMonitor
	case ModeBoth, "all":
		return ModeBoth
	default:
		return m
	}
}

// ModeFor returns the mode string for a pair of enabled flags, or "" when neither is set.
func ModeFor(screenMonitor, autoCopy bool) string {
	switch {
	case screenMonitor && autoCopy:
		return ModeBoth
	case screenMonitor:
		return ModeScreenMonitor
	case autoCopy:
		return ModeAutoCopy
	default:
		return ""
	}
}

func resolveConfigPath(opts LoadOptions) string {
	if p := strings.TrimSpace(opts.ConfigPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); p != "" {
		return p
	}
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return DefaultConfigName
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}
	return ""
}
