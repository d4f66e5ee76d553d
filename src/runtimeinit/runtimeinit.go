package runtimeinit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/clipboard"
	"chat-autoreply/src/config"
	"chat-autoreply/src/llm"
	"chat-autoreply/src/notification"
)

const pingTimeout = 5 * time.Second

type Options struct {
	LoadOptions config.LoadOptions
	// SetupLogging runs once the config is known, before anything logs.
	SetupLogging func(fileLogging bool)
	// RequireLLM turns a failed startup ping into an error.
	RequireLLM           bool
	ShowBlockingLLMError bool
	SkipClipboard        bool
}

// Bootstrap loads and validates configuration, installs logging and the
// model client, and checks that the model endpoint answers.
func Bootstrap(opts Options) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	s, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(s.Logging.File)
	}
	zap.L().Info("runtimeinit: configuration loaded",
		zap.String("path", cfg.Path()),
		zap.String("active_mode", s.ActiveMode),
		zap.String("model", s.Ollama.Model))

	if err := s.Validate(); err != nil {
		return nil, err
	}

	if err := llm.Init(LLMConfig(s)); err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := llm.Ping(ctx); err != nil {
		if opts.ShowBlockingLLMError {
			notification.ShowBlockingError("Model unavailable", fmt.Sprintf("Startup check failed: %v\n\nMake sure Ollama is running at %s and the model %q is pulled.", err, s.Ollama.URL, s.Ollama.Model))
		}
		if opts.RequireLLM {
			return nil, fmt.Errorf("startup check failed: %w", err)
		}
		zap.L().Warn("runtimeinit: model endpoint not reachable", zap.Error(err))
	} else {
		zap.L().Info("runtimeinit: model ping succeeded")
	}

	if !opts.SkipClipboard {
		if err := clipboard.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	}
	return cfg, nil
}

// LLMConfig maps the ollama settings onto the client configuration.
func LLMConfig(s config.Settings) llm.Config {
	return llm.Config{
		URL:         s.Ollama.URL,
		Model:       s.Ollama.Model,
		Timeout:     s.OllamaTimeout(),
		Temperature: s.Ollama.Temperature,
		TopP:        s.Ollama.TopP,
		MaxTokens:   s.Ollama.MaxTokens,
	}
}
