package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-autoreply/src/logutil"
)

type Config struct {
	URL         string
	Model       string
	Timeout     time.Duration
	Temperature float64
	TopP        float64
	MaxTokens   int
}

var (
	ErrNotInitialized = errors.New("LLM client not initialized")
	ErrTimeout        = errors.New("model request timed out")
	ErrUnavailable    = errors.New("model endpoint unreachable")
	ErrBadResponse    = errors.New("malformed model response")
)

// StatusError is returned when the endpoint answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.Code, e.Body)
}

const (
	maxRetries   = 3
	initialDelay = 1 * time.Second
	pingTimeout  = 5 * time.Second
)

// Ollama /api/generate structures
type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Client talks to an Ollama-compatible endpoint.
type Client struct {
	cfg  Config
	http *http.Client

	sleep      func(ctx context.Context, d time.Duration) error
	systemInfo func(context.Context) string
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("model URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid model URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.Timeout},
		sleep:      sleepContext,
		systemInfo: FormatSystemInfo,
	}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

var (
	mu      sync.RWMutex
	current *Client
)

// Init installs the package-level client used by Reply, Ping and ListModels.
func Init(cfg Config) error {
	c, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	current = c
	mu.Unlock()
	return nil
}

func Default() (*Client, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return nil, ErrNotInitialized
	}
	return current, nil
}

func Reply(ctx context.Context, message string) (string, error) {
	c, err := Default()
	if err != nil {
		return "", err
	}
	return c.Reply(ctx, message)
}

func Ping(ctx context.Context) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

func ListModels(ctx context.Context) ([]string, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.ListModels(ctx)
}

// BuildPrompt wraps the chat message with the assistant preamble and host context.
func BuildPrompt(systemInfo, message string) string {
	return "你是一个智能对话助手。请根据以下信息进行回复：\n\n" +
		systemInfo + "\n\n" +
		"用户消息: " + message + "\n\n" +
		"请根据上述系统信息和用户消息进行智能回复:"
}

// Reply asks the model for an answer to message and returns it with any
// reasoning sections removed.
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	prompt := BuildPrompt(c.systemInfo(ctx), message)
	req := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
			NumPredict:  c.cfg.MaxTokens,
			MaxTokens:   c.cfg.MaxTokens,
		},
	}
	zap.L().Debug("llm: request", zap.String("model", c.cfg.Model), zap.String("message", logutil.Sanitize(message, 100)))

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			zap.L().Warn("llm: retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return "", classify(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", classify(err)
		}

		resp, err := c.generate(ctx, req)
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return "", err
		}

		filtered := FilterThinking(resp.Response)
		zap.L().Debug("llm: response", zap.String("raw", logutil.Sanitize(resp.Response, 100)), zap.String("filtered", logutil.Sanitize(filtered, 100)))
		return filtered, nil
	}
	return "", fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) generate(ctx context.Context, request generateRequest) (*generateResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, out.Error)
	}
	return &out, nil
}

// Ping checks that the endpoint is serving by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tags(ctx)
	return err
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	tags, err := c.tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) tags(ctx context.Context) (*tagsResponse, error) {
	tagsURL, err := TagsURL(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &out, nil
}

// TagsURL derives the /api/tags endpoint from a generate URL.
func TagsURL(generateURL string) (string, error) {
	u, err := url.Parse(generateURL)
	if err != nil {
		return "", fmt.Errorf("invalid model URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid model URL %q", generateURL)
	}
	u.Path = "/api/tags"
	u.RawQuery = ""
	return u.String(), nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 500
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FallbackReply is the canned chat answer sent when the model fails.
func FallbackReply(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrTimeout):
		return "抱歉，AI响应超时"
	case errors.Is(err, ErrUnavailable):
		return "抱歉，无法连接到AI服务"
	case errors.Is(err, ErrBadResponse):
		return "抱歉，AI响应格式错误"
	case errors.As(err, &se):
		return "抱歉，暂时无法回复"
	default:
		return "抱歉，AI服务出现错误"
	}
}
