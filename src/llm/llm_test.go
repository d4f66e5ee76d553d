package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{URL: url, Model: "test-model", Timeout: 2 * time.Second, Temperature: 0.7, TopP: 0.9, MaxTokens: 200})
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.systemInfo = func(context.Context) string { return "系统信息:\n- 用户: tester" }
	return c
}

func TestPingNotInitialized(t *testing.T) {
	mu.Lock()
	current = nil
	mu.Unlock()
	if err := Ping(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Ping() = %v, want ErrNotInitialized", err)
	}
	if _, err := Reply(context.Background(), "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Reply() = %v, want ErrNotInitialized", err)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Model: "m"})
	assert.Error(t, err, "missing URL")
	_, err = New(Config{URL: "http://localhost:11434/api/generate"})
	assert.Error(t, err, "missing model")
}

func TestReplySuccess(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"response":"<think>hmm</think>\n  你好！很高兴见到你  \n\n"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/generate")
	reply, err := c.Reply(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, "你好！很高兴见到你", reply)

	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.7, got.Options.Temperature)
	assert.Equal(t, 200, got.Options.NumPredict)
	assert.Contains(t, got.Prompt, "用户消息: 你好")
	assert.Contains(t, got.Prompt, "- 用户: tester")
}

func TestReplyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"response":"ok"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/generate")
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	reply, err := c.Reply(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second}, delays)
}

func TestReplyBackoffHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/generate")
	c.sleep = sleepContext

	start := time.Now()
	_, err := c.Reply(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "back-off must not outlive the request context")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestReplyErrors(t *testing.T) {
	t.Run("client status not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Reply(context.Background(), "hi")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, "抱歉，暂时无法回复", FallbackReply(err))
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Reply(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrBadResponse)
		assert.Equal(t, "抱歉，AI响应格式错误", FallbackReply(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := newTestClient(t, url).Reply(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, "抱歉，无法连接到AI服务", FallbackReply(err))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := newTestClient(t, srv.URL)
		c.http.Timeout = 50 * time.Millisecond
		_, err := c.Reply(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, "抱歉，AI响应超时", FallbackReply(err))
	})
}

func TestFallbackReplyDefault(t *testing.T) {
	assert.Equal(t, "抱歉，AI服务出现错误", FallbackReply(errors.New("boom")))
}

func TestPingAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3.1:8b"},{"name":"qwen3:8b"}]}`)
	}))
	defer srv.Close()

	require.NoError(t, Init(Config{URL: srv.URL + "/api/generate", Model: "llama3.1:8b"}))
	require.NoError(t, Ping(context.Background()))

	models, err := ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "qwen3:8b"}, models)
}

func TestTagsURL(t *testing.T) {
	got, err := TagsURL("http://localhost:11434/api/generate?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/api/tags", got)

	_, err = TagsURL("localhost")
	assert.Error(t, err)
}

func TestFilterThinking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "你好", "你好"},
		{"think tags", "<THINK>reasoning\nmore</think>答案", "答案"},
		{"bracket tags", "[think]x[/think] 好的", "好的"},
		{"comment tags", "<!--think-->x<!--/think-->嗯", "嗯"},
		{"thought prefix", "Thought: plan it AI回复: 你好", "AI回复: 你好"},
		{"thought to end", "前言\nThought: rest of it", "前言"},
		{"chinese thinking", "思考: 想想 回复: 好的", "回复: 好的"},
		{"blank lines dropped", "a\n\n  \n b ", "a\nb"},
		{"empty", "", defaultAck},
		{"only thinking", "<think>all</think>", defaultAck},
		{"no prose keeps first sentence", "<!--think-->x<!--/think-->", "<!--think-->x<!--/think-->。"},
		{"fallback first sentence", "Thought: 我想想。然后", "Thought: 我想想。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterThinking(tt.in))
		})
	}
}

func TestSystemInfoString(t *testing.T) {
	info := SystemInfo{CurrentTime: "2026-01-01 10:00:00", Weekday: "Thursday", Timezone: "CST", SystemName: "windows", UserName: "me", PlatformDetails: "Microsoft Windows 11"}
	s := info.String()
	assert.True(t, strings.HasPrefix(s, "系统信息:\n"))
	assert.Contains(t, s, "- 当前时间: 2026-01-01 10:00:00")
	assert.Contains(t, s, "- 操作系统: windows (Microsoft Windows 11)")

	live := CollectSystemInfo(context.Background())
	assert.NotEmpty(t, live.CurrentTime)
	assert.NotEmpty(t, live.SystemName)
}
