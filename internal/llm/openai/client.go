package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 45 * time.Second
	defaultAttempts  = 2
	defaultBaseDelay = 400 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
	defaultJitter    = 150 * time.Millisecond
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout 是单次尝试的超时时间。
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	tokens     *tokenCounter
	sleep      func(context.Context, time.Duration) error
	log        *slog.Logger
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    orDuration(cfg.Timeout, defaultTimeout),
		attempts:   cfg.MaxAttempts,
		baseDelay:  orDuration(cfg.BaseDelay, defaultBaseDelay),
		maxDelay:   orDuration(cfg.MaxDelay, defaultMaxDelay),
		jitter:     cfg.Jitter,
		httpClient: &http.Client{},
		breaker:    llm.NewBreaker("openai"),
		tokens:     newTokenCounter(model),
		sleep:      sleepContext,
		log:        logger.Named("llm.openai"),
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.jitter < 0 {
		c.jitter = 0
	} else if c.jitter == 0 {
		c.jitter = defaultJitter
	}
	return c, nil
}

// Model 返回当前使用的模型名称。
func (c *Client) Model() string { return c.model }

// Generate 调用 Chat Completions，429、5xx 与网络错误按指数退避重试。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}
	return llm.Guard(c.breaker, func() (*llm.Response, error) {
		var lastErr error
		for attempt := 1; attempt <= c.attempts; attempt++ {
			resp, err := c.do(ctx, payload)
			if err == nil {
				if resp.PromptTokens == 0 {
					resp.PromptTokens = c.tokens.count(req.System, req.Prompt)
				}
				return resp, nil
			}
			lastErr = err
			if !xerrors.RetryableError(err) || attempt == c.attempts || ctx.Err() != nil {
				break
			}
			delay := c.backoff(attempt)
			c.log.Warn("OpenAI 调用失败，准备重试", "attempt", attempt, "delay", delay, "error", err)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待重试时上下文结束")
			}
		}
		return nil, lastErr
	})
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	if c.jitter > 0 {
		delay += rand.N(c.jitter)
	}
	return delay
}

func (c *Client) do(ctx context.Context, payload []byte) (*llm.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMRejected, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, xerrors.New(xerrors.CodeLLMUnavailable, msg)
		}
		return nil, xerrors.New(xerrors.CodeLLMRejected, msg)
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMRejected, "OpenAI 响应中没有有效的 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeMalformedOutput, "OpenAI 响应内容为空")
	}

	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{
		Content:          content,
		Model:            model,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := make([]message, 0, 2)
	if sys := strings.TrimSpace(req.System); sys != "" {
		messages = append(messages, message{Role: "system", Content: sys})
	}
	messages = append(messages, message{Role: "user", Content: req.Prompt})

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
