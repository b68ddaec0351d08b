package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
)

const defaultModel = "gemini-2.0-flash"

// Config 描述 Gemini 调用参数。
type Config struct {
	APIKey string
	Model  string
}

// generator 抽象 genai 的 Models 服务，便于替换。
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client 通过 Google GenAI SDK 调用 Gemini。
type Client struct {
	models  generator
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	return newClient(client.Models, cfg.Model), nil
}

func newClient(models generator, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Client{models: models, model: model, breaker: llm.NewBreaker("gemini")}
}

// Generate 调用 GenerateContent，JSON 模式下要求 application/json 输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	return llm.Guard(c.breaker, func() (*llm.Response, error) {
		resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
		if err != nil {
			return nil, classify(err)
		}
		content := strings.TrimSpace(resp.Text())
		if content == "" {
			return nil, xerrors.New(xerrors.CodeMalformedOutput, "Gemini 响应内容为空")
		}
		out := &llm.Response{Content: content, Model: c.model}
		if resp.ModelVersion != "" {
			out.Model = resp.ModelVersion
		}
		if u := resp.UsageMetadata; u != nil {
			out.PromptTokens = int(u.PromptTokenCount)
			out.CompletionTokens = int(u.CandidatesTokenCount)
		}
		return out, nil
	})
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "Gemini 暂时不可用")
		}
		return xerrors.Wrap(xerrors.CodeLLMRejected, err, "Gemini 拒绝了请求")
	}
	return xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "请求 Gemini 失败")
}
