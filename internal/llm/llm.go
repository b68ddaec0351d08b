package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// Request 描述一次补全调用。
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	// JSON 要求模型只输出 JSON 对象。
	JSON bool
}

// Response 是模型返回的原始文本及用量。
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许用函数实现 Client，主要用于测试。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// NewBreaker 返回连续失败三次后熔断、30 秒后半开的断路器。
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// 请求被拒绝不代表上游不可用，不计入熔断。
		IsSuccessful: func(err error) bool {
			return err == nil || xerrors.CodeOf(err) == xerrors.CodeLLMRejected
		},
	})
}

// Guard 通过断路器执行调用，熔断时返回可重试的 LLM_UNAVAILABLE。
func Guard(cb *gobreaker.CircuitBreaker, fn func() (*Response, error)) (*Response, error) {
	if cb == nil {
		return fn()
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "language model circuit open")
		}
		return nil, err
	}
	resp, _ := out.(*Response)
	return resp, nil
}
