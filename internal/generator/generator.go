package generator

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/document"
	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
	"github.com/reeseleonb-crypto/quickpostkit/internal/prompt"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// PlanDays 是每份计划的天数。
const PlanDays = 30

// DefaultTemperature 是生成计划时的采样温度。
const DefaultTemperature = 0.55

// Generator 协调大模型、后处理、文档渲染与存储。
type Generator struct {
	llmClient   llm.Client
	provider    string
	polisher    *plan.Polisher
	renderer    *document.Renderer
	artifacts   artifact.Store
	temperature float64
	llmTimeout  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option 定义可选的 Generator 配置。
type Option func(*Generator)

// WithProvider 设置用于指标标签的模型提供方名称。
func WithProvider(name string) Option {
	return func(g *Generator) {
		if name != "" {
			g.provider = name
		}
	}
}

// WithPolisher 替换默认的后处理器。
func WithPolisher(p *plan.Polisher) Option {
	return func(g *Generator) {
		if p != nil {
			g.polisher = p
		}
	}
}

// WithRenderer 替换默认的文档渲染器。
func WithRenderer(r *document.Renderer) Option {
	return func(g *Generator) {
		if r != nil {
			g.renderer = r
		}
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		if t > 0 {
			g.temperature = t
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间，0 表示只受上游 ctx 约束。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		if timeout < 0 {
			timeout = 0
		}
		g.llmTimeout = timeout
	}
}

// WithClock 替换时间来源，用于生成文件名。
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New 创建 Generator。artifacts 为空时只能使用 Build 与 Render。
func New(client llm.Client, artifacts artifact.Store, opts ...Option) *Generator {
	g := &Generator{
		llmClient:   client,
		provider:    "llm",
		artifacts:   artifacts,
		temperature: DefaultTemperature,
		now:         time.Now,
		logger:      logger.Named("generator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.polisher == nil {
		g.polisher = plan.NewPolisher(0, DefaultNicheRules()...)
	}
	if g.renderer == nil {
		g.renderer = document.NewRenderer("", "")
	}
	return g
}

// Build 调用大模型并整理出恰好 30 天的计划。
func (g *Generator) Build(ctx context.Context, in questionnaire.Inputs) (plan.Plan, error) {
	if g.llmClient == nil {
		return plan.Plan{}, xerrors.New(xerrors.CodeLLMUnavailable, "未配置大模型客户端", xerrors.WithRetryable(false))
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return plan.Plan{}, err
	}

	llmCtx := ctx
	if g.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, g.llmTimeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := g.llmClient.Generate(llmCtx, llm.Request{
		System:      prompt.System(),
		Prompt:      prompt.User(in),
		Temperature: g.temperature,
		JSON:        true,
	})
	if err != nil {
		metrics.ObserveLLMCall(g.provider, string(xerrors.CodeOf(err)), time.Since(started), 0, 0)
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return plan.Plan{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型生成超时")
		}
		if _, ok := xerrors.From(err); ok {
			return plan.Plan{}, err
		}
		return plan.Plan{}, xerrors.Wrap(xerrors.CodeLLMUnavailable, err, "大模型生成失败")
	}
	metrics.ObserveLLMCall(g.provider, "ok", time.Since(started), resp.PromptTokens, resp.CompletionTokens)

	p, err := plan.Coerce(resp.Content)
	if err != nil {
		g.logger.Warn("模型输出无法解析", "model", resp.Model, "error", err)
		return plan.Plan{}, err
	}
	if len(p.Days) != PlanDays {
		g.logger.Info("模型返回天数不足或过多，已补齐", "days", len(p.Days), "model", resp.Model)
	}
	p = plan.EnsureExactly(p, PlanDays)
	return g.polisher.Polish(p, in), nil
}

// Render 把计划渲染为 docx 字节。
func (g *Generator) Render(p plan.Plan, in questionnaire.Inputs) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.renderer.Render(&buf, p, in.Normalize()); err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeRenderFailure, err, "渲染文档失败")
	}
	return buf.Bytes(), nil
}

// Filename 返回当前时刻的文档名，没有任务时使用随机后缀。
func (g *Generator) Filename(in questionnaire.Inputs) string {
	return document.Filename(in, g.now(), "")
}

// Execute 实现 job.Executor：生成、渲染并保存文档，返回文件名。
func (g *Generator) Execute(ctx context.Context, j *job.Job) (string, error) {
	if j == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "任务不能为空")
	}
	if g.artifacts == nil {
		return "", xerrors.New(xerrors.CodeArtifactFailure, "未配置文档存储", xerrors.WithRetryable(false))
	}

	p, err := g.Build(ctx, j.Inputs)
	if err != nil {
		return "", err
	}
	body, err := g.Render(p, j.Inputs)
	if err != nil {
		return "", err
	}

	name := document.Filename(j.Inputs, g.now(), strings.TrimPrefix(j.ID, job.IDPrefix))
	if err := g.artifacts.Put(ctx, name, bytes.NewReader(body), int64(len(body))); err != nil {
		if _, ok := xerrors.From(err); ok {
			return "", err
		}
		return "", xerrors.Wrap(xerrors.CodeArtifactFailure, err, "保存文档失败")
	}
	g.logger.Info("计划文档已生成", "job_id", j.ID, "filename", name, "bytes", len(body))
	return name, nil
}

var _ job.Executor = (*Generator)(nil)
