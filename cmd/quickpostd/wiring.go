package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/auth"
	"github.com/reeseleonb-crypto/quickpostkit/internal/config"
	"github.com/reeseleonb-crypto/quickpostkit/internal/document"
	"github.com/reeseleonb-crypto/quickpostkit/internal/generator"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm/gemini"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm/openai"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/alerting"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment/stripe"
	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
	"github.com/reeseleonb-crypto/quickpostkit/internal/ratelimit"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// components 汇总 serve 需要的外部依赖，Close 按创建的逆序释放。
type components struct {
	jobs      *job.Service
	store     job.Store
	queue     job.Queue
	artifacts artifact.Store
	payments  payment.Gateway
	llm       llm.Client
	provider  string
	limiter   ratelimit.Limiter
	admin     *auth.Service
	alerts    alerting.Dispatcher

	closers []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildComponents(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.store, err = buildStore(ctx, cfg.Jobs.Store); err != nil {
		return nil, err
	}
	if c.queue, err = buildQueue(ctx, cfg.Jobs.Queue); err != nil {
		_ = c.store.Close()
		return nil, err
	}
	c.jobs = job.NewService(c.store, c.queue, cfg.Jobs.MaxRetries)
	c.closers = append(c.closers, c.jobs.Close)

	if c.artifacts, err = buildArtifacts(ctx, cfg.Artifacts); err != nil {
		return nil, err
	}
	if c.payments, err = buildPayments(cfg.Payment); err != nil {
		return nil, err
	}
	if c.llm, c.provider, err = buildLLM(ctx, cfg.LLM); err != nil {
		return nil, err
	}
	if c.limiter, err = buildLimiter(ctx, cfg.RateLimit); err != nil {
		return nil, err
	}
	if closer, ok := c.limiter.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}
	if c.admin, err = auth.NewService(cfg.Admin.TokenHashes); err != nil {
		return nil, fmt.Errorf("加载管理端令牌失败: %w", err)
	}
	c.alerts = buildAlerts(cfg.Alerts)
	return c, nil
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (job.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "redis":
		store, err := job.NewRedisStore(ctx, job.RedisStoreConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mysql", "postgres":
		dialect, _ := job.DialectByName(driver)
		store, err := job.NewSQLStore(ctx, job.SQLConfig{Dialect: dialect, DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (job.Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return job.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		queue, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Key,
			BlockWait: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "nats":
		queue, err := job.NewNATSQueue(job.NATSConfig{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (artifact.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "local":
		store, err := artifact.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Endpoint:     cfg.S3.Endpoint,
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Prefix:       cfg.S3.Prefix,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UseSSL:       cfg.S3.UseSSL,
			CreateBucket: cfg.S3.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的文档存储驱动: %s", cfg.Driver)
	}
}

func buildPayments(cfg config.PaymentConfig) (payment.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "dev":
		return payment.NewDevGateway(), nil
	case "", "stripe":
		gateway, err := stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			PriceCents:    cfg.Stripe.PriceCents,
			Currency:      cfg.Stripe.Currency,
			ProductName:   cfg.Stripe.ProductName,
		})
		if err != nil {
			return nil, err
		}
		return gateway, nil
	default:
		return nil, fmt.Errorf("未知的支付驱动: %s", cfg.Driver)
	}
}

// buildLLM 返回客户端与 provider 名称，名称用于指标标签。
func buildLLM(ctx context.Context, cfg config.LLMConfig) (llm.Client, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Timeout:     seconds(cfg.OpenAI.TimeoutSeconds),
			MaxAttempts: cfg.OpenAI.MaxAttempts,
			BaseDelay:   millis(cfg.OpenAI.BaseDelayMS),
			MaxDelay:    millis(cfg.OpenAI.MaxDelayMS),
			Jitter:      millis(cfg.OpenAI.JitterMS),
		})
		if err != nil {
			return nil, "", err
		}
		return client, "openai", nil
	case "gemini":
		client, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model})
		if err != nil {
			return nil, "", err
		}
		return client, "gemini", nil
	default:
		return nil, "", fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

func buildLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	window := seconds(cfg.WindowSeconds)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return ratelimit.NewMemoryLimiter(cfg.MaxRequests, window), nil
	case "redis":
		limiter, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Key,
		}, cfg.MaxRequests, window)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	default:
		return nil, fmt.Errorf("未知的限流驱动: %s", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertsConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url))
	}
	return alerting.NewFanout(notifiers...)
}

// buildGenerator 组装生成管线。artifacts 为空时只能用于 Build 与 Render。
func buildGenerator(cfg *config.Config, client llm.Client, provider string, artifacts artifact.Store) (*generator.Generator, error) {
	rules, err := generator.RulesFromConfig(cfg.Document.NicheHashtags)
	if err != nil {
		return nil, err
	}
	opts := []generator.Option{
		generator.WithProvider(provider),
		generator.WithPolisher(plan.NewPolisher(0, rules...)),
		generator.WithRenderer(document.NewRenderer(cfg.Document.Brand, cfg.Document.Copyright)),
		generator.WithTemperature(cfg.LLM.Temperature),
	}
	if provider == "openai" && cfg.LLM.OpenAI.MaxAttempts > 0 {
		opts = append(opts, generator.WithLLMTimeout(seconds(cfg.LLM.OpenAI.TimeoutSeconds*cfg.LLM.OpenAI.MaxAttempts)+millis(cfg.LLM.OpenAI.MaxDelayMS)))
	}
	return generator.New(client, artifacts, opts...), nil
}
