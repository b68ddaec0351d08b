package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述 QuickPostKit 启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Payment   PaymentConfig   `json:"payment" yaml:"payment"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Jobs      JobsConfig      `json:"jobs" yaml:"jobs"`
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Document  DocumentConfig  `json:"document" yaml:"document"`
	Admin     AdminConfig     `json:"admin" yaml:"admin"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址与超时。
type ServerConfig struct {
	Address                string `json:"address" yaml:"address"`
	PublicURL              string `json:"public_url" yaml:"public_url"`
	StaticDir              string `json:"static_dir" yaml:"static_dir"`
	MetricsAddress         string `json:"metrics_address" yaml:"metrics_address"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `json:"max_body_bytes" yaml:"max_body_bytes"`

	// CORSOrigins 为空时不启用跨域。
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	MaxSizeMB   int         `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int         `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int         `json:"max_age_days" yaml:"max_age_days"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// PaymentConfig 选择支付网关实现。
type PaymentConfig struct {
	Driver string       `json:"driver" yaml:"driver"`
	Stripe StripeConfig `json:"stripe" yaml:"stripe"`
}

// StripeConfig 描述 Stripe Checkout 的价格与密钥。
type StripeConfig struct {
	SecretKey        string `json:"secret_key" yaml:"secret_key"`
	SecretKeyEnv     string `json:"secret_key_env" yaml:"secret_key_env"`
	WebhookSecret    string `json:"webhook_secret" yaml:"webhook_secret"`
	WebhookSecretEnv string `json:"webhook_secret_env" yaml:"webhook_secret_env"`
	PriceCents       int64  `json:"price_cents" yaml:"price_cents"`
	Currency         string `json:"currency" yaml:"currency"`
	ProductName      string `json:"product_name" yaml:"product_name"`
	SuccessPath      string `json:"success_path" yaml:"success_path"`
	CancelPath       string `json:"cancel_path" yaml:"cancel_path"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider    string       `json:"provider" yaml:"provider"`
	Temperature float64      `json:"temperature" yaml:"temperature"`
	OpenAI      OpenAIConfig `json:"openai" yaml:"openai"`
	Gemini      GeminiConfig `json:"gemini" yaml:"gemini"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的连接参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts    int    `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMS    int    `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS     int    `json:"max_delay_ms" yaml:"max_delay_ms"`
	JitterMS       int    `json:"jitter_ms" yaml:"jitter_ms"`
}

// GeminiConfig 描述 Google Gemini 的连接参数。
type GeminiConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	Model     string `json:"model" yaml:"model"`
}

// JobsConfig 控制生成任务的存储、队列与重试。
type JobsConfig struct {
	Workers        int         `json:"workers" yaml:"workers"`
	MaxRetries     int         `json:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int         `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryDelayMS   int         `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	LeaseSeconds   int         `json:"lease_seconds" yaml:"lease_seconds"`
	RetentionHours int         `json:"retention_hours" yaml:"retention_hours"`
	Store          StoreConfig `json:"store" yaml:"store"`
	Queue          QueueConfig `json:"queue" yaml:"queue"`
}

// StoreConfig 选择任务存储后端：memory、redis、mysql 或 postgres。
type StoreConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	DSN    string      `json:"dsn" yaml:"dsn"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// QueueConfig 选择任务队列：memory、redis、rabbitmq 或 nats。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// NATSConfig 描述 NATS 连接信息。
type NATSConfig struct {
	URL        string `json:"url" yaml:"url"`
	Subject    string `json:"subject" yaml:"subject"`
	QueueGroup string `json:"queue_group" yaml:"queue_group"`
}

// ArtifactsConfig 选择文档存储：local 或 s3。
type ArtifactsConfig struct {
	Driver string   `json:"driver" yaml:"driver"`
	Dir    string   `json:"dir" yaml:"dir"`
	S3     S3Config `json:"s3" yaml:"s3"`
}

// S3Config 描述 S3 兼容对象存储。
type S3Config struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	AccessKey    string `json:"access_key" yaml:"access_key"`
	SecretKey    string `json:"secret_key" yaml:"secret_key"`
	UseSSL       bool   `json:"use_ssl" yaml:"use_ssl"`
	CreateBucket bool   `json:"create_bucket" yaml:"create_bucket"`
}

// RateLimitConfig 控制生成接口的限流。
type RateLimitConfig struct {
	Driver        string      `json:"driver" yaml:"driver"`
	MaxRequests   int         `json:"max_requests" yaml:"max_requests"`
	WindowSeconds int         `json:"window_seconds" yaml:"window_seconds"`
	Redis         RedisConfig `json:"redis" yaml:"redis"`
}

// DocumentConfig 控制文档品牌信息与话题标签注入规则。
type DocumentConfig struct {
	Brand         string             `json:"brand" yaml:"brand"`
	Copyright     string             `json:"copyright" yaml:"copyright"`
	NicheHashtags []NicheHashtagRule `json:"niche_hashtags" yaml:"niche_hashtags"`
}

// NicheHashtagRule 在细分领域匹配时注入固定话题标签。
type NicheHashtagRule struct {
	Pattern string   `json:"pattern" yaml:"pattern"`
	Tags    []string `json:"tags" yaml:"tags"`
}

// AdminConfig 列出管理端令牌的 bcrypt 摘要。
type AdminConfig struct {
	TokenHashes []string `json:"token_hashes" yaml:"token_hashes"`
}

// AlertsConfig 配置告警通知渠道。
type AlertsConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// SchedulerConfig 控制定时清理任务。
type SchedulerConfig struct {
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的配置文件，按扩展名区分 JSON 与 YAML。
// 路径为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &cfg)
		default:
			err = json.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖密钥与常用运行参数。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("QPK_ADDRESS", &c.Server.Address)
	str("QPK_PUBLIC_URL", &c.Server.PublicURL)
	str("QPK_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("QPK_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}
	str("QPK_PAYMENT_DRIVER", &c.Payment.Driver)
	str("QPK_LLM_PROVIDER", &c.LLM.Provider)
	str("QPK_JOB_STORE", &c.Jobs.Store.Driver)
	str("QPK_JOB_STORE_DSN", &c.Jobs.Store.DSN)
	str("QPK_JOB_QUEUE", &c.Jobs.Queue.Driver)
	str("QPK_ARTIFACTS_DIR", &c.Artifacts.Dir)
	num("QPK_RL_MAX", &c.RateLimit.MaxRequests)
	num("QPK_RL_WINDOW_SECONDS", &c.RateLimit.WindowSeconds)
	num("QPK_OPENAI_ATTEMPTS", &c.LLM.OpenAI.MaxAttempts)
	if v, ok := lookup("QPK_OPENAI_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms > 0 {
			c.LLM.OpenAI.TimeoutSeconds = (ms + 999) / 1000
		}
	}

	secret := func(dst *string, envName, fallbackEnv string) {
		if *dst != "" {
			return
		}
		if envName == "" {
			envName = fallbackEnv
		}
		str(envName, dst)
	}
	secret(&c.Payment.Stripe.SecretKey, c.Payment.Stripe.SecretKeyEnv, "STRIPE_SECRET_KEY")
	secret(&c.Payment.Stripe.WebhookSecret, c.Payment.Stripe.WebhookSecretEnv, "STRIPE_WEBHOOK_SECRET")
	secret(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv, "OPENAI_API_KEY")
	secret(&c.LLM.Gemini.APIKey, c.LLM.Gemini.APIKeyEnv, "GEMINI_API_KEY")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if *dst <= 0 {
			*dst = v
		}
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	setStr(&c.Server.Address, ":8080")
	setInt(&c.Server.ReadTimeoutSeconds, 15)
	setInt(&c.Server.WriteTimeoutSeconds, 60)
	setInt(&c.Server.ShutdownTimeoutSeconds, 10)
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}
	c.Server.StaticDir = resolve(c.Server.StaticDir)

	setStr(&c.Log.Level, "info")
	setStr(&c.Log.Format, "json")

	setStr(&c.Payment.Driver, "stripe")
	if c.Payment.Stripe.PriceCents <= 0 {
		c.Payment.Stripe.PriceCents = 500
	}
	setStr(&c.Payment.Stripe.Currency, "usd")
	setStr(&c.Payment.Stripe.ProductName, "QuickPostKit — 30-Day Content Plan (one-time)")
	setStr(&c.Payment.Stripe.SuccessPath, "/generate?session_id={CHECKOUT_SESSION_ID}")
	setStr(&c.Payment.Stripe.CancelPath, "/generate")

	setStr(&c.LLM.Provider, "openai")
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.55
	}
	setStr(&c.LLM.OpenAI.BaseURL, "https://api.openai.com/v1")
	setStr(&c.LLM.OpenAI.Model, "gpt-4o-mini")
	setInt(&c.LLM.OpenAI.TimeoutSeconds, 45)
	setInt(&c.LLM.OpenAI.MaxAttempts, 2)
	setInt(&c.LLM.OpenAI.BaseDelayMS, 400)
	setInt(&c.LLM.OpenAI.MaxDelayMS, 5000)
	setInt(&c.LLM.OpenAI.JitterMS, 150)
	setStr(&c.LLM.Gemini.Model, "gemini-2.0-flash")

	setInt(&c.Jobs.Workers, 2)
	setInt(&c.Jobs.MaxRetries, 3)
	setInt(&c.Jobs.TimeoutSeconds, 180)
	setInt(&c.Jobs.RetryDelayMS, 2000)
	setInt(&c.Jobs.LeaseSeconds, 600)
	setInt(&c.Jobs.RetentionHours, 24)
	setStr(&c.Jobs.Store.Driver, "memory")
	setStr(&c.Jobs.Store.Redis.Key, "quickpostkit")
	setStr(&c.Jobs.Queue.Driver, "memory")
	setInt(&c.Jobs.Queue.Buffer, 64)
	setStr(&c.Jobs.Queue.Redis.Key, "quickpostkit:jobs:queue")
	setStr(&c.Jobs.Queue.RabbitMQ.Queue, "quickpostkit.jobs")
	setInt(&c.Jobs.Queue.RabbitMQ.Prefetch, 4)
	setStr(&c.Jobs.Queue.NATS.URL, "nats://127.0.0.1:4222")
	setStr(&c.Jobs.Queue.NATS.Subject, "quickpostkit.jobs")
	setStr(&c.Jobs.Queue.NATS.QueueGroup, "quickpostkit-workers")

	setStr(&c.Runtime.DataDir, "data")
	c.Runtime.DataDir = resolve(c.Runtime.DataDir)
	setStr(&c.Artifacts.Driver, "local")
	setStr(&c.Artifacts.Dir, filepath.Join(c.Runtime.DataDir, "artifacts"))
	c.Artifacts.Dir = resolve(c.Artifacts.Dir)
	setStr(&c.Artifacts.S3.Region, "us-east-1")

	setStr(&c.RateLimit.Driver, "memory")
	setInt(&c.RateLimit.MaxRequests, 5)
	setInt(&c.RateLimit.WindowSeconds, 60)
	setStr(&c.RateLimit.Redis.Key, "quickpostkit:rl")

	setStr(&c.Document.Brand, "Fifth Element Labs")
	setStr(&c.Document.Copyright, "© 2025 Fifth Element Labs — One-time license")
	if c.Document.NicheHashtags == nil {
		c.Document.NicheHashtags = []NicheHashtagRule{{
			Pattern: `power\s*-?\s*wash|pressure\s*wash|soft\s*wash|cleaning`,
			Tags:    []string{"#powerwashing", "#cleaningtips", "#satisfyingvideo"},
		}}
	}

	setStr(&c.Scheduler.SweepSchedule, "@every 15m")
}

// Validate 检查驱动名称与必需的连接参数。
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q (可选: %s)", field, value, strings.Join(allowed, ", ")))
	}

	oneOf("payment.driver", c.Payment.Driver, "stripe", "dev")
	oneOf("llm.provider", c.LLM.Provider, "openai", "gemini")
	oneOf("jobs.store.driver", c.Jobs.Store.Driver, "memory", "redis", "mysql", "postgres")
	oneOf("jobs.queue.driver", c.Jobs.Queue.Driver, "memory", "redis", "rabbitmq", "nats")
	oneOf("artifacts.driver", c.Artifacts.Driver, "local", "s3")
	oneOf("rate_limit.driver", c.RateLimit.Driver, "memory", "redis")

	switch strings.ToLower(c.Jobs.Store.Driver) {
	case "mysql", "postgres":
		if c.Jobs.Store.DSN == "" {
			errs = append(errs, errors.New("jobs.store.dsn 不能为空"))
		}
	case "redis":
		if c.Jobs.Store.Redis.Address == "" {
			errs = append(errs, errors.New("jobs.store.redis.address 不能为空"))
		}
	}
	switch strings.ToLower(c.Jobs.Queue.Driver) {
	case "redis":
		if c.Jobs.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("jobs.queue.redis.address 不能为空"))
		}
	case "rabbitmq":
		if c.Jobs.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("jobs.queue.rabbitmq.url 不能为空"))
		}
	}
	if strings.EqualFold(c.Artifacts.Driver, "s3") && (c.Artifacts.S3.Endpoint == "" || c.Artifacts.S3.Bucket == "") {
		errs = append(errs, errors.New("artifacts.s3.endpoint 与 artifacts.s3.bucket 不能为空"))
	}
	if strings.EqualFold(c.RateLimit.Driver, "redis") && c.RateLimit.Redis.Address == "" {
		errs = append(errs, errors.New("rate_limit.redis.address 不能为空"))
	}
	return errors.Join(errs...)
}
