package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// WebhookNotifier 以 JSON POST 的方式把告警推送到外部地址（Slack 兼容的入站 webhook 等）。
// Limiter 限制推送频率，超出的告警只写日志，避免故障期间刷屏。
type WebhookNotifier struct {
	URL     string
	Client  *http.Client
	Limiter *rate.Limiter
}

// 默认每 10 秒补充一次配额，突发 5 条。
const (
	defaultWebhookInterval = 10 * time.Second
	defaultWebhookBurst    = 5
)

// NewWebhookNotifier 创建 WebhookNotifier。
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Limiter: rate.NewLimiter(rate.Every(defaultWebhookInterval), defaultWebhookBurst),
	}
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

type webhookPayload struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("job_id", event.JobID))
		return nil
	}
	if n.Limiter != nil && !n.Limiter.Allow() {
		logger.L().Warn("告警推送过于频繁，已跳过",
			slog.String("job_id", event.JobID),
			slog.String("code", string(event.Code)))
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Text: fmt.Sprintf("[%s] %s - %s (job %s, 重试 %d/%d)",
			event.Severity, event.Code, event.Message, event.JobID, event.Attempts, event.MaxRetries),
		Event: event,
	})
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警 webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
