// Package payment abstracts the checkout provider used to charge for a plan.
package payment

import (
	"context"
	"strings"

	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

// SessionPlaceholder 会被支付网关替换为真实的会话 ID。
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// EventCheckoutCompleted 是支付完成的 webhook 事件类型。
const EventCheckoutCompleted = "checkout.session.completed"

// CheckoutRequest 描述一次结账。
type CheckoutRequest struct {
	Inputs     questionnaire.Inputs
	SuccessURL string
	CancelURL  string
}

// CheckoutSession 是创建成功的结账会话。
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Verification 是会话支付状态的查询结果。
type Verification struct {
	SessionID string
	Paid      bool
	Status    string
	Inputs    questionnaire.Inputs
	HasInputs bool
}

// WebhookEvent 是经过签名校验的支付事件。
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	Paid      bool
}

// Gateway 定义支付网关的最小能力。
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Verify(ctx context.Context, sessionID string) (*Verification, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// ExpandSuccessURL 用会话 ID 替换占位符，供不支持模板的网关使用。
func ExpandSuccessURL(url, sessionID string) string {
	return strings.ReplaceAll(url, SessionPlaceholder, sessionID)
}
