package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// DevGateway 在进程内模拟支付：创建的每个会话都视为已支付。
// 仅用于本地运行和测试。
type DevGateway struct {
	mu       sync.RWMutex
	sessions map[string]CheckoutRequest
}

// NewDevGateway 创建开发用网关。
func NewDevGateway() *DevGateway {
	return &DevGateway{sessions: make(map[string]CheckoutRequest)}
}

// CreateCheckout 记录问卷并直接跳转到成功地址。
func (g *DevGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	id := "cs_dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	g.mu.Lock()
	g.sessions[id] = req
	g.mu.Unlock()
	return &CheckoutSession{ID: id, URL: ExpandSuccessURL(req.SuccessURL, id)}, nil
}

// Verify 对已创建的会话返回已支付。
func (g *DevGateway) Verify(_ context.Context, sessionID string) (*Verification, error) {
	g.mu.RLock()
	req, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "no such checkout session: "+sessionID)
	}
	return &Verification{
		SessionID: sessionID,
		Paid:      true,
		Status:    "complete",
		Inputs:    req.Inputs,
		HasInputs: strings.TrimSpace(req.Inputs.Niche) != "",
	}, nil
}

// ParseWebhook 开发网关不发送 webhook。
func (g *DevGateway) ParseWebhook([]byte, string) (*WebhookEvent, error) {
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "webhooks are not supported by the dev gateway")
}
