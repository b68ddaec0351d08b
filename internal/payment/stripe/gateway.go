// Package stripe implements the payment gateway on Stripe Checkout.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

// Config 描述 Stripe 网关参数。
type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceCents    int64
	Currency      string
	ProductName   string
	// Backends 用于把请求指向测试服务器，生产环境留空。
	Backends *stripeapi.Backends
}

// Gateway 基于 Stripe Checkout 实现 payment.Gateway。
type Gateway struct {
	api           *client.API
	webhookSecret string
	priceCents    int64
	currency      string
	productName   string
	breaker       *gobreaker.CircuitBreaker
}

// New 创建 Stripe 网关。
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("未提供 Stripe secret key")
	}
	if cfg.PriceCents <= 0 {
		cfg.PriceCents = 500
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripeapi.CurrencyUSD)
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "QuickPostKit — 30-Day Content Plan (one-time)"
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, cfg.Backends)
	return &Gateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		priceCents:    cfg.PriceCents,
		currency:      strings.ToLower(cfg.Currency),
		productName:   cfg.ProductName,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "stripe",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !xerrors.RetryableError(err)
			},
		}),
	}, nil
}

// CreateCheckout 创建一次性付款的结账会话，问卷写入会话元数据。
func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(g.currency),
				UnitAmount: stripeapi.Int64(g.priceCents),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(g.productName),
				},
			},
		}},
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Inputs.Metadata() {
		params.AddMetadata(k, v)
	}

	sess, err := g.call(func() (*stripeapi.CheckoutSession, error) {
		return g.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	return &payment.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// Verify 查询会话，payment_status 为 paid 或 no_payment_required 时视为已支付。
func (g *Gateway) Verify(ctx context.Context, sessionID string) (*payment.Verification, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.call(func() (*stripeapi.CheckoutSession, error) {
		return g.api.CheckoutSessions.Get(sessionID, params)
	})
	if err != nil {
		return nil, err
	}
	inputs, ok := questionnaire.FromMetadata(sess.Metadata)
	return &payment.Verification{
		SessionID: sess.ID,
		Paid:      isPaid(sess),
		Status:    string(sess.PaymentStatus),
		Inputs:    inputs,
		HasInputs: ok,
	}, nil
}

// ParseWebhook 校验 Stripe-Signature 并解析结账事件。
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "invalid webhook signature")
	}
	out := &payment.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && event.Data != nil {
		var sess stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "malformed checkout session payload")
		}
		out.SessionID = sess.ID
		out.Paid = isPaid(&sess)
	}
	return out, nil
}

func isPaid(sess *stripeapi.CheckoutSession) bool {
	return sess.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusNoPaymentRequired
}

func (g *Gateway) call(fn func() (*stripeapi.CheckoutSession, error)) (*stripeapi.CheckoutSession, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		sess, err := fn()
		if err != nil {
			return nil, classify(err)
		}
		return sess, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "payment provider circuit open")
		}
		return nil, err
	}
	return out.(*stripeapi.CheckoutSession), nil
}

func classify(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = err.Error()
		}
		switch {
		case se.HTTPStatusCode == http.StatusNotFound:
			return xerrors.Wrap(xerrors.CodeNotFound, err, msg)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return xerrors.Wrap(xerrors.CodePaymentFailure, err, msg)
		case se.HTTPStatusCode >= http.StatusBadRequest:
			return xerrors.Wrap(xerrors.CodePaymentFailure, err, msg, xerrors.WithRetryable(false))
		}
	}
	return xerrors.Wrap(xerrors.CodePaymentFailure, err, "stripe request failed")
}
