package api

import (
	"io"
	"net/http"
	"strings"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

type checkoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Paid     bool   `json:"paid"`
	Status   string `json:"status,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type invalidInputResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// handleCheckout 校验问卷并创建一次性结账会话。
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in questionnaire.Inputs
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, err)
		return
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidInputResponse{Error: "invalid_input", Fields: questionnaire.FieldErrors(err)})
		return
	}

	origin := s.origin(r)
	sess, err := s.deps.Payments.CreateCheckout(r.Context(), payment.CheckoutRequest{
		Inputs:     in,
		SuccessURL: origin + "/generate?session_id=" + payment.SessionPlaceholder,
		CancelURL:  origin + "/generate",
	})
	if err != nil {
		metrics.ObservePayment("checkout", "error")
		s.log.Error("创建结账会话失败", "error", err)
		writeJSON(w, xerrors.HTTPStatus(err), map[string]string{"error": "checkout_failed", "message": xerrors.PublicMessage(err)})
		return
	}
	metrics.ObservePayment("checkout", "ok")
	logger.Audit().Info("checkout_created", "session_id", sess.ID, "niche", in.Niche)
	writeJSON(w, http.StatusOK, checkoutResponse{URL: sess.URL, SessionID: sess.ID})
}

// handleVerify 查询会话是否已支付。会话参数优先取请求体，其次取查询参数。
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if r.Method == http.MethodPost {
		_ = decodeJSON(r, &body)
	}
	sid := strings.TrimSpace(body.SessionID)
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sid == "" {
		writeJSON(w, http.StatusOK, verifyResponse{Reason: "missing_session_id"})
		return
	}

	v, err := s.deps.Payments.Verify(r.Context(), sid)
	if err != nil {
		metrics.ObservePayment("verify", "error")
		writeJSON(w, http.StatusOK, verifyResponse{Reason: xerrors.PublicMessage(err)})
		return
	}
	metrics.ObservePayment("verify", "ok")
	writeJSON(w, http.StatusOK, verifyResponse{Verified: v.Paid, Paid: v.Paid, Status: v.Status})
}

// handleStripeWebhook 在支付完成事件到达时提交任务，买家关闭页面也能拿到文档。
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large")
		return
	}
	event, err := s.deps.Payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.ObservePayment("webhook", "rejected")
		s.log.Warn("webhook 校验失败", "error", err)
		writeError(w, http.StatusBadRequest, xerrors.PublicMessage(err))
		return
	}
	metrics.ObservePayment("webhook", "ok")

	if event.Type != payment.EventCheckoutCompleted || !event.Paid || event.SessionID == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	v, err := s.deps.Payments.Verify(r.Context(), event.SessionID)
	if err != nil {
		// 返回 5xx 让支付平台稍后重投。
		s.log.Error("webhook 查询会话失败", "session_id", event.SessionID, "error", err)
		writeCodedError(w, err)
		return
	}
	if !v.HasInputs {
		s.log.Warn("会话缺少问卷数据，等待买家提交", "session_id", event.SessionID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	in := v.Inputs.Normalize()
	if err := in.Validate(); err != nil {
		s.log.Warn("会话中的问卷无效，等待买家提交", "session_id", event.SessionID, "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	j, err := s.deps.Jobs.Submit(r.Context(), event.SessionID, in)
	if err != nil {
		s.log.Error("webhook 提交任务失败", "session_id", event.SessionID, "error", err)
		writeCodedError(w, err)
		return
	}
	logger.Audit().Info("webhook_job_submitted", "session_id", event.SessionID, "job_id", j.ID, "event_id", event.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// origin 优先使用配置的公网地址，否则根据请求推断。
func (s *Server) origin(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
