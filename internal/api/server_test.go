package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/auth"
	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/payment"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/internal/ratelimit"
)

const adminToken = "admin-secret"

type stubGateway struct {
	verification *payment.Verification
	verifyErr    error
	event        *payment.WebhookEvent
	webhookErr   error
}

func (g *stubGateway) CreateCheckout(context.Context, payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	return nil, xerrors.New(xerrors.CodePaymentFailure, "stripe unavailable")
}

func (g *stubGateway) Verify(_ context.Context, sessionID string) (*payment.Verification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v := *g.verification
	v.SessionID = sessionID
	return &v, nil
}

func (g *stubGateway) ParseWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return g.event, g.webhookErr
}

type testEnv struct {
	server    *Server
	store     *job.MemoryStore
	queue     *job.MemoryQueue
	artifacts *artifact.LocalStore
}

func newTestEnv(t *testing.T, gateway payment.Gateway, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	store := job.NewMemoryStore()
	queue := job.NewMemoryQueue(32)
	artifacts, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	admin, err := auth.NewService([]string{"ops:" + string(hash)})
	require.NoError(t, err)

	srv := NewServer(Options{PublicURL: "https://quickpost.test/"}, Deps{
		Payments:  gateway,
		Jobs:      job.NewService(store, queue, 3),
		Artifacts: artifacts,
		Limiter:   limiter,
		Admin:     admin,
	})
	return &testEnv{server: srv, store: store, queue: queue, artifacts: artifacts}
}

func (e *testEnv) do(method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:5555"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func validInputs() map[string]any {
	return map[string]any{
		"niche":              "Mobile dog grooming",
		"audience":           "busy pet owners",
		"product_or_service": "van grooming visits",
		"content_balance":    "60/40 edu/promo",
	}
}

func TestCheckoutRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)

	rec := env.do(http.MethodPost, "/api/checkout", map[string]any{"niche": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "invalid_input", body["error"])
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok, body)
	assert.Contains(t, fields, "niche")
	assert.Contains(t, fields, "audience")
}

func TestCheckoutGatewayFailure(t *testing.T) {
	env := newTestEnv(t, &stubGateway{}, nil)
	rec := env.do(http.MethodPost, "/api/checkout", validInputs())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "checkout_failed", decode(t, rec)["error"])
}

func TestCheckoutVerifyGenerateFlow(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)

	rec := env.do(http.MethodPost, "/api/checkout", validInputs())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkout := decode(t, rec)
	sid, _ := checkout["session_id"].(string)
	require.NotEmpty(t, sid)
	assert.Equal(t, "https://quickpost.test/generate?session_id="+sid, checkout["url"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = env.do(http.MethodPost, "/api/verify", map[string]string{"session_id": sid})
	assert.Equal(t, true, decode(t, rec)["verified"])
	rec = env.do(http.MethodGet, "/api/verify?session_id="+sid, nil)
	assert.Equal(t, true, decode(t, rec)["paid"])

	rec = env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": sid})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	gen := decode(t, rec)
	jobID, _ := gen["job_id"].(string)
	require.True(t, job.ValidID(jobID), jobID)
	assert.Equal(t, jobID, gen["id"])
	assert.Equal(t, "working", gen["status"])
	assert.Equal(t, "/api/jobs/"+jobID, gen["poll_url"])

	again := decode(t, env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": sid}))
	assert.Equal(t, jobID, again["job_id"], "generate is idempotent per session")
	assert.Equal(t, 1, env.queue.Len())

	stored, err := env.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, questionnaire.BalanceOf(60), stored.Inputs.ContentBalance)

	rec = env.do(http.MethodGet, "/api/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "working", decode(t, rec)["status"])

	rec = env.do(http.MethodGet, "/api/jobs?session_id="+sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, decode(t, rec)["job_id"])
}

func TestVerifyMissingSession(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)

	rec := env.do(http.MethodGet, "/api/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"verified":false,"paid":false,"reason":"missing_session_id"}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/verify", map[string]string{"session_id": "cs_unknown"})
	body := decode(t, rec)
	assert.Equal(t, false, body["verified"])
	assert.Contains(t, body["reason"], "cs_unknown")
}

func TestGenerateRequiresPayment(t *testing.T) {
	env := newTestEnv(t, &stubGateway{verification: &payment.Verification{Paid: false, Status: "open"}}, nil)

	rec := env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": "cs_1"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = env.do(http.MethodPost, "/api/generate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing_session_id"}`, rec.Body.String())
}

func TestGenerateFallsBackToBodyInputs(t *testing.T) {
	env := newTestEnv(t, &stubGateway{verification: &payment.Verification{Paid: true}}, nil)

	rec := env.do(http.MethodPost, "/api/generate", map[string]any{"session_id": "cs_1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/api/generate", map[string]any{"session_id": "cs_1", "inputs": validInputs()})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	stored, err := env.store.GetBySession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "Mobile dog grooming", stored.Inputs.Niche)
}

func TestGenerateIsRateLimited(t *testing.T) {
	gateway := &stubGateway{verification: &payment.Verification{Paid: false}}
	env := newTestEnv(t, gateway, ratelimit.NewMemoryLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": "cs_1"})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": "cs_1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests. Please slow down and try again shortly."}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = env.do(http.MethodPost, "/api/generate", map[string]string{"session_id": "cs_1"}, "X-Real-IP", "198.51.100.7")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code, "other clients keep their own budget")
}

func TestJobDetail(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)
	ctx := context.Background()

	rec := env.do(http.MethodGet, "/api/jobs/job_missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/jobs/NOT-A-JOB", nil).Code)

	require.NoError(t, env.store.Create(ctx, &job.Job{ID: "job_ready", SessionID: "cs_ready", MaxRetries: 3}))
	_, err := env.store.Claim(ctx, "job_ready", time.Minute)
	require.NoError(t, err)
	require.NoError(t, env.store.MarkReady(ctx, "job_ready", "QuickPostKit_plan_1.docx"))

	body := decode(t, env.do(http.MethodGet, "/api/jobs/job_ready", nil))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "QuickPostKit_plan_1.docx", body["filename"])
	assert.Equal(t, "/api/download/QuickPostKit_plan_1.docx", body["download_url"])

	require.NoError(t, env.store.Create(ctx, &job.Job{ID: "job_failed", SessionID: "cs_failed", MaxRetries: 3}))
	_, err = env.store.Claim(ctx, "job_failed", time.Minute)
	require.NoError(t, err)
	require.NoError(t, env.store.MarkFailed(ctx, "job_failed", xerrors.CodeLLMRejected, "400 from provider: secret detail", true))

	body = decode(t, env.do(http.MethodGet, "/api/jobs/job_failed", nil))
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "language model rejected the request", body["error"])
	assert.NotContains(t, body, "download_url")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/jobs", nil).Code)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)
	require.NoError(t, env.artifacts.Put(context.Background(), "plan.docx", strings.NewReader("PKdocx"), 6))

	rec := env.do(http.MethodGet, "/api/download/plan.docx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PKdocx", rec.Body.String())
	assert.Equal(t, docxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="plan.docx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = env.do(http.MethodGet, "/api/download/missing.docx", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/download/secrets.txt", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/download/..plan.docx", nil).Code)
}

func TestStripeWebhookSubmitsJob(t *testing.T) {
	inputs := questionnaire.Inputs{Niche: "Bakery", Audience: "locals", ProductOrService: "sourdough"}
	gateway := &stubGateway{
		verification: &payment.Verification{Paid: true, Inputs: inputs, HasInputs: true},
		event:        &payment.WebhookEvent{ID: "evt_1", Type: payment.EventCheckoutCompleted, SessionID: "cs_hook", Paid: true},
	}
	env := newTestEnv(t, gateway, nil)

	rec := env.do(http.MethodPost, "/api/webhooks/stripe", `{"id":"evt_1"}`, "Stripe-Signature", "t=1,v1=abc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.store.GetBySession(context.Background(), "cs_hook")
	require.NoError(t, err)
	assert.Equal(t, "Bakery", stored.Inputs.Niche)
	assert.Equal(t, 1, env.queue.Len())

	gateway.webhookErr = xerrors.New(xerrors.CodeUnauthorized, "invalid webhook signature")
	rec = env.do(http.MethodPost, "/api/webhooks/stripe", `{}`, "Stripe-Signature", "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)
	ctx := context.Background()
	bearer := []string{"Authorization", "Bearer " + adminToken}

	require.NoError(t, env.store.Create(ctx, &job.Job{ID: "job_f", SessionID: "cs_f", MaxRetries: 3}))
	_, err := env.store.Claim(ctx, "job_f", time.Minute)
	require.NoError(t, err)
	require.NoError(t, env.store.MarkFailed(ctx, "job_f", xerrors.CodeLLMRejected, "rejected", true))

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/admin/jobs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/admin/jobs", nil, "Authorization", "Bearer nope").Code)

	rec := env.do(http.MethodGet, "/api/admin/jobs?status=failed", nil, bearer...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(http.MethodGet, "/api/admin/jobs?status=bogus", nil, bearer...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/admin/jobs/stats", nil, bearer...)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats job.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Failed)

	rec = env.do(http.MethodPost, "/api/admin/jobs/job_f/retry", nil, bearer...)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "working", decode(t, rec)["status"])
	assert.Equal(t, 1, env.queue.Len())
}

func TestHealthMetricsAndHeaders(t *testing.T) {
	env := newTestEnv(t, payment.NewDevGateway(), nil)

	rec := env.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"X-Content-Type-Options": "nosniff",
		"X-DNS-Prefetch-Control": "off",
	} {
		assert.Equal(t, want, rec.Header().Get(header), header)
	}
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))

	rec = env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `quickpostkit_http_requests_total{handler="/healthz",method="GET",code="200"}`)
}

func TestBodyLimit(t *testing.T) {
	srv := NewServer(Options{MaxBodyBytes: 16}, Deps{Payments: payment.NewDevGateway()})
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"niche":"`+strings.Repeat("x", 64)+`"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
