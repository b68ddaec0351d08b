package quickpost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("/api", nil); err == nil {
		t.Fatal("expected error for relative base url")
	}
}

func TestCheckoutSendsInputs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/checkout" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var in Inputs
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if in.Niche != "bakery" || in.ContentBalance == nil || *in.ContentBalance != 70 {
			t.Fatalf("unexpected inputs: %+v", in)
		}
		_ = json.NewEncoder(w).Encode(CheckoutSession{URL: "https://pay.test/cs_1", SessionID: "cs_1"})
	})

	sess, err := client.Checkout(context.Background(), Inputs{Niche: "bakery", ContentBalance: Balance(70)})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if sess.SessionID != "cs_1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestCheckoutInvalidInputError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_input","fields":{"niche":"required"}}`))
	})

	_, err := client.Checkout(context.Background(), Inputs{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_input" || apiErr.Fields["niche"] != "required" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestJobBySessionEncodesQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs" || r.URL.Query().Get("session_id") != "cs a&b" {
			t.Fatalf("unexpected request: %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode(Job{JobID: "job_1", Status: StatusWorking})
	})

	j, err := client.JobBySession(context.Background(), "cs a&b")
	if err != nil {
		t.Fatalf("job by session: %v", err)
	}
	if j.JobID != "job_1" || j.Done() {
		t.Fatalf("unexpected job: %+v", j)
	}
}

func TestWaitForJobPollsUntilReady(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		status := StatusWorking
		if calls.Add(1) >= 3 {
			status = StatusReady
		}
		_ = json.NewEncoder(w).Encode(Job{JobID: "job_1", Status: status, Filename: "plan.docx"})
	})

	j, err := client.WaitForJob(context.Background(), "job_1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if j.Status != StatusReady || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", j, calls.Load())
	}
}

func TestWaitForJobReportsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Job{JobID: "job_1", Status: StatusFailed, Error: "document rendering failed"})
	})

	j, err := client.WaitForJob(context.Background(), "job_1", time.Millisecond)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if j.Error == "" {
		t.Fatal("expected failure message")
	}
}

func TestWaitForJobHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Job{JobID: "job_1", Status: StatusWorking})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForJob(ctx, "job_1", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestDownloadStreamsBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/download/plan.docx":
			_, _ = w.Write([]byte("PK\x03\x04data"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
		}
	})

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), "plan.docx", &buf)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != 8 || !strings.HasPrefix(buf.String(), "PK") {
		t.Fatalf("unexpected body (%d bytes): %q", n, buf.String())
	}

	_, err = client.Download(context.Background(), "missing.docx", &buf)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestAdminCallsRequireToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		switch r.URL.Path {
		case "/api/admin/jobs":
			if r.URL.Query().Get("status") != "failed" {
				t.Fatalf("missing status filter: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []Job{{JobID: "job_1"}}, "count": 1})
		case "/api/admin/jobs/job_1/retry":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Job{JobID: "job_1", Status: StatusWorking})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	if _, err := client.ListJobs(ctx, nil); err == nil {
		t.Fatal("expected error without token")
	}

	client.SetAdminToken("s3cret")
	jobs, err := client.ListJobs(ctx, url.Values{"status": {"failed"}})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	j, err := client.RetryJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if j.Status != StatusWorking {
		t.Fatalf("unexpected status %s", j.Status)
	}
}
