package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersSeries(t *testing.T) {
	defaultCollector.reset()
	t.Cleanup(defaultCollector.reset)

	ObserveHTTPRequest("/api/generate", "POST", 202, 120*time.Millisecond)
	ObserveHTTPRequest("/api/generate", "POST", 502, 2*time.Second)
	ObserveJob("ready", 40*time.Second)
	ObserveLLMCall("openai", "ok", 3*time.Second, 900, 4000)
	ObserveSweep(2, 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`quickpostkit_http_requests_total{handler="/api/generate",method="POST",code="202"} 1`,
		`quickpostkit_http_request_errors_total{handler="/api/generate",method="POST"} 1`,
		`quickpostkit_http_request_duration_seconds_bucket{handler="/api/generate",method="POST",le="0.25"} 1`,
		`quickpostkit_http_request_duration_seconds_bucket{handler="/api/generate",method="POST",le="+Inf"} 2`,
		`quickpostkit_jobs_total{outcome="ready"} 1`,
		`quickpostkit_job_duration_seconds_count{outcome="ready"} 1`,
		`quickpostkit_llm_tokens_total{provider="openai",kind="completion"} 4000`,
		`quickpostkit_artifacts_swept_total 2`,
		"# TYPE quickpostkit_llm_request_duration_seconds histogram",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestEscapeLabelValues(t *testing.T) {
	if got := escape("a\"b\\c\n"); got != `a\"b\\c` {
		t.Fatalf("unexpected escape result %q", got)
	}
}
