package metrics

import (
	"strconv"
	"time"
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.add("http_requests_total", 1, handler, method, strconv.Itoa(status))
	if status >= 500 {
		defaultCollector.add("http_request_errors_total", 1, handler, method)
	}
	defaultCollector.observe("http_request_duration_seconds", duration.Seconds(), handler, method)
}

// ObserveRateLimited counts a request rejected by the limiter.
func ObserveRateLimited(handler string) {
	defaultCollector.add("rate_limited_total", 1, handler)
}

// ObserveJob records one job attempt. outcome is ready, retry or failed.
func ObserveJob(outcome string, duration time.Duration) {
	defaultCollector.add("jobs_total", 1, outcome)
	defaultCollector.observe("job_duration_seconds", duration.Seconds(), outcome)
}

// ObserveLLMCall records a language model call and its token usage.
func ObserveLLMCall(provider, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	defaultCollector.add("llm_requests_total", 1, provider, outcome)
	defaultCollector.observe("llm_request_duration_seconds", duration.Seconds(), provider)
	if promptTokens > 0 {
		defaultCollector.add("llm_tokens_total", float64(promptTokens), provider, "prompt")
	}
	if completionTokens > 0 {
		defaultCollector.add("llm_tokens_total", float64(completionTokens), provider, "completion")
	}
}

// ObservePayment records a payment gateway operation.
func ObservePayment(operation, outcome string) {
	defaultCollector.add("payments_total", 1, operation, outcome)
}

// ObserveSweep records how much the retention sweep removed.
func ObserveSweep(artifacts, jobs int) {
	if artifacts > 0 {
		defaultCollector.add("artifacts_swept_total", float64(artifacts))
	}
	if jobs > 0 {
		defaultCollector.add("jobs_swept_total", float64(jobs))
	}
}
