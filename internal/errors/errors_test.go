package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(CodeLLMUnavailable, cause, "upstream down"))

	if CodeOf(err) != CodeLLMUnavailable {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("expected retryable error")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !stdErrors.Is(err, New(CodeLLMUnavailable, "")) {
		t.Fatalf("expected code comparison to match")
	}
	if HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", HTTPStatus(err))
	}
}

func TestWithRetryableOverridesDefault(t *testing.T) {
	err := New(CodeMalformedOutput, "", WithRetryable(false))
	if RetryableError(err) {
		t.Fatalf("override ignored")
	}
	if err.Message() != "language model returned malformed output" {
		t.Fatalf("default message not applied: %q", err.Message())
	}
}

func TestUnknownErrorsHideDetails(t *testing.T) {
	err := stdErrors.New("dial tcp 10.0.0.1: refused")
	if PublicMessage(err) != "unknown error" {
		t.Fatalf("leaked message %q", PublicMessage(err))
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", HTTPStatus(err))
	}
	if !ShouldAlert(err) {
		t.Fatalf("unknown errors should alert")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	code := Code("TEST_ONLY")
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, HTTPStatus: http.StatusTeapot})
	if HTTPStatus(New(code, "")) != http.StatusTeapot {
		t.Fatalf("custom status not applied")
	}
}
