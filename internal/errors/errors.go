package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message    string
	Severity   Severity
	Retryable  bool
	Alert      bool
	HTTPStatus int
}

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodePaymentRequired  Code = "PAYMENT_REQUIRED"
	CodePaymentFailure   Code = "PAYMENT_FAILURE"
	CodeLLMUnavailable   Code = "LLM_UNAVAILABLE"
	CodeLLMRejected      Code = "LLM_REJECTED"
	CodeMalformedOutput  Code = "MALFORMED_OUTPUT"
	CodeRenderFailure    Code = "RENDER_FAILURE"
	CodeArtifactFailure  Code = "ARTIFACT_FAILURE"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodeQueueFailure     Code = "QUEUE_FAILURE"
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"
	CodeJobExhausted     Code = "JOB_EXHAUSTED"
	CodeTimeout          Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:          {"unknown error", SeverityCritical, false, true, http.StatusInternalServerError},
		CodeInvalidArgument:  {"invalid argument", SeverityInfo, false, false, http.StatusBadRequest},
		CodeNotFound:         {"not found", SeverityInfo, false, false, http.StatusNotFound},
		CodeConflict:         {"conflict", SeverityWarning, false, false, http.StatusConflict},
		CodeUnauthorized:     {"unauthorized", SeverityInfo, false, false, http.StatusUnauthorized},
		CodeRateLimited:      {"Too many requests. Please slow down and try again shortly.", SeverityInfo, false, false, http.StatusTooManyRequests},
		CodePaymentRequired:  {"payment required", SeverityInfo, false, false, http.StatusPaymentRequired},
		CodePaymentFailure:   {"payment provider failure", SeverityWarning, true, true, http.StatusBadGateway},
		CodeLLMUnavailable:   {"language model unavailable", SeverityWarning, true, false, http.StatusBadGateway},
		CodeLLMRejected:      {"language model rejected the request", SeverityCritical, false, true, http.StatusBadGateway},
		CodeMalformedOutput:  {"language model returned malformed output", SeverityWarning, true, false, http.StatusBadGateway},
		CodeRenderFailure:    {"document rendering failed", SeverityCritical, false, true, http.StatusInternalServerError},
		CodeArtifactFailure:  {"artifact storage failure", SeverityCritical, true, true, http.StatusInternalServerError},
		CodeStorageFailure:   {"storage failure", SeverityCritical, true, true, http.StatusInternalServerError},
		CodeQueueFailure:     {"queue failure", SeverityCritical, true, true, http.StatusServiceUnavailable},
		CodeAlreadyCompleted: {"already completed", SeverityInfo, false, false, http.StatusConflict},
		CodeJobExhausted:     {"job retries exhausted", SeverityWarning, false, true, http.StatusConflict},
		CodeTimeout:          {"operation timed out", SeverityWarning, true, false, http.StatusGatewayTimeout},
	}
)

// Register 允许业务模块在初始化阶段注册或覆盖错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册时回落到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回面向调用方的错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// From 尝试从 error 链中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	return AttributesOf(CodeOf(err)).Alert
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}

// HTTPStatus 返回错误对应的 HTTP 状态码。
func HTTPStatus(err error) int {
	status := AttributesOf(CodeOf(err)).HTTPStatus
	if status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

// PublicMessage 返回可以直接暴露给客户端的信息，未知错误不泄露细节。
func PublicMessage(err error) string {
	e, ok := From(err)
	if !ok {
		return AttributesOf(CodeUnknown).Message
	}
	return e.Message()
}
