package job

import (
	stdErrors "errors"
	"strings"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

// Status 是对外可见的任务状态，只有三种取值。
type Status string

const (
	StatusWorking Status = "working"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// IDPrefix 是任务 ID 的固定前缀。
const IDPrefix = "job_"

// Job 描述一次付费后的文档生成任务。
type Job struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	Status     Status               `json:"status"`
	Running    bool                 `json:"running"`
	Inputs     questionnaire.Inputs `json:"inputs"`
	Filename   string               `json:"filename,omitempty"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	ClaimedAt  int64                `json:"claimed_at,omitempty"`
	CreatedAt  int64                `json:"created_at"`
	UpdatedAt  int64                `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(xerrors.CodeNotFound, "not_found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(xerrors.CodeConflict, "job conflict")
	// ErrJobCompleted 表示任务已经生成完毕。
	ErrJobCompleted = xerrors.New(xerrors.CodeAlreadyCompleted, "job already completed")
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(xerrors.CodeJobExhausted, "job retries exhausted")
)

// IsJobError 判断错误是否属于指定的任务错误码。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrJobNotFound):
		return target == xerrors.CodeNotFound
	case stdErrors.Is(err, ErrJobConflict):
		return target == xerrors.CodeConflict
	case stdErrors.Is(err, ErrJobCompleted):
		return target == xerrors.CodeAlreadyCompleted
	case stdErrors.Is(err, ErrJobExhausted):
		return target == xerrors.CodeJobExhausted
	}
	return false
}

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusWorking, StatusReady, StatusFailed:
		return true
	default:
		return false
	}
}

// ValidID 校验任务 ID 的格式，避免把任意字符串带进存储层。
func ValidID(id string) bool {
	if !strings.HasPrefix(id, IDPrefix) || len(id) > 64 {
		return false
	}
	for _, r := range id[len(IDPrefix):] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return len(id) > len(IDPrefix)
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	return &clone
}
