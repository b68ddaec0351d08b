package job

import (
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// 以下状态迁移由内存与 Redis 存储共用，SQL 存储用等价的条件更新实现。

func claimJob(job *Job, now time.Time, lease time.Duration) error {
	switch job.Status {
	case StatusReady:
		return ErrJobCompleted
	case StatusFailed:
		return ErrJobConflict
	}
	if job.Running && !leaseExpired(job, now, lease) {
		return ErrJobConflict
	}
	if job.Attempts >= job.MaxRetries {
		return ErrJobExhausted
	}
	job.Running = true
	job.Attempts++
	job.ClaimedAt = now.Unix()
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = now.Unix()
	return nil
}

func leaseExpired(job *Job, now time.Time, lease time.Duration) bool {
	if lease <= 0 {
		return false
	}
	return job.ClaimedAt < now.Add(-lease).Unix()
}

func markReady(job *Job, filename string, now time.Time) {
	job.Status = StatusReady
	job.Running = false
	job.Filename = filename
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = now.Unix()
}

func markFailed(job *Job, code xerrors.Code, lastError string, terminal bool, now time.Time) {
	if terminal {
		job.Status = StatusFailed
	}
	job.Running = false
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.UpdatedAt = now.Unix()
}

func requeueJob(job *Job, now time.Time) error {
	if job.Status == StatusReady {
		return ErrJobCompleted
	}
	job.Status = StatusWorking
	job.Running = false
	job.Attempts = 0
	job.Filename = ""
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = now.Unix()
	return nil
}

// deletable 判断任务是否可以被保留期清理删除。
func deletable(job *Job, cutoff time.Time) bool {
	return job.Status != StatusWorking && job.UpdatedAt < cutoff.Unix()
}
