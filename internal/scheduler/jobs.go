package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// JobPruner 删除早于截止时间的已结束任务。
type JobPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Resumer 重新投递丢失或租约过期的任务。
type Resumer interface {
	ResumePending(ctx context.Context, lease, minIdle time.Duration) (int, error)
}

// SweepJob 删除超过保留期的文档与任务记录。
type SweepJob struct {
	Artifacts artifact.Store
	Jobs      JobPruner
	Retention time.Duration
	Now       func() time.Time
}

// Name 实现 Job。
func (j *SweepJob) Name() string { return "retention_sweep" }

// Run 实现 Job。两类清理互不影响，错误合并返回。
func (j *SweepJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	cutoff := now().Add(-retention)

	var (
		errs      []error
		artifacts int
		jobs      int
	)
	if j.Artifacts != nil {
		n, err := j.Artifacts.Sweep(ctx, cutoff)
		artifacts = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if j.Jobs != nil {
		n, err := j.Jobs.DeleteBefore(ctx, cutoff)
		jobs = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	metrics.ObserveSweep(artifacts, jobs)
	if artifacts > 0 || jobs > 0 {
		logger.Named("scheduler").Info("过期数据已清理", "artifacts", artifacts, "jobs", jobs, "cutoff", cutoff.Unix())
	}
	return errors.Join(errs...)
}

// ResumeJob 周期性补投处于 working 但没有在处理中的任务。
// 只处理空闲超过 MinIdle 的任务，MinIdle 为 0 时取 Lease。
type ResumeJob struct {
	Service Resumer
	Lease   time.Duration
	MinIdle time.Duration
}

// Name 实现 Job。
func (j *ResumeJob) Name() string { return "resume_pending" }

// Run 实现 Job。
func (j *ResumeJob) Run(ctx context.Context) error {
	idle := j.MinIdle
	if idle <= 0 {
		idle = j.Lease
	}
	n, err := j.Service.ResumePending(ctx, j.Lease, idle)
	if n > 0 {
		logger.Named("scheduler").Info("已重新投递任务", "count", n)
	}
	return err
}
