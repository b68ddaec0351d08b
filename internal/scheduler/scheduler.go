// Package scheduler 负责周期性维护任务，例如清理过期文档与任务记录。
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// Job 表示一个定时任务。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 基于 cron 表达式运行后台任务。
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration
}

// New 创建调度器。timeout 限制单次任务的执行时间，0 表示不限制。
func New(timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     logger.Named("scheduler"),
		timeout: timeout,
	}
}

// AddJob 注册任务，schedule 支持五段式表达式与 "@every 15m" 等描述符。
func (s *Scheduler) AddJob(ctx context.Context, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		_ = s.RunNow(ctx, job)
	})
	if err != nil {
		return err
	}
	s.log.Info("定时任务已注册", "schedule", schedule, "job", job.Name())
	return nil
}

// RunNow 立即执行一次任务。
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.log.Error("定时任务执行失败", "job", job.Name(), "error", err)
		return err
	}
	s.log.Debug("定时任务完成", "job", job.Name(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Run 启动调度并阻塞到 ctx 结束，随后等待正在执行的任务退出。
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("调度器已启动")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("调度器已停止")
	return nil
}
