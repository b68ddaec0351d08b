package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/alerting"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// Executor 生成文档并返回保存后的文件名。
type Executor interface {
	Execute(ctx context.Context, job *Job) (string, error)
}

// ExecutorFunc 让普通函数满足 Executor。
type ExecutorFunc func(ctx context.Context, job *Job) (string, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) (string, error) { return f(ctx, job) }

// Processor 负责从队列消费任务并交给生成器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	timeout     time.Duration
	retryDelay  time.Duration
	lease       time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithJobTimeout 限制单次执行的耗时。
func WithJobTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

// WithRetryDelay 设置可重试失败后重新入队前的等待时间。
func WithRetryDelay(delay time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.retryDelay = delay
	}
}

// WithLease 设置领取租约，超过租约仍未完成的任务可被其他 worker 接管。
func WithLease(lease time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.lease = lease
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		lease:       10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "处理器未初始化")
	}
	p.logger.Info("任务处理器启动", slog.Int("workers", p.workerCount))
	err := p.consumer.Consume(ctx, p.workerCount, p.handle)
	if stdErrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	job, err := p.store.Claim(ctx, jobID, p.lease)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrJobExhausted):
			p.exhaust(ctx, job)
			return nil
		case stdErrors.Is(err, ErrJobNotFound), stdErrors.Is(err, ErrJobCompleted), stdErrors.Is(err, ErrJobConflict):
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, xerrors.CodeOf(err), err, "claim")
		return err
	}

	started := time.Now()
	execCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	filename, execErr := p.executor.Execute(execCtx, job)
	if execErr == nil && execCtx.Err() != nil && ctx.Err() == nil {
		execErr = execCtx.Err()
	}
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr, started)
	}

	if err := p.store.MarkReady(ctx, job.ID, filename); err != nil {
		p.logger.Error("标记任务完成失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	metrics.ObserveJob("ready", time.Since(started))
	logger.Audit().Info("生成任务完成",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.String("filename", filename),
		slog.Int("attempts", job.Attempts),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error, started time.Time) error {
	if ctx.Err() != nil {
		// 进程正在退出：释放任务，由下次启动时的补投继续处理。
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.store.MarkFailed(releaseCtx, job.ID, xerrors.CodeTimeout, "处理被中断", false)
	}

	if stdErrors.Is(execErr, context.DeadlineExceeded) {
		execErr = xerrors.Wrap(xerrors.CodeTimeout, execErr, "生成任务超时")
	}
	code := xerrors.CodeOf(execErr)
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || job.Attempts >= job.MaxRetries

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("生成任务失败",
		slog.String("job_id", job.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		metrics.ObserveJob("failed", time.Since(started))
		stage := "terminal"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, job, code, execErr, stage)
		return nil
	}

	metrics.ObserveJob("retry", time.Since(started))
	if xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, job, code, execErr, "retry")
	}
	if p.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.retryDelay):
		}
	}
	if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, pubErr, "任务重投失败")
	}
	p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

// exhaust 处理租约过期但重试次数已用完的任务，避免其永远停留在 working。
func (p *Processor) exhaust(ctx context.Context, job *Job) {
	if job == nil || job.Status != StatusWorking {
		return
	}
	msg := job.LastError
	if msg == "" {
		msg = xerrors.AttributesOf(xerrors.CodeJobExhausted).Message
	}
	if err := p.store.MarkFailed(ctx, job.ID, xerrors.CodeJobExhausted, msg, true); err != nil {
		p.logger.Error("标记任务耗尽失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return
	}
	metrics.ObserveJob("failed", 0)
	p.emitAlert(ctx, job, xerrors.CodeJobExhausted, ErrJobExhausted, "exhausted")
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		SessionID:  job.SessionID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
