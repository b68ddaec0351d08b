package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

// Service 负责任务的创建、查询与重投。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 为已支付的会话创建生成任务，同一会话重复提交返回同一个任务。
// 已失败的任务会被重置后重新入队，买家无需再次付款。
func (s *Service) Submit(ctx context.Context, sessionID string, inputs questionnaire.Inputs) (*Job, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "missing_session_id")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "任务服务未初始化")
	}

	existing, err := s.store.GetBySession(ctx, sessionID)
	switch {
	case err == nil:
		if existing.Status == StatusFailed {
			return s.requeue(ctx, existing.ID)
		}
		return existing, nil
	case !stdErrors.Is(err, ErrJobNotFound):
		return nil, err
	}

	job := &Job{
		ID:         IDPrefix + uuid.NewString(),
		SessionID:  sessionID,
		Status:     StatusWorking,
		Inputs:     inputs,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			// 并发提交同一会话时，以先写入的任务为准。
			if winner, getErr := s.store.GetBySession(ctx, sessionID); getErr == nil {
				return winner, nil
			}
		}
		return nil, err
	}
	if err := s.publish(ctx, job); err != nil {
		return nil, err
	}
	logger.Audit().Info("生成任务入队成功",
		slog.String("job_id", job.ID),
		slog.String("session_id", sessionID),
		slog.String("niche", inputs.Niche),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Retry 重置任务并重新入队，已完成的任务返回 ErrJobCompleted。
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "任务服务未初始化")
	}
	job, err := s.requeue(ctx, id)
	if err != nil {
		return job, err
	}
	logger.Audit().Info("任务已手动重投", slog.String("job_id", id))
	return job, nil
}

func (s *Service) requeue(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Requeue(ctx, id)
	if err != nil {
		return job, err
	}
	if err := s.publish(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) publish(ctx context.Context, job *Job) error {
	if err := s.producer.Publish(ctx, job.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, job.ID, xerrors.CodeQueueFailure, wrapped.Error(), true)
		return wrapped
	}
	return nil
}

// ResumePending 把仍处于 working 且未在处理中的任务重新入队，
// 用于进程重启或非持久化队列丢消息之后的补投。
// minIdle 大于 0 时只补投至少空闲这么久的任务，队列中正常排队的任务不会被重复投递。
func (s *Service) ResumePending(ctx context.Context, lease, minIdle time.Duration) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeQueueFailure, "任务服务未初始化")
	}
	now := time.Now()
	resumed := 0
	for offset := 0; ; offset += 100 {
		jobs, err := s.store.List(ctx, ListOptions{
			Limit:    100,
			Offset:   offset,
			Statuses: []Status{StatusWorking},
			Order:    SortByUpdatedAsc,
		})
		if err != nil {
			return resumed, err
		}
		for _, job := range jobs {
			if job.Running && !leaseExpired(job, now, lease) {
				continue
			}
			if !job.Running && minIdle > 0 && job.UpdatedAt > now.Add(-minIdle).Unix() {
				continue
			}
			if err := s.producer.Publish(ctx, job.ID); err != nil {
				return resumed, xerrors.Wrap(xerrors.CodeQueueFailure, err, "补投任务失败")
			}
			resumed++
		}
		if len(jobs) < 100 {
			return resumed, nil
		}
	}
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if !ValidID(id) {
		return nil, ErrJobNotFound
	}
	return s.store.Get(ctx, id)
}

// GetBySession 按支付会话查找任务。
func (s *Service) GetBySession(ctx context.Context, sessionID string) (*Job, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "missing_session_id")
	}
	return s.store.GetBySession(ctx, sessionID)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// DeleteBefore 清理过期任务。
func (s *Service) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.store.DeleteBefore(ctx, cutoff)
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到 ready 或 failed。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusReady || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
