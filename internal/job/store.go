package job

import (
	"context"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	// Create 写入新任务，ID 或会话重复时返回 ErrJobConflict。
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	GetBySession(ctx context.Context, sessionID string) (*Job, error)
	// Claim 领取任务；运行中的任务在租约过期后可以被重新领取。
	Claim(ctx context.Context, id string, lease time.Duration) (*Job, error)
	MarkReady(ctx context.Context, id string, filename string) error
	// MarkFailed 记录失败原因；terminal 为 false 时对外状态仍是 working。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// Requeue 重置失败任务的重试次数，使其可以再次被领取。
	Requeue(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	// DeleteBefore 删除更新时间早于 cutoff 且不在处理中的任务。
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
