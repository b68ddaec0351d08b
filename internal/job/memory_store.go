package job

import (
	"context"
	"sync"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，适用于单实例部署与测试。
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	bySession map[string]string
	now       func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		bySession: make(map[string]string),
		now:       time.Now,
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" || job.SessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 与会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	if _, ok := m.bySession[job.SessionID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusWorking
	}
	m.jobs[job.ID] = cloneJob(job)
	m.bySession[job.SessionID] = job.ID
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// GetBySession 按支付会话查找任务。
func (m *MemoryStore) GetBySession(_ context.Context, sessionID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(m.jobs[id]), nil
}

// Claim 将任务标记为处理中。
func (m *MemoryStore) Claim(_ context.Context, id string, lease time.Duration) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := claimJob(job, m.now(), lease); err != nil {
		return cloneJob(job), err
	}
	return cloneJob(job), nil
}

// MarkReady 记录生成好的文档。
func (m *MemoryStore) MarkReady(_ context.Context, id string, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	markReady(job, filename, m.now())
	return nil
}

// MarkFailed 记录失败原因。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	markFailed(job, code, lastError, terminal, m.now())
	return nil
}

// Requeue 重置任务以便重新处理。
func (m *MemoryStore) Requeue(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := requeueJob(job, m.now()); err != nil {
		return cloneJob(job), err
	}
	return cloneJob(job), nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if matchesListFilters(job, opts) {
			results = append(results, cloneJob(job))
		}
	}
	return sortAndPage(results, opts), nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, job := range m.jobs {
		if matchesListFilters(job, opts) {
			stats.add(job)
		}
	}
	return stats, nil
}

// DeleteBefore 删除过期任务。
func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if !deletable(job, cutoff) {
			continue
		}
		delete(m.jobs, id)
		delete(m.bySession, job.SessionID)
		removed++
	}
	return removed, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
