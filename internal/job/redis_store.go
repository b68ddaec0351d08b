package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// RedisStoreConfig 描述 Redis 任务存储的连接参数。
type RedisStoreConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Prefix   string
}

// RedisStore 以 JSON 形式把任务保存在 Redis 中，多实例部署时共享状态。
//
// 键布局：
//
//	<prefix>:job:<id>          任务 JSON
//	<prefix>:session:<sid>     会话到任务 ID 的映射
//	<prefix>:index             按 updated_at 排序的 ZSET
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

const redisTxRetries = 8

// NewRedisStore 连接 Redis 并返回存储实例。
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient 复用已有的 Redis 客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "quickpost"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) jobKey(id string) string            { return s.prefix + ":job:" + id }
func (s *RedisStore) sessionKey(sessionID string) string { return s.prefix + ":session:" + sessionID }
func (s *RedisStore) indexKey() string                   { return s.prefix + ":index" }

// Create 实现 Store 接口。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" || job.SessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 与会话 ID 不能为空")
	}
	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusWorking
	}
	data, err := json.Marshal(job)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码任务失败")
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(job.SessionID), job.ID, 0).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话索引失败")
	}
	if !ok {
		return ErrJobConflict
	}
	ok, err = s.client.SetNX(ctx, s.jobKey(job.ID), data, 0).Result()
	if err != nil || !ok {
		_ = s.client.Del(ctx, s.sessionKey(job.SessionID)).Err()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
		}
		return ErrJobConflict
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(job.UpdatedAt), Member: job.ID}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务索引失败")
	}
	return nil
}

// Get 返回任务。
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return decodeJob(raw)
}

// GetBySession 按支付会话查找任务。
func (s *RedisStore) GetBySession(ctx context.Context, sessionID string) (*Job, error) {
	id, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话索引失败")
	}
	return s.Get(ctx, id)
}

// Claim 将任务标记为处理中。
func (s *RedisStore) Claim(ctx context.Context, id string, lease time.Duration) (*Job, error) {
	return s.update(ctx, id, func(job *Job) error {
		return claimJob(job, s.now(), lease)
	})
}

// MarkReady 记录生成好的文档。
func (s *RedisStore) MarkReady(ctx context.Context, id string, filename string) error {
	_, err := s.update(ctx, id, func(job *Job) error {
		markReady(job, filename, s.now())
		return nil
	})
	return err
}

// MarkFailed 记录失败原因。
func (s *RedisStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := s.update(ctx, id, func(job *Job) error {
		markFailed(job, code, lastError, terminal, s.now())
		return nil
	})
	return err
}

// Requeue 重置任务以便重新处理。
func (s *RedisStore) Requeue(ctx context.Context, id string) (*Job, error) {
	return s.update(ctx, id, func(job *Job) error {
		return requeueJob(job, s.now())
	})
}

// update 使用 WATCH 乐观锁完成读改写，冲突时重试。
func (s *RedisStore) update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error) {
	key := s.jobKey(id)
	var result *Job
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if stdErrors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		result = job
		if err := mutate(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码任务失败")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(job.UpdatedAt), Member: job.ID})
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		result = nil
		err := s.client.Watch(ctx, txf, key)
		if stdErrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, ok := xerrors.From(err); ok {
				return cloneJob(result), err
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
		}
		return cloneJob(result), nil
	}
	return nil, xerrors.New(xerrors.CodeStorageFailure, "任务更新冲突次数过多", xerrors.WithMetadata("job_id", id))
}

// List 返回符合过滤条件的任务。
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()
	jobs, err := s.scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sortAndPage(jobs, opts), nil
}

// Stats 统计符合过滤条件的任务。
func (s *RedisStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	jobs, err := s.scan(ctx, opts)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{}
	for _, job := range jobs {
		stats.add(job)
	}
	return stats, nil
}

// scan 通过索引 ZSET 按更新时间范围取出任务，再在内存中过滤。
func (s *RedisStore) scan(ctx context.Context, opts ListOptions) ([]*Job, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if opts.UpdatedGTE > 0 {
		rng.Min = formatScore(opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		rng.Max = formatScore(opts.UpdatedLTE)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), rng).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务索引失败")
	}
	return s.load(ctx, ids, func(job *Job) bool { return matchesListFilters(job, opts) })
}

func (s *RedisStore) load(ctx context.Context, ids []string, keep func(*Job) bool) ([]*Job, error) {
	if len(ids) == 0 {
		return []*Job{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取任务失败")
	}
	jobs := make([]*Job, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		if keep(job) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// DeleteBefore 删除过期任务及其索引。
func (s *RedisStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + formatScore(cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询过期任务失败")
	}
	jobs, err := s.load(ctx, ids, func(job *Job) bool { return deletable(job, cutoff) })
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, job := range jobs {
			pipe.Del(ctx, s.jobKey(job.ID), s.sessionKey(job.SessionID))
			pipe.ZRem(ctx, s.indexKey(), job.ID)
		}
		return nil
	})
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除过期任务失败")
	}
	return len(jobs), nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务失败")
	}
	return &job, nil
}

func formatScore(v int64) string {
	return strconv.FormatInt(v, 10)
}

var _ Store = (*RedisStore)(nil)
