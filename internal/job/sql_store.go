package job

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// SQLConfig 描述 SQL 任务存储的连接参数。
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 使用 MySQL 或 PostgreSQL 记录任务状态。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

const jobColumns = `id, session_id, status, running, inputs, filename, attempts, max_retries, last_error, error_code,
        claimed_at, created_at, updated_at`

const (
	insertJobSQL = `INSERT INTO jobs
        (id, session_id, status, running, inputs, filename, attempts, max_retries, last_error, error_code, claimed_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, '', 0, ?, '', '', 0, ?, ?)`
	selectJobByIDSQL      = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	selectJobBySessionSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE session_id = ?`
	claimJobSQL           = `UPDATE jobs SET running = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries AND (running = ? OR claimed_at < ?)`
	markReadySQL = `UPDATE jobs SET status = ?, running = ?, filename = ?, last_error = '', error_code = '', updated_at = ?
        WHERE id = ?`
	markFailedSQL = `UPDATE jobs SET status = CASE WHEN ? THEN ? ELSE status END, running = ?, last_error = ?, error_code = ?, updated_at = ?
        WHERE id = ?`
	requeueJobSQL = `UPDATE jobs SET status = ?, running = ?, attempts = 0, filename = '', last_error = '', error_code = '', updated_at = ?
        WHERE id = ? AND status <> ?`
	deleteJobsBeforeSQL = `DELETE FROM jobs WHERE updated_at < ? AND status <> ?`
)

// NewSQLStore 打开数据库连接并执行嵌入的迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}
	if cfg.Dialect.DriverName == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定数据库方言")
	}
	db, err := sql.Open(cfg.Dialect.DriverName, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}

	store := newSQLStore(db, cfg.Dialect)
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.SessionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 与会话 ID 不能为空")
	}
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码问卷失败")
	}
	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusWorking
	}

	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(insertJobSQL),
		job.ID,
		job.SessionID,
		string(job.Status),
		job.Running,
		string(inputs),
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	return s.getOne(ctx, selectJobByIDSQL, id)
}

// GetBySession 按支付会话查找任务。
func (s *SQLStore) GetBySession(ctx context.Context, sessionID string) (*Job, error) {
	return s.getOne(ctx, selectJobBySessionSQL, sessionID)
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), arg)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 通过条件更新领取任务，未命中时再读取记录判断原因。
func (s *SQLStore) Claim(ctx context.Context, id string, lease time.Duration) (*Job, error) {
	now := s.now()
	staleBefore := int64(0)
	if lease > 0 {
		staleBefore = now.Add(-lease).Unix()
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(claimJobSQL),
		true,
		now.Unix(),
		now.Unix(),
		id,
		string(StatusWorking),
		false,
		staleBefore,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch {
	case job.Status == StatusReady:
		return job, ErrJobCompleted
	case job.Status == StatusFailed:
		return job, ErrJobConflict
	case job.Running && !leaseExpired(job, now, lease):
		return job, ErrJobConflict
	case job.Attempts >= job.MaxRetries:
		return job, ErrJobExhausted
	default:
		return job, ErrJobConflict
	}
}

// MarkReady 记录生成好的文档。
func (s *SQLStore) MarkReady(ctx context.Context, id string, filename string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(markReadySQL),
		string(StatusReady),
		false,
		filename,
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务完成失败")
	}
	return expectAffected(res)
}

// MarkFailed 记录失败原因，非终态时保留 working。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(markFailedSQL),
		terminal,
		string(StatusFailed),
		false,
		lastError,
		string(code),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败状态出错")
	}
	return expectAffected(res)
}

// Requeue 重置任务以便重新处理。
func (s *SQLStore) Requeue(ctx context.Context, id string) (*Job, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(requeueJobSQL),
		string(StatusWorking),
		false,
		s.now().Unix(),
		id,
		string(StatusReady),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 && job.Status == StatusReady {
		return job, ErrJobCompleted
	}
	return job, nil
}

// List 返回符合过滤条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS working,
        COALESCE(SUM(CASE WHEN status = ? AND running = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS ready,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM jobs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusWorking), string(StatusWorking), true, string(StatusReady), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(
		&stats.Total,
		&stats.Working,
		&stats.Running,
		&stats.Ready,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// DeleteBefore 删除过期任务。
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(deleteJobsBeforeSQL), cutoff.Unix(), string(StatusWorking))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除过期任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return int(affected), nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		inputs    string
		lastError sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&status,
		&job.Running,
		&inputs,
		&job.Filename,
		&job.Attempts,
		&job.MaxRetries,
		&lastError,
		&job.ErrorCode,
		&job.ClaimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.LastError = lastError.String
	if strings.TrimSpace(inputs) != "" {
		if err := json.Unmarshal([]byte(inputs), &job.Inputs); err != nil {
			return nil, fmt.Errorf("解析问卷失败: %w", err)
		}
	}
	return &job, nil
}

func expectAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR session_id LIKE ? OR inputs LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
