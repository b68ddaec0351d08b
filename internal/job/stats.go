package job

// Stats 聚合了任务状态的统计信息，供管理接口与健康检查使用。
type Stats struct {
	Total           int   `json:"total"`
	Working         int   `json:"working"`
	Running         int   `json:"running"`
	Ready           int   `json:"ready"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(job *Job) {
	s.Total++
	switch job.Status {
	case StatusWorking:
		s.Working++
		if job.Running {
			s.Running++
		}
	case StatusReady:
		s.Ready++
	case StatusFailed:
		s.Failed++
	}
	if job.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = job.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (job.UpdatedAt != 0 && job.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = job.UpdatedAt
	}
}
