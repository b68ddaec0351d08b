package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reeseleonb-crypto/quickpostkit/internal/auth"
	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

type adminJobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Count int        `json:"count"`
}

// listOptionsFromQuery 解析 status、limit、offset、q、since、until、order 参数。
// since/until 为 Unix 秒。
func listOptionsFromQuery(r *http.Request) ([]job.ListOption, error) {
	q := r.URL.Query()
	var opts []job.ListOption

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid status: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	intParam := func(name string, apply func(int) job.ListOption) error {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "invalid "+name)
		}
		opts = append(opts, apply(n))
		return nil
	}
	if err := intParam("limit", job.WithLimit); err != nil {
		return nil, err
	}
	if err := intParam("offset", job.WithOffset); err != nil {
		return nil, err
	}
	unix := func(n int) time.Time { return time.Unix(int64(n), 0) }
	if err := intParam("since", func(n int) job.ListOption { return job.WithUpdatedSince(unix(n)) }); err != nil {
		return nil, err
	}
	if err := intParam("until", func(n int) job.ListOption { return job.WithUpdatedUntil(unix(n)) }); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(q.Get("q")); v != "" {
		opts = append(opts, job.WithQuery(v))
	}
	switch strings.ToLower(strings.TrimSpace(q.Get("order"))) {
	case "", "desc":
	case "asc":
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid order")
	}
	return opts, nil
}

func (s *Server) handleAdminListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, adminJobsResponse{Jobs: jobs, Count: len(jobs)})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	stats, err := s.deps.Jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.deps.Jobs.Retry(r.Context(), id)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	user := ""
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		user = subject.Name
	}
	logger.Audit().Info("job_retried", "job_id", j.ID, "user", user)
	writeJSON(w, http.StatusAccepted, newJobView(j))
}
