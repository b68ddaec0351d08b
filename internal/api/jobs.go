package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

type generateRequest struct {
	SessionID string                `json:"session_id"`
	Inputs    *questionnaire.Inputs `json:"inputs,omitempty"`
}

type generateResponse struct {
	JobID   string     `json:"job_id"`
	ID      string     `json:"id"`
	Status  job.Status `json:"status"`
	PollURL string     `json:"poll_url"`
}

type jobView struct {
	JobID       string     `json:"job_id"`
	ID          string     `json:"id"`
	Status      job.Status `json:"status"`
	Filename    string     `json:"filename,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   int64      `json:"updated_at"`
}

func newJobView(j *job.Job) jobView {
	view := jobView{JobID: j.ID, ID: j.ID, Status: j.Status, UpdatedAt: j.UpdatedAt}
	if j.Status == job.StatusReady && j.Filename != "" {
		view.Filename = j.Filename
		view.DownloadURL = "/api/download/" + url.PathEscape(j.Filename)
	}
	if j.Status == job.StatusFailed {
		view.Error = xerrors.AttributesOf(xerrors.Code(j.ErrorCode)).Message
	}
	return view
}

// handleGenerate 校验支付后提交生成任务，立即返回 202 与轮询地址。
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}

	v, err := s.deps.Payments.Verify(r.Context(), sid)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if !v.Paid {
		writeError(w, http.StatusPaymentRequired, "payment_required")
		return
	}

	var in questionnaire.Inputs
	switch {
	case v.HasInputs:
		in = v.Inputs
	case req.Inputs != nil:
		in = *req.Inputs
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidInputResponse{Error: "invalid_input", Fields: questionnaire.FieldErrors(err)})
		return
	}

	j, err := s.deps.Jobs.Submit(r.Context(), sid, in)
	if err != nil {
		s.log.Error("提交任务失败", "session_id", sid, "error", err)
		writeCodedError(w, err)
		return
	}
	logger.Audit().Info("job_submitted", "session_id", sid, "job_id", j.ID, "status", j.Status)
	writeJSON(w, http.StatusAccepted, generateResponse{
		JobID:   j.ID,
		ID:      j.ID,
		Status:  j.Status,
		PollURL: "/api/jobs/" + j.ID,
	})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(j))
}

func (s *Server) handleJobBySession(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}
	j, err := s.deps.Jobs.GetBySession(r.Context(), sid)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(j))
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, xerrors.CodeInvalidArgument:
		writeError(w, http.StatusNotFound, "not_found")
	default:
		s.log.Error("查询任务失败", "error", err)
		writeCodedError(w, err)
	}
}

// handleDownload 以附件形式流式返回文档。
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !artifact.ValidName(name) {
		writeError(w, http.StatusBadRequest, "invalid_filename")
		return
	}
	obj, err := s.deps.Artifacts.Open(r.Context(), name)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.log.Error("读取文档失败", "filename", name, "error", err)
		writeCodedError(w, err)
		return
	}
	defer obj.Close()

	h := w.Header()
	h.Set("Content-Type", docxContentType)
	h.Set("Content-Disposition", `attachment; filename="`+name+`"`)
	h.Set("Cache-Control", "no-store")
	if obj.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		s.log.Warn("文档传输中断", "filename", name, "error", err)
	}
}
