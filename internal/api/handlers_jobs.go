package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobPending
	}
	limit, _ := pagination(r, 100)
	list, err := s.queueRepo.List(status, limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r, 100)
	list, err := s.queueRepo.ListHistory(limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	job, err := s.queueRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if job == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	children, err := s.queueRepo.ListChildren(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"job": job, "children": children})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	job, err := s.queueRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if job == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status != models.JobFailed && job.Status != models.JobCancelled {
		httputil.WriteError(w, http.StatusConflict, "conflict", "only failed or cancelled jobs can be retried")
		return
	}
	if err := s.queueRepo.Retry(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.queueRepo.Cancel(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, nil)
}
