package api

import (
	"net/http"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/jobs"
)

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	entries, err := s.activityRepo.List(limit, offset)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// handleCacheGC queues a sweep instead of running it inline; collection can
// take minutes on a large cache.
func (s *Server) handleCacheGC(w http.ResponseWriter, r *http.Request) {
	job := jobs.NewJob(jobs.TaskCacheGC, jobs.PriorityGC, nil)
	if err := s.queue.Enqueue(job); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}
