package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) *models.MediaItem {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return nil
	}
	item, err := s.mediaRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil
	}
	if item == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "media item not found")
		return nil
	}
	return item
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// handleIdentifyMedia pins provider IDs on an item by hand and queues
// enrichment with the new identity.
func (s *Server) handleIdentifyMedia(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	var req struct {
		TmdbID        *string `json:"tmdb_id"`
		TvdbID        *string `json:"tvdb_id"`
		ImdbID        *string `json:"imdb_id"`
		MusicbrainzID *string `json:"musicbrainz_id"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.TmdbID == nil && req.TvdbID == nil && req.ImdbID == nil && req.MusicbrainzID == nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "at least one provider id is required")
		return
	}
	if req.TmdbID != nil {
		item.TmdbID = req.TmdbID
	}
	if req.TvdbID != nil {
		item.TvdbID = req.TvdbID
	}
	if req.ImdbID != nil {
		item.ImdbID = req.ImdbID
	}
	if req.MusicbrainzID != nil {
		item.MusicbrainzID = req.MusicbrainzID
	}
	if item.IdentificationStatus == models.IdentUnidentified {
		item.IdentificationStatus = models.IdentIdentified
	}
	if err := s.mediaRepo.UpdateMetadata(item); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.enqueueItemJob(w, jobs.TaskEnrichMetadata, jobs.PriorityEnrich, item.ID)
}

func (s *Server) handleEnrichMedia(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	if !item.Identified() {
		httputil.WriteError(w, http.StatusConflict, "conflict", "item has no provider identity yet")
		return
	}
	s.enqueueItemJob(w, jobs.TaskEnrichMetadata, jobs.PriorityEnrich, item.ID)
}

func (s *Server) handlePublishMedia(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	if item.PendingReview {
		// Manual publish after review implies the review is done.
		item.PendingReview = false
		if err := s.mediaRepo.UpdateMetadata(item); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if err := s.candRepo.ClearPendingReview(item.ID); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	s.enqueueItemJob(w, jobs.TaskPublishItem, jobs.PriorityPublish, item.ID)
}

func (s *Server) enqueueItemJob(w http.ResponseWriter, taskType string, priority int, itemID uuid.UUID) {
	job := jobs.NewJob(taskType, priority, jobs.ItemPayload{MediaItemID: itemID})
	if err := s.queue.Enqueue(job); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

// ──────────────────── Locks ────────────────────

func (s *Server) handleGetLocks(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"locked_fields": item.LockedFields,
		"locked_assets": item.LockedAssets,
	})
}

func (s *Server) handleUpdateLocks(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	var req struct {
		LockedFields []string `json:"locked_fields"`
		LockedAssets []string `json:"locked_assets"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mediaRepo.UpdateLocks(item.ID, pq.StringArray(req.LockedFields), pq.StringArray(req.LockedAssets)); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

// ──────────────────── Candidates ────────────────────

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	cands, err := s.candRepo.ListByItem(item.ID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cands)
}

func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request) {
	item := s.getItem(w, r)
	if item == nil {
		return
	}
	assets, err := s.publishRepo.ListByItem(item.ID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assets)
}

func (s *Server) handleSelectCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	cand, err := s.candRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if cand == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "candidate not found")
		return
	}
	if cand.IsRejected {
		httputil.WriteError(w, http.StatusConflict, "conflict", "candidate is rejected")
		return
	}

	// Single-slot asset types hold at most one selection; the manual pick
	// displaces any automatic one.
	if !cand.AssetType.MultiSlot() {
		if err := s.candRepo.ClearAutoSelections(cand.MediaItemID, cand.AssetType); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	if err := s.candRepo.SetSelected(cand.ID, true, models.SelectedManual, false); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if !cand.IsDownloaded {
		job := jobs.NewJob(jobs.TaskDownloadAsset, jobs.PriorityDownload, jobs.DownloadPayload{CandidateID: cand.ID})
		if err := s.queue.Enqueue(job); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	cand, err := s.candRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if cand == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "candidate not found")
		return
	}

	var req struct {
		Reason *string `json:"reason"`
	}
	_ = httputil.ReadJSON(r, &req)

	if err := s.candRepo.Reject(cand.ID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	rej := &models.RejectedAsset{
		Provider:    cand.Provider,
		SourceURL:   cand.SourceURL,
		MediaItemID: &cand.MediaItemID,
		Reason:      req.Reason,
	}
	if err := s.rejectedRepo.Add(rej); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}
