package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.libRepo.List()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, libs)
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var lib models.Library
	if err := httputil.ReadJSON(r, &lib); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if lib.Name == "" || lib.Path == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "name and path are required")
		return
	}
	switch lib.MediaType {
	case models.LibraryMovies, models.LibraryTV, models.LibraryMusic:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "media_type must be movie, tv or music")
		return
	}
	if lib.ID == uuid.Nil {
		lib.ID = uuid.New()
	}
	applyLibraryDefaults(&lib)
	if err := s.libRepo.Create(&lib); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, lib)
}

// applyLibraryDefaults fills the scoring knobs new rows usually leave blank.
func applyLibraryDefaults(lib *models.Library) {
	if lib.AutomationMode == "" {
		lib.AutomationMode = models.ModeManual
	}
	if lib.ProviderStrategy == "" {
		lib.ProviderStrategy = models.StrategyPreferredFirst
	}
	if lib.Language == "" {
		lib.Language = "en"
	}
	if lib.MaxFanart == 0 {
		lib.MaxFanart = 5
	}
	if lib.PhashThreshold == 0 {
		lib.PhashThreshold = 0.92
	}
	if lib.WeightResolution == 0 && lib.WeightVotes == 0 && lib.WeightLanguage == 0 &&
		lib.WeightProvider == 0 && lib.WeightAspect == 0 {
		lib.WeightResolution = 0.35
		lib.WeightVotes = 0.25
		lib.WeightLanguage = 0.2
		lib.WeightProvider = 0.1
		lib.WeightAspect = 0.1
	}
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	lib, err := s.libRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if lib == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "library not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lib)
}

func (s *Server) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var lib models.Library
	if err := httputil.ReadJSON(r, &lib); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	lib.ID = id
	if err := s.libRepo.Update(&lib); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lib)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.libRepo.Delete(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (s *Server) handleScanLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	lib, err := s.libRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if lib == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "library not found")
		return
	}
	job := jobs.NewJob(jobs.TaskScanLibrary, jobs.PriorityUserScan, jobs.LibraryPayload{LibraryID: id})
	if err := s.queue.Enqueue(job); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	limit, offset := pagination(r, 100)
	items, err := s.mediaRepo.ListByLibrary(id, limit, offset)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (s *Server) handleListUnknown(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	limit, offset := pagination(r, 100)
	files, err := s.unknownRepo.ListByLibrary(id, limit, offset)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, files)
}

func (s *Server) handleDeleteUnknown(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.unknownRepo.Delete(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
