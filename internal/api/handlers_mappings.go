package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	maps, err := s.mappingRepo.List()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, maps)
}

func validMapping(m *models.PathMapping) string {
	if m.SourcePrefix == "" || m.TargetPrefix == "" {
		return "source_prefix and target_prefix are required"
	}
	switch m.Scope {
	case models.ScopeManager:
		if m.ManagerType == nil || *m.ManagerType == "" {
			return "manager scope requires manager_type"
		}
	case models.ScopeGroup:
		if m.GroupID == nil {
			return "group scope requires group_id"
		}
	default:
		return "scope must be manager or group"
	}
	return ""
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var m models.PathMapping
	if err := httputil.ReadJSON(r, &m); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if msg := validMapping(&m); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", msg)
		return
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := s.mappingRepo.Create(&m); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var m models.PathMapping
	if err := httputil.ReadJSON(r, &m); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if msg := validMapping(&m); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", msg)
		return
	}
	m.ID = id
	if err := s.mappingRepo.Update(&m); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.mappingRepo.Delete(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}
