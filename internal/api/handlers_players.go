package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/players"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.playerRepo.ListGroups()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var g models.PlayerGroup
	if err := httputil.ReadJSON(r, &g); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if g.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if err := s.playerRepo.CreateGroup(&g); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var g models.PlayerGroup
	if err := httputil.ReadJSON(r, &g); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	g.ID = id
	if err := s.playerRepo.UpdateGroup(&g); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.playerRepo.DeleteGroup(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var p models.MediaPlayer
	if err := httputil.ReadJSON(r, &p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if p.Name == "" || p.Host == "" || p.GroupID == uuid.Nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "name, host and group_id are required")
		return
	}
	switch p.Kind {
	case models.PlayerKodi, models.PlayerJellyfin, models.PlayerPlex:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "kind must be kodi, jellyfin or plex")
		return
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	// CreatePlayer enforces the group's max_members bound.
	if err := s.playerRepo.CreatePlayer(&p); err != nil {
		httputil.WriteError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var p models.MediaPlayer
	if err := httputil.ReadJSON(r, &p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	p.ID = id
	if err := s.playerRepo.UpdatePlayer(&p); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.playerRepo.DeletePlayer(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTestPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	p, err := s.playerRepo.GetPlayer(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if p == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "player not found")
		return
	}

	client, err := players.NewClient(p)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := client.TestConnection(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	if err := s.playerRepo.TouchLastSeen(p.ID); err != nil {
		s.log.Warn().Err(err).Msg("player last-seen touch failed")
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reachable": true})
}
