package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/models"
)

// handleGetSettings returns the DB override layer, not the effective merged
// configuration; file and env values never round-trip through the API.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.settingsRepo.GetAll()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, values)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := httputil.ReadJSON(r, &values); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	for key, value := range values {
		if key == "" {
			continue
		}
		var err error
		if value == "" {
			err = s.settingsRepo.Delete(key)
		} else {
			err = s.settingsRepo.Set(key, value)
		}
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	// Overrides are re-read on the next MergeFromDB; some knobs need a
	// restart to take effect.
	httputil.WriteJSON(w, http.StatusOK, nil)
}

// ──────────────────── Notification channels ────────────────────

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channelRepo.List()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, channels)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var c models.NotificationChannel
	if err := httputil.ReadJSON(r, &c); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if c.Name == "" || c.ChannelType == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "name and channel_type are required")
		return
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if err := s.channelRepo.Create(&c); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var c models.NotificationChannel
	if err := httputil.ReadJSON(r, &c); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	c.ID = id
	if err := s.channelRepo.Update(&c); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.channelRepo.Delete(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	channel, err := s.channelRepo.GetByID(id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if channel == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "channel not found")
		return
	}
	if err := s.sender.SendTest(channel); err != nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"delivered": false, "error": err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"delivered": true})
}
