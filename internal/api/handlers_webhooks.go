package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

const maxWebhookBody = 1 << 20

var webhookSources = map[string]bool{"radarr": true, "sonarr": true, "lidarr": true}

// handleInboundWebhook accepts download-manager events. Senders always get
// 202 once the secret checks out; everything else happens asynchronously.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if !webhookSources[source] {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "unknown webhook source")
		return
	}

	secret := r.URL.Query().Get("apikey")
	if secret == "" {
		secret = r.Header.Get("X-Api-Key")
	}
	sum := sha256.Sum256([]byte(secret))
	row, err := s.secretRepo.GetByHash(hex.EncodeToString(sum[:]))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if row == nil || !row.IsActive {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	var probe struct {
		EventType string `json:"eventType"`
	}
	_ = json.Unmarshal(body, &probe)
	metrics.WebhooksReceived.WithLabelValues(source, probe.EventType).Inc()

	job := jobs.NewJob(jobs.TaskWebhookProcess, jobs.PriorityWebhook, jobs.WebhookPayload{
		Source: source,
		Body:   body,
	})
	if err := s.queue.Enqueue(job); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := s.secretRepo.TouchLastTriggered(row.ID); err != nil {
		s.log.Warn().Err(err).Msg("webhook secret touch failed")
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "event": probe.EventType})
}

// ──────────────────── Webhook secrets admin ────────────────────

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.secretRepo.List()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, secrets)
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string     `json:"name"`
		Service   string     `json:"service"`
		LibraryID *uuid.UUID `json:"library_id"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.Name == "" || !webhookSources[req.Service] {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "name and a known service are required")
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	secret := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(secret))

	row := &models.WebhookSecret{
		ID:         uuid.New(),
		Name:       req.Name,
		Service:    req.Service,
		SecretHash: hex.EncodeToString(sum[:]),
		LibraryID:  req.LibraryID,
		IsActive:   true,
	}
	if err := s.secretRepo.Create(row); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	// The plaintext secret is shown exactly once; only the hash is stored.
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"secret_id": row.ID,
		"secret":    secret,
	})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	if err := s.secretRepo.Delete(id); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}
