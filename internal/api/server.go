// Package api is the REST and WebSocket surface. Handlers validate, read, and
// enqueue; all heavy work runs through the job queue.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/cache"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/db"
	"github.com/fetcharr/fetcharr/internal/httputil"
	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/notifications"
	"github.com/fetcharr/fetcharr/internal/providers"
	"github.com/fetcharr/fetcharr/internal/repository"
	"github.com/fetcharr/fetcharr/internal/version"
)

type Server struct {
	cfg      *config.Config
	queue    *jobs.Queue
	cache    *cache.Cache
	registry *providers.Registry
	sender   *notifications.Sender
	wsHub    *WSHub

	libRepo      *repository.LibraryRepository
	mediaRepo    *repository.MediaRepository
	candRepo     *repository.CandidateRepository
	rejectedRepo *repository.RejectedRepository
	queueRepo    *repository.QueueRepository
	playerRepo   *repository.PlayerRepository
	mappingRepo  *repository.MappingRepository
	channelRepo  *repository.ChannelRepository
	settingsRepo *repository.SettingsRepository
	secretRepo   *repository.WebhookSecretRepository
	unknownRepo  *repository.UnknownRepository
	activityRepo *repository.ActivityRepository
	publishRepo  *repository.PublishRepository

	router *http.ServeMux
	http   *http.Server
	log    zerolog.Logger
}

// NewServer wires the HTTP surface. The hub is created by the caller because
// the job queue broadcasts into it and exists before the server does.
func NewServer(cfg *config.Config, database *db.DB, queue *jobs.Queue, blobCache *cache.Cache, registry *providers.Registry, hub *WSHub) *Server {
	if hub == nil {
		hub = NewWSHub()
	}
	s := &Server{
		cfg:      cfg,
		queue:    queue,
		cache:    blobCache,
		registry: registry,
		sender:   notifications.NewSender(),
		wsHub:    hub,

		libRepo:      repository.NewLibraryRepository(database.DB),
		mediaRepo:    repository.NewMediaRepository(database.DB),
		candRepo:     repository.NewCandidateRepository(database.DB),
		rejectedRepo: repository.NewRejectedRepository(database.DB),
		queueRepo:    repository.NewQueueRepository(database.DB),
		playerRepo:   repository.NewPlayerRepository(database.DB),
		mappingRepo:  repository.NewMappingRepository(database.DB),
		channelRepo:  repository.NewChannelRepository(database.DB),
		settingsRepo: repository.NewSettingsRepository(database.DB),
		secretRepo:   repository.NewWebhookSecretRepository(database.DB),
		unknownRepo:  repository.NewUnknownRepository(database.DB),
		activityRepo: repository.NewActivityRepository(database.DB),
		publishRepo:  repository.NewPublishRepository(database.DB),

		router: http.NewServeMux(),
		log:    logging.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

// WSHub exposes the hub so the queue can broadcast lifecycle events.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

func (s *Server) setupRoutes() {
	// Public: health, metrics and inbound webhooks (webhooks carry their own
	// secret).
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())
	s.router.HandleFunc("POST /api/v1/webhook/{source}", s.handleInboundWebhook)

	s.router.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	s.router.HandleFunc("GET /api/v1/status", s.withKey(s.handleStatus))

	// Libraries
	s.router.HandleFunc("GET /api/v1/libraries", s.withKey(s.handleListLibraries))
	s.router.HandleFunc("POST /api/v1/libraries", s.withKey(s.handleCreateLibrary))
	s.router.HandleFunc("GET /api/v1/libraries/{id}", s.withKey(s.handleGetLibrary))
	s.router.HandleFunc("PUT /api/v1/libraries/{id}", s.withKey(s.handleUpdateLibrary))
	s.router.HandleFunc("DELETE /api/v1/libraries/{id}", s.withKey(s.handleDeleteLibrary))
	s.router.HandleFunc("POST /api/v1/libraries/{id}/scan", s.withKey(s.handleScanLibrary))
	s.router.HandleFunc("GET /api/v1/libraries/{id}/media", s.withKey(s.handleListMedia))
	s.router.HandleFunc("GET /api/v1/libraries/{id}/unknown", s.withKey(s.handleListUnknown))

	// Media
	s.router.HandleFunc("GET /api/v1/media/{id}", s.withKey(s.handleGetMedia))
	s.router.HandleFunc("POST /api/v1/media/{id}/identify", s.withKey(s.handleIdentifyMedia))
	s.router.HandleFunc("POST /api/v1/media/{id}/enrich", s.withKey(s.handleEnrichMedia))
	s.router.HandleFunc("POST /api/v1/media/{id}/publish", s.withKey(s.handlePublishMedia))
	s.router.HandleFunc("GET /api/v1/media/{id}/locks", s.withKey(s.handleGetLocks))
	s.router.HandleFunc("PUT /api/v1/media/{id}/locks", s.withKey(s.handleUpdateLocks))
	s.router.HandleFunc("GET /api/v1/media/{id}/candidates", s.withKey(s.handleListCandidates))
	s.router.HandleFunc("GET /api/v1/media/{id}/published", s.withKey(s.handleListPublished))

	// Candidates
	s.router.HandleFunc("POST /api/v1/candidates/{id}/select", s.withKey(s.handleSelectCandidate))
	s.router.HandleFunc("POST /api/v1/candidates/{id}/reject", s.withKey(s.handleRejectCandidate))

	// Jobs
	s.router.HandleFunc("GET /api/v1/jobs", s.withKey(s.handleListJobs))
	s.router.HandleFunc("GET /api/v1/jobs/history", s.withKey(s.handleJobHistory))
	s.router.HandleFunc("GET /api/v1/jobs/{id}", s.withKey(s.handleGetJob))
	s.router.HandleFunc("POST /api/v1/jobs/{id}/retry", s.withKey(s.handleRetryJob))
	s.router.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.withKey(s.handleCancelJob))

	// Players and groups
	s.router.HandleFunc("GET /api/v1/player-groups", s.withKey(s.handleListGroups))
	s.router.HandleFunc("POST /api/v1/player-groups", s.withKey(s.handleCreateGroup))
	s.router.HandleFunc("PUT /api/v1/player-groups/{id}", s.withKey(s.handleUpdateGroup))
	s.router.HandleFunc("DELETE /api/v1/player-groups/{id}", s.withKey(s.handleDeleteGroup))
	s.router.HandleFunc("POST /api/v1/players", s.withKey(s.handleCreatePlayer))
	s.router.HandleFunc("PUT /api/v1/players/{id}", s.withKey(s.handleUpdatePlayer))
	s.router.HandleFunc("DELETE /api/v1/players/{id}", s.withKey(s.handleDeletePlayer))
	s.router.HandleFunc("POST /api/v1/players/{id}/test", s.withKey(s.handleTestPlayer))

	// Path mappings
	s.router.HandleFunc("GET /api/v1/mappings", s.withKey(s.handleListMappings))
	s.router.HandleFunc("POST /api/v1/mappings", s.withKey(s.handleCreateMapping))
	s.router.HandleFunc("PUT /api/v1/mappings/{id}", s.withKey(s.handleUpdateMapping))
	s.router.HandleFunc("DELETE /api/v1/mappings/{id}", s.withKey(s.handleDeleteMapping))

	// Providers
	s.router.HandleFunc("GET /api/v1/providers", s.withKey(s.handleListProviders))
	s.router.HandleFunc("POST /api/v1/providers/test", s.withKey(s.handleTestProviders))

	// Settings
	s.router.HandleFunc("GET /api/v1/settings", s.withKey(s.handleGetSettings))
	s.router.HandleFunc("PUT /api/v1/settings", s.withKey(s.handlePutSettings))

	// Notification channels
	s.router.HandleFunc("GET /api/v1/channels", s.withKey(s.handleListChannels))
	s.router.HandleFunc("POST /api/v1/channels", s.withKey(s.handleCreateChannel))
	s.router.HandleFunc("PUT /api/v1/channels/{id}", s.withKey(s.handleUpdateChannel))
	s.router.HandleFunc("DELETE /api/v1/channels/{id}", s.withKey(s.handleDeleteChannel))
	s.router.HandleFunc("POST /api/v1/channels/{id}/test", s.withKey(s.handleTestChannel))

	// Webhook secrets
	s.router.HandleFunc("GET /api/v1/webhook-secrets", s.withKey(s.handleListSecrets))
	s.router.HandleFunc("POST /api/v1/webhook-secrets", s.withKey(s.handleCreateSecret))
	s.router.HandleFunc("DELETE /api/v1/webhook-secrets/{id}", s.withKey(s.handleDeleteSecret))

	// Activity, cache, unknown files
	s.router.HandleFunc("GET /api/v1/activity", s.withKey(s.handleListActivity))
	s.router.HandleFunc("GET /api/v1/cache/stats", s.withKey(s.handleCacheStats))
	s.router.HandleFunc("POST /api/v1/cache/gc", s.withKey(s.handleCacheGC))
	s.router.HandleFunc("DELETE /api/v1/unknown/{id}", s.withKey(s.handleDeleteUnknown))
}

// withKey guards a handler with the configured API key. An empty configured
// key leaves the API open, which only makes sense on trusted networks.
func (s *Server) withKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey != "" {
			key := r.Header.Get("X-Api-Key")
			if key == "" {
				key = r.URL.Query().Get("apikey")
			}
			if key != s.cfg.Server.APIKey {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queueRepo.CountPending()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"version":      version.Version,
		"jobs_pending": pending,
		"ws_clients":   s.wsHub.ClientCount(),
	})
}

// Start serves until ctx ends, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Server.Port).Msg("api listening")
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
