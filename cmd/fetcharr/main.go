package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/cache"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/db"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notifications"
	"github.com/fetcharr/fetcharr/internal/players"
	"github.com/fetcharr/fetcharr/internal/providers"
	"github.com/fetcharr/fetcharr/internal/publish"
	"github.com/fetcharr/fetcharr/internal/repository"
	"github.com/fetcharr/fetcharr/internal/scheduler"
	"github.com/fetcharr/fetcharr/internal/version"
	"github.com/fetcharr/fetcharr/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetcharr: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	version.Version = version.Load().Version

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Configure(logging.Config{
		Level:   cfg.Log.Level,
		Service: "fetcharr",
		Version: version.Version,
	})
	log := logging.WithComponent("main")
	log.Info().Str("version", version.Version).Msg("fetcharr starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	settingsRepo := repository.NewSettingsRepository(database.DB)
	if err := cfg.MergeFromDB(settingsRepo); err != nil {
		return err
	}

	libRepo := repository.NewLibraryRepository(database.DB)
	mediaRepo := repository.NewMediaRepository(database.DB)
	candRepo := repository.NewCandidateRepository(database.DB)
	rejectedRepo := repository.NewRejectedRepository(database.DB)
	unknownRepo := repository.NewUnknownRepository(database.DB)
	publishRepo := repository.NewPublishRepository(database.DB)
	mappingRepo := repository.NewMappingRepository(database.DB)
	activityRepo := repository.NewActivityRepository(database.DB)
	channelRepo := repository.NewChannelRepository(database.DB)
	playerRepo := repository.NewPlayerRepository(database.DB)
	queueRepo := repository.NewQueueRepository(database.DB)
	cacheRepo := repository.NewCacheRepository(database.DB)

	blobCache, err := cache.New(cfg.Cache.Root, cacheRepo, cfg.OrphanGrace())
	if err != nil {
		return err
	}

	probe := ffmpeg.NewFFprobe(cfg.FFprobe.Path, cfg.FFprobe.Timeout)
	registry := buildRegistry(cfg)
	orchestrator := metadata.NewOrchestrator(registry)
	publisher := publish.New(blobCache, mediaRepo, candRepo, publishRepo, int64(cfg.Publish.Concurrency))

	sender := notifications.NewSender()
	dispatcher := notifications.NewDispatcher(channelRepo, sender)

	notifier := players.NewNotifier(playerRepo, mappingRepo, nil)
	updateQueue := players.NewUpdateQueue(playerRepo, nil)
	go updateQueue.Run(ctx)
	startKodiListeners(ctx, playerRepo, updateQueue)

	hub := api.NewWSHub()
	queue := jobs.New(queueRepo, hub, cfg.Jobs.Workers)
	queue.OnTerminalFailure = func(job *models.Job, errMsg string) {
		dispatcher.Dispatch(notifications.EventJobFailed,
			"Job failed: {{type}}",
			"Job {{type}} failed after retries: {{error}}",
			map[string]any{"type": job.Type, "id": job.ID.String(), "error": errMsg})
	}

	jobs.RegisterAll(&jobs.Deps{
		Queue:      queue,
		Libraries:  libRepo,
		Media:      mediaRepo,
		Candidates: candRepo,
		Rejected:   rejectedRepo,
		Unknown:    unknownRepo,
		Publishes:  publishRepo,
		Mappings:   mappingRepo,
		Activity:   activityRepo,
		Cache:      blobCache,

		Probe:        probe,
		Registry:     registry,
		Orchestrator: orchestrator,
		Publisher:    publisher,
		Notifier:     notifier,
		Dispatcher:   dispatcher,

		SoftDeleteGrace: cfg.SoftDeleteGrace(),
	})

	if err := queue.Recover(); err != nil {
		return err
	}
	go queue.Run(ctx)

	fsWatcher, err := watcher.New(libRepo, func(libraryID uuid.UUID, dir string) {
		job := jobs.NewJob(jobs.TaskScanDirectory, jobs.PriorityRoutineDirectory,
			jobs.DirectoryPayload{LibraryID: libraryID, Dir: dir})
		key := jobs.TaskScanDirectory + ":" + dir
		job.DedupeKey = &key
		if err := queue.Enqueue(job); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("watch scan enqueue failed")
		}
	})
	if err != nil {
		return err
	}
	fsWatcher.Start()
	defer fsWatcher.Stop()

	sched := scheduler.New(libRepo, queue)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(cfg, database, queue, blobCache, registry, hub)
	return server.Start(ctx)
}

// buildRegistry registers every adapter; enablement is decided per call so
// keys added through the settings API take effect without re-registering.
func buildRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(func(id string) bool {
		switch id {
		case "tmdb":
			return cfg.Providers.TMDBAPIKey != ""
		case "tvdb":
			return cfg.Providers.TVDBAPIKey != ""
		case "fanart.tv":
			return cfg.Providers.FanartProjectKey != ""
		default:
			return true
		}
	})

	client := func(id string, rps float64, burst int) *providers.Client {
		if override, ok := cfg.Providers.RateOverrides[id]; ok && override > 0 {
			rps = override
		}
		return providers.NewClient(id, rps, burst, cfg.Providers.RequestTimeout)
	}

	registry.Register(providers.NewTMDB(cfg.Providers.TMDBAPIKey, client("tmdb", 4, 10)))
	registry.Register(providers.NewTVDB(cfg.Providers.TVDBAPIKey, client("tvdb", 2, 5)))
	registry.Register(providers.NewFanartTV(cfg.Providers.FanartProjectKey, cfg.Providers.FanartClientKey, client("fanart.tv", 2, 5)))
	registry.Register(providers.NewMusicBrainz(client("musicbrainz", 1, 1)))
	registry.Register(providers.NewLocal())
	return registry
}

// startKodiListeners opens an OnStop WebSocket per enabled Kodi player so
// queued updates flush the moment playback ends.
func startKodiListeners(ctx context.Context, repo *repository.PlayerRepository, queue *players.UpdateQueue) {
	groups, err := repo.ListGroups()
	if err != nil {
		log := logging.WithComponent("main")
		log.Warn().Err(err).Msg("kodi listener setup skipped")
		return
	}
	for _, g := range groups {
		members, err := repo.ListPlayersByGroup(g.ID)
		if err != nil {
			continue
		}
		for _, p := range members {
			if p.Kind != models.PlayerKodi || !p.IsEnabled {
				continue
			}
			listener := players.NewOnStopListener(p.Host, 0, queue.Wake)
			go listener.Run(ctx)
		}
	}
}
