package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/cache"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notifications"
	"github.com/fetcharr/fetcharr/internal/players"
	"github.com/fetcharr/fetcharr/internal/providers"
	"github.com/fetcharr/fetcharr/internal/publish"
	"github.com/fetcharr/fetcharr/internal/repository"
)

// Job types.
const (
	TaskWebhookProcess  = "webhook:process"
	TaskScanLibrary     = "scan:library"
	TaskScanDirectory   = "scan:directory"
	TaskCacheAsset      = "cache:asset"
	TaskEnrichMetadata  = "enrich:metadata"
	TaskDownloadAsset   = "download:asset"
	TaskPublishItem     = "publish:item"
	TaskNotifyPlayers   = "notify:players"
	TaskVerifyPublished = "verify:published"
	TaskCacheGC         = "cache:gc"
	TaskMaintenance     = "queue:maintenance"
)

// Priority bands: 1 is most urgent, 10 least. Webhook- and user-triggered
// work runs in the 1-5 band; scheduled and watcher work runs at 6-7 so a
// nightly full-library scan cannot starve it. Housekeeping yields to all
// real work.
const (
	PriorityWebhook   = 1
	PriorityDirectory = 2
	PriorityCache     = 3
	PriorityEnrich    = 3
	PriorityUserScan  = 3
	PriorityDownload  = 4
	PriorityPublish   = 4
	PriorityNotify    = 5
	PriorityScan      = 6
	PriorityVerify    = 8
	PriorityGC        = 9

	// Routine-band equivalents for children of scheduled or watcher jobs.
	PriorityRoutineDirectory = 6
	PriorityRoutineChild     = 7
)

// childPriority bands a fan-out child by its parent's origin: children of
// scheduled or watcher jobs take the routine priority, children of webhook
// or user jobs the urgent one.
func childPriority(parent *models.Job, urgent, routine int) int {
	if parent.Priority >= PriorityScan {
		return routine
	}
	return urgent
}

const (
	defaultMaxRetries = 3

	// softDeleteGrace is the fallback purge window when no configured value
	// reaches RegisterAll.
	softDeleteGrace = 30 * 24 * time.Hour
)

// ──────────────────── Payloads ────────────────────

type LibraryPayload struct {
	LibraryID uuid.UUID `json:"library_id"`
}

type DirectoryPayload struct {
	LibraryID uuid.UUID `json:"library_id"`
	Dir       string    `json:"dir"`
}

type CacheAssetPayload struct {
	LibraryID   uuid.UUID        `json:"library_id"`
	MediaItemID uuid.UUID        `json:"media_item_id"`
	Path        string           `json:"path"`
	AssetType   models.AssetType `json:"asset_type"`
}

type ItemPayload struct {
	MediaItemID uuid.UUID `json:"media_item_id"`
}

type DownloadPayload struct {
	CandidateID uuid.UUID `json:"candidate_id"`
}

// NotifyPayload targets one player group when GroupID is set; the zero value
// fans out one child job per notifiable group.
type NotifyPayload struct {
	MediaItemID uuid.UUID `json:"media_item_id"`
	Path        string    `json:"path"`
	Message     string    `json:"message"`
	GroupID     uuid.UUID `json:"group_id,omitempty"`
}

type WebhookPayload struct {
	Source string          `json:"source"`
	Body   json.RawMessage `json:"body"`
}

// NewJob builds a job row with the defaults the handlers expect.
func NewJob(jobType string, priority int, payload any) *models.Job {
	data, _ := json.Marshal(payload)
	return &models.Job{
		ID:         uuid.New(),
		Type:       jobType,
		Priority:   priority,
		Payload:    data,
		MaxRetries: defaultMaxRetries,
	}
}

func withParent(j *models.Job, parent uuid.UUID) *models.Job {
	j.ParentJobID = &parent
	return j
}

func withDeps(j *models.Job, deps ...uuid.UUID) *models.Job {
	for _, d := range deps {
		j.DependsOn = append(j.DependsOn, d.String())
	}
	return j
}

func withDedupe(j *models.Job, key string) *models.Job {
	j.DedupeKey = &key
	return j
}

// ──────────────────── Wiring ────────────────────

// Deps bundles everything the task handlers touch.
type Deps struct {
	Queue      *Queue
	Libraries  *repository.LibraryRepository
	Media      *repository.MediaRepository
	Candidates *repository.CandidateRepository
	Rejected   *repository.RejectedRepository
	Unknown    *repository.UnknownRepository
	Publishes  *repository.PublishRepository
	Mappings   *repository.MappingRepository
	Activity   *repository.ActivityRepository
	Cache      *cache.Cache

	Probe        *ffmpeg.FFprobe
	Registry     *providers.Registry
	Orchestrator *metadata.Orchestrator
	Publisher    *publish.Publisher
	Notifier     *players.Notifier
	Dispatcher   *notifications.Dispatcher

	// Download is the plain client asset downloads go through; provider
	// API calls use the rate-limited clients instead.
	Download *http.Client

	// SoftDeleteGrace is how long soft-deleted items and their stale publish
	// records survive before the weekly sweep purges them.
	SoftDeleteGrace time.Duration
}

// RegisterAll binds every task handler onto the queue.
func RegisterAll(d *Deps) {
	if d.Download == nil {
		d.Download = &http.Client{Timeout: 60 * time.Second}
	}
	if d.SoftDeleteGrace <= 0 {
		d.SoftDeleteGrace = softDeleteGrace
	}
	d.Queue.Register(TaskWebhookProcess, d.handleWebhook)
	d.Queue.Register(TaskScanLibrary, d.handleScanLibrary)
	d.Queue.Register(TaskScanDirectory, d.handleScanDirectory)
	d.Queue.Register(TaskCacheAsset, d.handleCacheAsset)
	d.Queue.Register(TaskEnrichMetadata, d.handleEnrich)
	d.Queue.Register(TaskDownloadAsset, d.handleDownload)
	d.Queue.Register(TaskPublishItem, d.handlePublish)
	d.Queue.Register(TaskNotifyPlayers, d.handleNotify)
	d.Queue.Register(TaskVerifyPublished, d.handleVerify)
	d.Queue.Register(TaskCacheGC, d.handleGC)
	d.Queue.Register(TaskMaintenance, d.handleMaintenance)
}

func (d *Deps) activity(kind string, itemID, jobID *uuid.UUID, message string, detail any) {
	if d.Activity == nil {
		return
	}
	if err := d.Activity.Append(kind, itemID, jobID, message, detail); err != nil {
		d.Queue.log.Error().Err(err).Str("kind", kind).Msg("activity append failed")
	}
}
