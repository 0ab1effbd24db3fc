package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ──────────────────── Enums ────────────────────

type LibraryType string

const (
	LibraryMovies LibraryType = "movie"
	LibraryTV     LibraryType = "tv"
	LibraryMusic  LibraryType = "music"
)

type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindSeries  MediaKind = "series"
	KindSeason  MediaKind = "season"
	KindEpisode MediaKind = "episode"
	KindArtist  MediaKind = "artist"
	KindAlbum   MediaKind = "album"
	KindTrack   MediaKind = "track"
)

type AutomationMode string

const (
	ModeManual AutomationMode = "manual"
	ModeYolo   AutomationMode = "yolo"
	ModeHybrid AutomationMode = "hybrid"
)

type ProviderStrategy string

const (
	StrategyPreferredFirst ProviderStrategy = "preferred_first"
	StrategyFieldMapping   ProviderStrategy = "field_mapping"
	StrategyAggregateAll   ProviderStrategy = "aggregate_all"
)

type IdentificationStatus string

const (
	IdentUnidentified IdentificationStatus = "unidentified"
	IdentIdentified   IdentificationStatus = "identified"
	IdentEnriched     IdentificationStatus = "enriched"
)

type AssetType string

const (
	AssetPoster       AssetType = "poster"
	AssetFanart       AssetType = "fanart"
	AssetBanner       AssetType = "banner"
	AssetClearLogo    AssetType = "clearlogo"
	AssetClearArt     AssetType = "clearart"
	AssetDiscArt      AssetType = "discart"
	AssetLandscape    AssetType = "landscape"
	AssetThumb        AssetType = "thumb"
	AssetSeasonPoster AssetType = "season_poster"
	AssetTrailer      AssetType = "trailer"
	AssetSubtitle     AssetType = "subtitle"
)

// MultiSlot reports whether more than one asset of this type may be selected
// for a single item. Everything except fanart is single-slot.
func (a AssetType) MultiSlot() bool {
	return a == AssetFanart
}

type SelectionSource string

const (
	SelectedAuto   SelectionSource = "auto"
	SelectedManual SelectionSource = "manual"
	SelectedLocal  SelectionSource = "local"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobWaiting    JobStatus = "waiting"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

type PlayerKind string

const (
	PlayerKodi     PlayerKind = "kodi"
	PlayerJellyfin PlayerKind = "jellyfin"
	PlayerPlex     PlayerKind = "plex"
)

type UpdateType string

const (
	UpdateScan         UpdateType = "scan"
	UpdateNotification UpdateType = "notification"
)

type MappingScope string

const (
	ScopeManager MappingScope = "manager"
	ScopeGroup   MappingScope = "group"
)

// ──────────────────── Library ────────────────────

type Library struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	Name              string           `json:"name" db:"name"`
	MediaType         LibraryType      `json:"media_type" db:"media_type"`
	Path              string           `json:"path" db:"path"`
	IsEnabled         bool             `json:"is_enabled" db:"is_enabled"`
	AutomationMode    AutomationMode   `json:"automation_mode" db:"automation_mode"`
	ProviderStrategy  ProviderStrategy `json:"provider_strategy" db:"provider_strategy"`
	PreferredProvider *string          `json:"preferred_provider,omitempty" db:"preferred_provider"`
	// FieldMappings holds the per-field provider assignment for the
	// field_mapping strategy, as JSON: {"plot":"tmdb","rating":"tvdb"}.
	FieldMappings     *string    `json:"field_mappings,omitempty" db:"field_mappings"`
	Language          string     `json:"language" db:"language"`
	MinAssetWidth     int        `json:"min_asset_width" db:"min_asset_width"`
	MinAssetHeight    int        `json:"min_asset_height" db:"min_asset_height"`
	MaxFanart         int        `json:"max_fanart" db:"max_fanart"`
	PhashThreshold    float64    `json:"phash_threshold" db:"phash_threshold"`
	WeightResolution  float64    `json:"weight_resolution" db:"weight_resolution"`
	WeightVotes       float64    `json:"weight_votes" db:"weight_votes"`
	WeightLanguage    float64    `json:"weight_language" db:"weight_language"`
	WeightProvider    float64    `json:"weight_provider" db:"weight_provider"`
	WeightAspect      float64    `json:"weight_aspect" db:"weight_aspect"`
	WatchEnabled      bool       `json:"watch_enabled" db:"watch_enabled"`
	ScanIntervalHours int        `json:"scan_interval_hours" db:"scan_interval_hours"`
	NextScanAt        *time.Time `json:"next_scan_at,omitempty" db:"next_scan_at"`
	LastScanAt        *time.Time `json:"last_scan_at,omitempty" db:"last_scan_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ScoreWeights returns the library's scoring weights in formula order:
// resolution, votes, language, provider, aspect.
func (l *Library) ScoreWeights() [5]float64 {
	return [5]float64{l.WeightResolution, l.WeightVotes, l.WeightLanguage, l.WeightProvider, l.WeightAspect}
}

// ──────────────────── MediaItem ────────────────────

type MediaItem struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	LibraryID     uuid.UUID  `json:"library_id" db:"library_id"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	MediaType     MediaKind  `json:"media_type" db:"media_type"`
	Title         string     `json:"title" db:"title"`
	SortTitle     *string    `json:"sort_title,omitempty" db:"sort_title"`
	Year          *int       `json:"year,omitempty" db:"year"`
	DirectoryPath string     `json:"directory_path" db:"directory_path"`
	FilePath      *string    `json:"file_path,omitempty" db:"file_path"`
	FileSize      int64      `json:"file_size" db:"file_size"`

	// Provider IDs
	TmdbID        *string `json:"tmdb_id,omitempty" db:"tmdb_id"`
	TvdbID        *string `json:"tvdb_id,omitempty" db:"tvdb_id"`
	ImdbID        *string `json:"imdb_id,omitempty" db:"imdb_id"`
	MusicbrainzID *string `json:"musicbrainz_id,omitempty" db:"musicbrainz_id"`

	IdentificationStatus IdentificationStatus `json:"identification_status" db:"identification_status"`

	// Descriptive metadata
	Plot          *string        `json:"plot,omitempty" db:"plot"`
	Tagline       *string        `json:"tagline,omitempty" db:"tagline"`
	RuntimeMins   *int           `json:"runtime_mins,omitempty" db:"runtime_mins"`
	Rating        *float64       `json:"rating,omitempty" db:"rating"`
	Votes         *int           `json:"votes,omitempty" db:"votes"`
	Genres        pq.StringArray `json:"genres" db:"genres"`
	Studios       pq.StringArray `json:"studios" db:"studios"`
	ActorsJSON    *string        `json:"actors_json,omitempty" db:"actors_json"`
	Premiered     *time.Time     `json:"premiered,omitempty" db:"premiered"`
	ContentRating *string        `json:"content_rating,omitempty" db:"content_rating"`
	TrailerURL    *string        `json:"trailer_url,omitempty" db:"trailer_url"`

	// Hierarchy position
	SeasonNumber  *int `json:"season_number,omitempty" db:"season_number"`
	EpisodeNumber *int `json:"episode_number,omitempty" db:"episode_number"`
	TrackNumber   *int `json:"track_number,omitempty" db:"track_number"`

	// Stream facts, rewritten on every probe
	VideoCodec        *string        `json:"video_codec,omitempty" db:"video_codec"`
	Width             *int           `json:"width,omitempty" db:"width"`
	Height            *int           `json:"height,omitempty" db:"height"`
	Framerate         *float64       `json:"framerate,omitempty" db:"framerate"`
	VideoBitrate      *int64         `json:"video_bitrate,omitempty" db:"video_bitrate"`
	HDRFormat         *string        `json:"hdr_format,omitempty" db:"hdr_format"`
	AudioCodec        *string        `json:"audio_codec,omitempty" db:"audio_codec"`
	AudioFormat       *string        `json:"audio_format,omitempty" db:"audio_format"`
	AudioChannels     *int           `json:"audio_channels,omitempty" db:"audio_channels"`
	AudioLanguages    pq.StringArray `json:"audio_languages" db:"audio_languages"`
	SubtitleLanguages pq.StringArray `json:"subtitle_languages" db:"subtitle_languages"`
	ProbedAt          *time.Time     `json:"probed_at,omitempty" db:"probed_at"`

	// Lock state
	LockedFields pq.StringArray `json:"locked_fields" db:"locked_fields"`
	LockedAssets pq.StringArray `json:"locked_assets" db:"locked_assets"`

	HasUnpublishedChanges bool       `json:"has_unpublished_changes" db:"has_unpublished_changes"`
	PendingReview         bool       `json:"pending_review" db:"pending_review"`
	NFOContentHash        *string    `json:"nfo_content_hash,omitempty" db:"nfo_content_hash"`
	EnrichedAt            *time.Time `json:"enriched_at,omitempty" db:"enriched_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// IsFieldLocked returns true if the given field name is in the locked_fields
// array. A special value "*" means all fields are locked.
func (m *MediaItem) IsFieldLocked(field string) bool {
	for _, f := range m.LockedFields {
		if f == "*" || f == field {
			return true
		}
	}
	return false
}

// IsAssetLocked returns true if the given asset type is locked against
// automated selection. "*" locks every asset type.
func (m *MediaItem) IsAssetLocked(assetType AssetType) bool {
	for _, a := range m.LockedAssets {
		if a == "*" || a == string(assetType) {
			return true
		}
	}
	return false
}

// Identified reports whether at least one provider ID is present.
func (m *MediaItem) Identified() bool {
	return m.TmdbID != nil || m.TvdbID != nil || m.ImdbID != nil || m.MusicbrainzID != nil
}

// ──────────────────── Asset Candidates ────────────────────

type AssetCandidate struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	MediaItemID    uuid.UUID        `json:"media_item_id" db:"media_item_id"`
	AssetType      AssetType        `json:"asset_type" db:"asset_type"`
	Provider       string           `json:"provider" db:"provider"`
	SourceURL      string           `json:"source_url" db:"source_url"`
	Width          int              `json:"width" db:"width"`
	Height         int              `json:"height" db:"height"`
	Language       *string          `json:"language,omitempty" db:"language"`
	VoteCount      int              `json:"vote_count" db:"vote_count"`
	VoteAverage    float64          `json:"vote_average" db:"vote_average"`
	Score          float64          `json:"score" db:"score"`
	IsDownloaded   bool             `json:"is_downloaded" db:"is_downloaded"`
	IsSelected     bool             `json:"is_selected" db:"is_selected"`
	IsRejected     bool             `json:"is_rejected" db:"is_rejected"`
	SelectedBy     *SelectionSource `json:"selected_by,omitempty" db:"selected_by"`
	PendingReview  bool             `json:"pending_review" db:"pending_review"`
	ContentHash    *string          `json:"content_hash,omitempty" db:"content_hash"`
	PerceptualHash *string          `json:"perceptual_hash,omitempty" db:"perceptual_hash"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Cache ────────────────────

type CacheEntry struct {
	ContentHash    string     `json:"content_hash" db:"content_hash"`
	RelPath        string     `json:"rel_path" db:"rel_path"`
	SizeBytes      int64      `json:"size_bytes" db:"size_bytes"`
	MimeType       string     `json:"mime_type" db:"mime_type"`
	Width          int        `json:"width" db:"width"`
	Height         int        `json:"height" db:"height"`
	PerceptualHash *string    `json:"perceptual_hash,omitempty" db:"perceptual_hash"`
	ReferenceCount int        `json:"reference_count" db:"reference_count"`
	OrphanedAt     *time.Time `json:"orphaned_at,omitempty" db:"orphaned_at"`
	LastUsedAt     time.Time  `json:"last_used_at" db:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

type CacheStats struct {
	Entries      int   `json:"entries"`
	TotalBytes   int64 `json:"total_bytes"`
	Orphaned     int   `json:"orphaned"`
	OrphanedDue  int   `json:"orphaned_due"`
	ReferencedBy int   `json:"referenced_by"`
}

// ──────────────────── Published Assets ────────────────────

type PublishedAsset struct {
	ID          uuid.UUID `json:"id" db:"id"`
	MediaItemID uuid.UUID `json:"media_item_id" db:"media_item_id"`
	AssetType   AssetType `json:"asset_type" db:"asset_type"`
	LibraryPath string    `json:"library_path" db:"library_path"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Stale       bool      `json:"stale" db:"stale"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
}

type PublishLogEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	MediaItemID   uuid.UUID `json:"media_item_id" db:"media_item_id"`
	Success       bool      `json:"success" db:"success"`
	NFOHash       *string   `json:"nfo_hash,omitempty" db:"nfo_hash"`
	AssetsWritten int       `json:"assets_written" db:"assets_written"`
	DurationMs    int64     `json:"duration_ms" db:"duration_ms"`
	Error         *string   `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ──────────────────── Jobs ────────────────────

type Job struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Type            string          `json:"type" db:"type"`
	Priority        int             `json:"priority" db:"priority"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	Status          JobStatus       `json:"status" db:"status"`
	RetryCount      int             `json:"retry_count" db:"retry_count"`
	MaxRetries      int             `json:"max_retries" db:"max_retries"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ParentJobID     *uuid.UUID      `json:"parent_job_id,omitempty" db:"parent_job_id"`
	DependsOn       pq.StringArray  `json:"depends_on" db:"depends_on"`
	DedupeKey       *string         `json:"dedupe_key,omitempty" db:"dedupe_key"`
	ProgressCurrent int             `json:"progress_current" db:"progress_current"`
	ProgressTotal   int             `json:"progress_total" db:"progress_total"`
	ProgressMessage *string         `json:"progress_message,omitempty" db:"progress_message"`
	Error           *string         `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

type JobHistoryEntry struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Type        string     `json:"type" db:"type"`
	Priority    int        `json:"priority" db:"priority"`
	Status      JobStatus  `json:"status" db:"status"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	ParentJobID *uuid.UUID `json:"parent_job_id,omitempty" db:"parent_job_id"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt time.Time  `json:"completed_at" db:"completed_at"`
	DurationMs  int64      `json:"duration_ms" db:"duration_ms"`
}

// ──────────────────── Players ────────────────────

type PlayerGroup struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	MaxMembers           *int      `json:"max_members,omitempty" db:"max_members"`
	NotificationsEnabled bool      `json:"notifications_enabled" db:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
	// Aggregated (not in DB)
	Members []*MediaPlayer `json:"members,omitempty" db:"-"`
}

// Singleton reports whether the group holds exactly one player.
func (g *PlayerGroup) Singleton() bool {
	return g.MaxMembers != nil && *g.MaxMembers == 1
}

type MediaPlayer struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	GroupID    uuid.UUID  `json:"group_id" db:"group_id"`
	Name       string     `json:"name" db:"name"`
	Kind       PlayerKind `json:"kind" db:"kind"`
	Host       string     `json:"host" db:"host"`
	Port       int        `json:"port" db:"port"`
	Username   *string    `json:"username,omitempty" db:"username"`
	Password   *string    `json:"-" db:"password"`
	Token      *string    `json:"-" db:"token"`
	IsEnabled  bool       `json:"is_enabled" db:"is_enabled"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type PlayerUpdate struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	PlayerID     uuid.UUID  `json:"player_id" db:"player_id"`
	UpdateType   UpdateType `json:"update_type" db:"update_type"`
	Path         string     `json:"path" db:"path"`
	Message      *string    `json:"message,omitempty" db:"message"`
	ScheduledFor time.Time  `json:"scheduled_for" db:"scheduled_for"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// ──────────────────── Path Mappings ────────────────────

type PathMapping struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Scope        MappingScope `json:"scope" db:"scope"`
	ManagerType  *string      `json:"manager_type,omitempty" db:"manager_type"`
	GroupID      *uuid.UUID   `json:"group_id,omitempty" db:"group_id"`
	SourcePrefix string       `json:"source_prefix" db:"source_prefix"`
	TargetPrefix string       `json:"target_prefix" db:"target_prefix"`
	Position     int          `json:"position" db:"position"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// ──────────────────── Rejected Assets ────────────────────

type RejectedAsset struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Provider    string     `json:"provider" db:"provider"`
	SourceURL   string     `json:"source_url" db:"source_url"`
	MediaItemID *uuid.UUID `json:"media_item_id,omitempty" db:"media_item_id"`
	Reason      *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ──────────────────── Activity ────────────────────

type Activity struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Kind        string           `json:"kind" db:"kind"`
	MediaItemID *uuid.UUID       `json:"media_item_id,omitempty" db:"media_item_id"`
	JobID       *uuid.UUID       `json:"job_id,omitempty" db:"job_id"`
	Message     string           `json:"message" db:"message"`
	Detail      *json.RawMessage `json:"detail,omitempty" db:"detail"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// ──────────────────── Unknown Files ────────────────────

type UnknownFile struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	LibraryID   uuid.UUID  `json:"library_id" db:"library_id"`
	MediaItemID *uuid.UUID `json:"media_item_id,omitempty" db:"media_item_id"`
	Path        string     `json:"path" db:"path"`
	Extension   string     `json:"extension" db:"extension"`
	SizeBytes   int64      `json:"size_bytes" db:"size_bytes"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ──────────────────── Notification Channels ────────────────────

type NotificationChannel struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	ChannelType string           `json:"channel_type" db:"channel_type"`
	WebhookURL  string           `json:"webhook_url" db:"webhook_url"`
	IsEnabled   bool             `json:"is_enabled" db:"is_enabled"`
	Events      pq.StringArray   `json:"events" db:"events"`
	Config      *json.RawMessage `json:"config,omitempty" db:"config"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// GetConfig returns the channel config as a string map.
func (c *NotificationChannel) GetConfig() map[string]string {
	result := make(map[string]string)
	if c.Config == nil {
		return result
	}
	json.Unmarshal(*c.Config, &result)
	return result
}

// SubscribedTo reports whether the channel wants the given event.
func (c *NotificationChannel) SubscribedTo(event string) bool {
	for _, e := range c.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

// ──────────────────── Settings ────────────────────

// Setting is a single key/value override persisted in the database.
// Database values take precedence over file and environment configuration.
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Webhook Secrets ────────────────────

type WebhookSecret struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Service         string     `json:"service" db:"service"`
	SecretHash      string     `json:"-" db:"secret_hash"`
	LibraryID       *uuid.UUID `json:"library_id,omitempty" db:"library_id"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}
