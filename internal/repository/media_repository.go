package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/models"
)

type MediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const mediaColumns = `id, library_id, parent_id, media_type, title, sort_title, year,
	directory_path, file_path, file_size,
	tmdb_id, tvdb_id, imdb_id, musicbrainz_id, identification_status,
	plot, tagline, runtime_mins, rating, votes, genres, studios, actors_json,
	premiered, content_rating, trailer_url,
	season_number, episode_number, track_number,
	video_codec, width, height, framerate, video_bitrate, hdr_format,
	audio_codec, audio_format, audio_channels, audio_languages, subtitle_languages, probed_at,
	locked_fields, locked_assets, has_unpublished_changes, pending_review,
	nfo_content_hash, enriched_at, deleted_at, created_at, updated_at`

func scanMediaItem(row interface{ Scan(dest ...interface{}) error }) (*models.MediaItem, error) {
	item := &models.MediaItem{}
	err := row.Scan(
		&item.ID, &item.LibraryID, &item.ParentID, &item.MediaType, &item.Title, &item.SortTitle, &item.Year,
		&item.DirectoryPath, &item.FilePath, &item.FileSize,
		&item.TmdbID, &item.TvdbID, &item.ImdbID, &item.MusicbrainzID, &item.IdentificationStatus,
		&item.Plot, &item.Tagline, &item.RuntimeMins, &item.Rating, &item.Votes,
		&item.Genres, &item.Studios, &item.ActorsJSON,
		&item.Premiered, &item.ContentRating, &item.TrailerURL,
		&item.SeasonNumber, &item.EpisodeNumber, &item.TrackNumber,
		&item.VideoCodec, &item.Width, &item.Height, &item.Framerate, &item.VideoBitrate, &item.HDRFormat,
		&item.AudioCodec, &item.AudioFormat, &item.AudioChannels, &item.AudioLanguages, &item.SubtitleLanguages, &item.ProbedAt,
		&item.LockedFields, &item.LockedAssets, &item.HasUnpublishedChanges, &item.PendingReview,
		&item.NFOContentHash, &item.EnrichedAt, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (r *MediaRepository) Create(item *models.MediaItem) error {
	query := `INSERT INTO media_items (
		id, library_id, parent_id, media_type, title, sort_title, year,
		directory_path, file_path, file_size,
		tmdb_id, tvdb_id, imdb_id, musicbrainz_id, identification_status,
		season_number, episode_number, track_number, genres, studios,
		audio_languages, subtitle_languages, locked_fields, locked_assets
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24)
	RETURNING created_at, updated_at`
	return r.db.QueryRow(query,
		item.ID, item.LibraryID, item.ParentID, item.MediaType, item.Title, item.SortTitle, item.Year,
		item.DirectoryPath, item.FilePath, item.FileSize,
		item.TmdbID, item.TvdbID, item.ImdbID, item.MusicbrainzID, item.IdentificationStatus,
		item.SeasonNumber, item.EpisodeNumber, item.TrackNumber,
		pq.Array(orEmpty(item.Genres)), pq.Array(orEmpty(item.Studios)),
		pq.Array(orEmpty(item.AudioLanguages)), pq.Array(orEmpty(item.SubtitleLanguages)),
		pq.Array(orEmpty(item.LockedFields)), pq.Array(orEmpty(item.LockedAssets)),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func orEmpty(a pq.StringArray) pq.StringArray {
	if a == nil {
		return pq.StringArray{}
	}
	return a
}

func (r *MediaRepository) GetByID(id uuid.UUID) (*models.MediaItem, error) {
	item, err := scanMediaItem(r.db.QueryRow(`SELECT `+mediaColumns+` FROM media_items WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("media item %s not found", id)
	}
	return item, err
}

// GetByDirectory returns the item rooted at the given directory, or nil.
func (r *MediaRepository) GetByDirectory(dir string) (*models.MediaItem, error) {
	item, err := scanMediaItem(r.db.QueryRow(
		`SELECT `+mediaColumns+` FROM media_items WHERE directory_path = $1 AND deleted_at IS NULL`, dir))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// GetByFilePath returns the item owning the given media file, or nil.
func (r *MediaRepository) GetByFilePath(path string) (*models.MediaItem, error) {
	item, err := scanMediaItem(r.db.QueryRow(
		`SELECT `+mediaColumns+` FROM media_items WHERE file_path = $1 AND deleted_at IS NULL`, path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// GetByProviderID looks an item up by one of its external IDs. The provider
// argument selects the column; empty results are nil, not an error.
func (r *MediaRepository) GetByProviderID(provider, id string) (*models.MediaItem, error) {
	var column string
	switch provider {
	case "tmdb":
		column = "tmdb_id"
	case "tvdb":
		column = "tvdb_id"
	case "imdb":
		column = "imdb_id"
	case "musicbrainz":
		column = "musicbrainz_id"
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	item, err := scanMediaItem(r.db.QueryRow(
		`SELECT `+mediaColumns+` FROM media_items WHERE `+column+` = $1 AND deleted_at IS NULL LIMIT 1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (r *MediaRepository) ListByLibrary(libraryID uuid.UUID, limit, offset int) ([]*models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media_items
		WHERE library_id = $1 AND deleted_at IS NULL
		ORDER BY COALESCE(sort_title, title) LIMIT $2 OFFSET $3`, libraryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

// ListNeedingEnrichment returns identified items that have never been
// enriched, oldest first.
func (r *MediaRepository) ListNeedingEnrichment(libraryID uuid.UUID, limit int) ([]*models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media_items
		WHERE library_id = $1 AND identification_status = 'identified' AND deleted_at IS NULL
		ORDER BY created_at LIMIT $2`, libraryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

// ListUnpublished returns items flagged with pending changes.
func (r *MediaRepository) ListUnpublished(limit int) ([]*models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media_items
		WHERE has_unpublished_changes AND deleted_at IS NULL
		ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

// ListRecentlyPublished returns items the verifier should look at.
func (r *MediaRepository) ListRecentlyPublished(since time.Time, limit int) ([]*models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ON (m.id) `+prefixColumns("m", mediaColumns)+`
		FROM media_items m
		JOIN published_assets p ON p.media_item_id = m.id
		WHERE p.published_at >= $1 AND m.deleted_at IS NULL
		ORDER BY m.id LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

func collectMediaItems(rows *sql.Rows) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateMetadata persists the merge result of an enrichment pass.
func (r *MediaRepository) UpdateMetadata(item *models.MediaItem) error {
	query := `UPDATE media_items SET
		title = $2, sort_title = $3, year = $4,
		tmdb_id = $5, tvdb_id = $6, imdb_id = $7, musicbrainz_id = $8,
		identification_status = $9,
		plot = $10, tagline = $11, runtime_mins = $12, rating = $13, votes = $14,
		genres = $15, studios = $16, actors_json = $17, premiered = $18,
		content_rating = $19, trailer_url = $20,
		has_unpublished_changes = $21, pending_review = $22, enriched_at = $23,
		updated_at = NOW()
	WHERE id = $1`
	_, err := r.db.Exec(query,
		item.ID, item.Title, item.SortTitle, item.Year,
		item.TmdbID, item.TvdbID, item.ImdbID, item.MusicbrainzID,
		item.IdentificationStatus,
		item.Plot, item.Tagline, item.RuntimeMins, item.Rating, item.Votes,
		pq.Array(orEmpty(item.Genres)), pq.Array(orEmpty(item.Studios)), item.ActorsJSON, item.Premiered,
		item.ContentRating, item.TrailerURL,
		item.HasUnpublishedChanges, item.PendingReview, item.EnrichedAt,
	)
	return err
}

// UpdateStreamFacts rewrites the probe result columns. Facts are replaced
// wholesale on every probe; there is no merge.
func (r *MediaRepository) UpdateStreamFacts(item *models.MediaItem) error {
	query := `UPDATE media_items SET
		video_codec = $2, width = $3, height = $4, framerate = $5, video_bitrate = $6,
		hdr_format = $7, audio_codec = $8, audio_format = $9, audio_channels = $10,
		audio_languages = $11, subtitle_languages = $12, probed_at = $13,
		file_path = $14, file_size = $15, updated_at = NOW()
	WHERE id = $1`
	_, err := r.db.Exec(query,
		item.ID, item.VideoCodec, item.Width, item.Height, item.Framerate, item.VideoBitrate,
		item.HDRFormat, item.AudioCodec, item.AudioFormat, item.AudioChannels,
		pq.Array(orEmpty(item.AudioLanguages)), pq.Array(orEmpty(item.SubtitleLanguages)), item.ProbedAt,
		item.FilePath, item.FileSize,
	)
	return err
}

// UpdateLocks rewrites the lock arrays.
func (r *MediaRepository) UpdateLocks(id uuid.UUID, fields, assets pq.StringArray) error {
	_, err := r.db.Exec(`UPDATE media_items SET locked_fields = $2, locked_assets = $3, updated_at = NOW() WHERE id = $1`,
		id, pq.Array(orEmpty(fields)), pq.Array(orEmpty(assets)))
	return err
}

func (r *MediaRepository) SetUnpublishedChanges(id uuid.UUID, pending bool) error {
	_, err := r.db.Exec(`UPDATE media_items SET has_unpublished_changes = $2, updated_at = NOW() WHERE id = $1`, id, pending)
	return err
}

func (r *MediaRepository) SetNFOHash(id uuid.UUID, hash string) error {
	_, err := r.db.Exec(`UPDATE media_items SET nfo_content_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// SoftDelete marks the item for removal after the grace window.
func (r *MediaRepository) SoftDelete(id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(`UPDATE media_items SET deleted_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

// PurgeExpired hard-deletes soft-deleted items whose grace has passed. FK
// cascades remove candidates and published assets; the candidate delete
// trigger releases cache references.
func (r *MediaRepository) PurgeExpired(grace time.Duration) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM media_items WHERE deleted_at IS NOT NULL AND deleted_at + $1::interval < NOW()`,
		fmt.Sprintf("%d seconds", int(grace.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// prefixColumns qualifies every column in a comma-separated list for joins.
func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
