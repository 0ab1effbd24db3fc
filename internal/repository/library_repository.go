package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const libraryColumns = `id, name, media_type, path, is_enabled, automation_mode,
	provider_strategy, preferred_provider, field_mappings, language,
	min_asset_width, min_asset_height, max_fanart, phash_threshold,
	weight_resolution, weight_votes, weight_language, weight_provider, weight_aspect,
	watch_enabled, scan_interval_hours, next_scan_at, last_scan_at, created_at, updated_at`

func scanLibrary(row interface{ Scan(dest ...interface{}) error }) (*models.Library, error) {
	lib := &models.Library{}
	err := row.Scan(
		&lib.ID, &lib.Name, &lib.MediaType, &lib.Path, &lib.IsEnabled, &lib.AutomationMode,
		&lib.ProviderStrategy, &lib.PreferredProvider, &lib.FieldMappings, &lib.Language,
		&lib.MinAssetWidth, &lib.MinAssetHeight, &lib.MaxFanart, &lib.PhashThreshold,
		&lib.WeightResolution, &lib.WeightVotes, &lib.WeightLanguage, &lib.WeightProvider, &lib.WeightAspect,
		&lib.WatchEnabled, &lib.ScanIntervalHours, &lib.NextScanAt, &lib.LastScanAt, &lib.CreatedAt, &lib.UpdatedAt,
	)
	return lib, err
}

func (r *LibraryRepository) Create(lib *models.Library) error {
	query := `INSERT INTO libraries (
		id, name, media_type, path, is_enabled, automation_mode, provider_strategy,
		preferred_provider, field_mappings, language, min_asset_width, min_asset_height,
		max_fanart, phash_threshold, weight_resolution, weight_votes, weight_language,
		weight_provider, weight_aspect, watch_enabled, scan_interval_hours, next_scan_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	RETURNING created_at, updated_at`
	return r.db.QueryRow(query,
		lib.ID, lib.Name, lib.MediaType, lib.Path, lib.IsEnabled, lib.AutomationMode,
		lib.ProviderStrategy, lib.PreferredProvider, lib.FieldMappings, lib.Language,
		lib.MinAssetWidth, lib.MinAssetHeight, lib.MaxFanart, lib.PhashThreshold,
		lib.WeightResolution, lib.WeightVotes, lib.WeightLanguage, lib.WeightProvider,
		lib.WeightAspect, lib.WatchEnabled, lib.ScanIntervalHours, lib.NextScanAt,
	).Scan(&lib.CreatedAt, &lib.UpdatedAt)
}

func (r *LibraryRepository) Update(lib *models.Library) error {
	query := `UPDATE libraries SET
		name = $2, media_type = $3, path = $4, is_enabled = $5, automation_mode = $6,
		provider_strategy = $7, preferred_provider = $8, field_mappings = $9, language = $10,
		min_asset_width = $11, min_asset_height = $12, max_fanart = $13, phash_threshold = $14,
		weight_resolution = $15, weight_votes = $16, weight_language = $17, weight_provider = $18,
		weight_aspect = $19, watch_enabled = $20, scan_interval_hours = $21, next_scan_at = $22,
		updated_at = NOW()
	WHERE id = $1`
	_, err := r.db.Exec(query,
		lib.ID, lib.Name, lib.MediaType, lib.Path, lib.IsEnabled, lib.AutomationMode,
		lib.ProviderStrategy, lib.PreferredProvider, lib.FieldMappings, lib.Language,
		lib.MinAssetWidth, lib.MinAssetHeight, lib.MaxFanart, lib.PhashThreshold,
		lib.WeightResolution, lib.WeightVotes, lib.WeightLanguage, lib.WeightProvider,
		lib.WeightAspect, lib.WatchEnabled, lib.ScanIntervalHours, lib.NextScanAt,
	)
	return err
}

func (r *LibraryRepository) GetByID(id uuid.UUID) (*models.Library, error) {
	lib, err := scanLibrary(r.db.QueryRow(`SELECT `+libraryColumns+` FROM libraries WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("library %s not found", id)
	}
	return lib, err
}

// GetByPathPrefix returns the library whose root contains the given path, if any.
func (r *LibraryRepository) GetByPathPrefix(path string) (*models.Library, error) {
	lib, err := scanLibrary(r.db.QueryRow(
		`SELECT `+libraryColumns+` FROM libraries WHERE $1 LIKE path || '%' ORDER BY LENGTH(path) DESC LIMIT 1`, path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lib, err
}

func (r *LibraryRepository) List() ([]*models.Library, error) {
	rows, err := r.db.Query(`SELECT ` + libraryColumns + ` FROM libraries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var libs []*models.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

func (r *LibraryRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM libraries WHERE id = $1`, id)
	return err
}

// GetDueForScan returns enabled libraries whose next_scan_at has passed.
func (r *LibraryRepository) GetDueForScan() ([]*models.Library, error) {
	rows, err := r.db.Query(`SELECT ` + libraryColumns + ` FROM libraries
		WHERE is_enabled AND scan_interval_hours > 0 AND next_scan_at IS NOT NULL AND next_scan_at <= NOW()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var libs []*models.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// AdvanceNextScan pushes next_scan_at forward by the library's interval so a
// due library is not re-triggered while its scan job is still queued.
func (r *LibraryRepository) AdvanceNextScan(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE libraries
		SET next_scan_at = NOW() + (scan_interval_hours || ' hours')::interval, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (r *LibraryRepository) UpdateLastScan(id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(`UPDATE libraries SET last_scan_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}
