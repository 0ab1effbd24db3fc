package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ErrRefUnderflow is returned when a reference release is attempted on an
// entry that holds no references. That always indicates a bookkeeping bug and
// must surface loudly.
var ErrRefUnderflow = errors.New("cache reference count underflow")

type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

const cacheColumns = `content_hash, rel_path, size_bytes, mime_type, width, height,
	perceptual_hash, reference_count, orphaned_at, last_used_at, created_at`

func scanCacheEntry(row interface{ Scan(dest ...interface{}) error }) (*models.CacheEntry, error) {
	e := &models.CacheEntry{}
	err := row.Scan(
		&e.ContentHash, &e.RelPath, &e.SizeBytes, &e.MimeType, &e.Width, &e.Height,
		&e.PerceptualHash, &e.ReferenceCount, &e.OrphanedAt, &e.LastUsedAt, &e.CreatedAt,
	)
	return e, err
}

func (r *CacheRepository) GetByHash(hash string) (*models.CacheEntry, error) {
	e, err := scanCacheEntry(r.db.QueryRow(`SELECT `+cacheColumns+` FROM cache_entries WHERE content_hash = $1`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpsertWithReference creates the entry with one reference, or bumps the
// reference count of an existing row. Either way the row leaves the orphaned
// state in the same statement.
func (r *CacheRepository) UpsertWithReference(e *models.CacheEntry) (deduped bool, err error) {
	query := `INSERT INTO cache_entries (
		content_hash, rel_path, size_bytes, mime_type, width, height, perceptual_hash, reference_count
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	ON CONFLICT (content_hash) DO UPDATE SET
		reference_count = cache_entries.reference_count + 1,
		orphaned_at = NULL,
		last_used_at = NOW()
	RETURNING reference_count, orphaned_at, last_used_at, created_at`
	err = r.db.QueryRow(query,
		e.ContentHash, e.RelPath, e.SizeBytes, e.MimeType, e.Width, e.Height, e.PerceptualHash,
	).Scan(&e.ReferenceCount, &e.OrphanedAt, &e.LastUsedAt, &e.CreatedAt)
	if err != nil {
		return false, err
	}
	return e.ReferenceCount > 1, nil
}

// AddReference bumps the count and clears orphaned state.
func (r *CacheRepository) AddReference(hash string) error {
	res, err := r.db.Exec(`UPDATE cache_entries
		SET reference_count = reference_count + 1, orphaned_at = NULL, last_used_at = NOW()
		WHERE content_hash = $1`, hash)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("cache entry %s not found", hash)
	}
	return nil
}

// ReleaseReference decrements the count; the transition to zero sets
// orphaned_at in the same statement. Releasing an unreferenced entry fails
// with ErrRefUnderflow.
func (r *CacheRepository) ReleaseReference(hash string) error {
	var refs int
	err := r.db.QueryRow(`UPDATE cache_entries
		SET reference_count = reference_count - 1,
		    orphaned_at = CASE WHEN reference_count - 1 = 0 THEN NOW() ELSE orphaned_at END
		WHERE content_hash = $1 AND reference_count > 0
		RETURNING reference_count`, hash).Scan(&refs)
	if err == sql.ErrNoRows {
		var exists bool
		if e := r.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM cache_entries WHERE content_hash = $1)`, hash).Scan(&exists); e != nil {
			return e
		}
		if !exists {
			return fmt.Errorf("cache entry %s not found", hash)
		}
		return fmt.Errorf("%w: %s", ErrRefUnderflow, hash)
	}
	return err
}

// ListGCEligible returns orphaned entries whose grace window has expired.
func (r *CacheRepository) ListGCEligible(grace time.Duration, limit int) ([]*models.CacheEntry, error) {
	rows, err := r.db.Query(`SELECT `+cacheColumns+` FROM cache_entries
		WHERE orphaned_at IS NOT NULL AND orphaned_at + $1::interval < NOW()
		ORDER BY orphaned_at LIMIT $2`,
		fmt.Sprintf("%d seconds", int(grace.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *CacheRepository) Delete(hash string) error {
	_, err := r.db.Exec(`DELETE FROM cache_entries WHERE content_hash = $1`, hash)
	return err
}

// RestoreOrphanedAt puts a row back into the GC queue after a failed unlink so
// the next pass retries it.
func (r *CacheRepository) RestoreOrphanedAt(e *models.CacheEntry) error {
	query := `INSERT INTO cache_entries (
		content_hash, rel_path, size_bytes, mime_type, width, height, perceptual_hash, reference_count, orphaned_at, last_used_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
	ON CONFLICT (content_hash) DO UPDATE SET orphaned_at = EXCLUDED.orphaned_at`
	_, err := r.db.Exec(query,
		e.ContentHash, e.RelPath, e.SizeBytes, e.MimeType, e.Width, e.Height,
		e.PerceptualHash, e.OrphanedAt, e.LastUsedAt, e.CreatedAt)
	return err
}

// Stats aggregates cache-wide numbers for the API and metrics.
func (r *CacheRepository) Stats(grace time.Duration) (*models.CacheStats, error) {
	stats := &models.CacheStats{}
	err := r.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(size_bytes), 0),
		COUNT(*) FILTER (WHERE orphaned_at IS NOT NULL),
		COUNT(*) FILTER (WHERE orphaned_at IS NOT NULL AND orphaned_at + $1::interval < NOW()),
		COALESCE(SUM(reference_count), 0)
	FROM cache_entries`, fmt.Sprintf("%d seconds", int(grace.Seconds()))).
		Scan(&stats.Entries, &stats.TotalBytes, &stats.Orphaned, &stats.OrphanedDue, &stats.ReferencedBy)
	return stats, err
}

// ListAll streams every entry; used by the verifier to prune rows whose files
// vanished outside GC.
func (r *CacheRepository) ListAll(limit, offset int) ([]*models.CacheEntry, error) {
	rows, err := r.db.Query(`SELECT `+cacheColumns+` FROM cache_entries ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
