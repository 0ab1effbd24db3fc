package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type PublishRepository struct {
	db *sql.DB
}

func NewPublishRepository(db *sql.DB) *PublishRepository {
	return &PublishRepository{db: db}
}

const publishedColumns = `id, media_item_id, asset_type, library_path, content_hash, stale, published_at`

func scanPublishedAsset(row interface{ Scan(dest ...interface{}) error }) (*models.PublishedAsset, error) {
	p := &models.PublishedAsset{}
	err := row.Scan(&p.ID, &p.MediaItemID, &p.AssetType, &p.LibraryPath, &p.ContentHash, &p.Stale, &p.PublishedAt)
	return p, err
}

// Record upserts the published-asset row for a library path.
func (r *PublishRepository) Record(p *models.PublishedAsset) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `INSERT INTO published_assets (id, media_item_id, asset_type, library_path, content_hash, stale, published_at)
	VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
	ON CONFLICT (media_item_id, library_path) DO UPDATE SET
		asset_type = EXCLUDED.asset_type,
		content_hash = EXCLUDED.content_hash,
		stale = FALSE,
		published_at = NOW()
	RETURNING id, published_at`
	return r.db.QueryRow(query, p.ID, p.MediaItemID, p.AssetType, p.LibraryPath, p.ContentHash).
		Scan(&p.ID, &p.PublishedAt)
}

func (r *PublishRepository) ListByItem(itemID uuid.UUID) ([]*models.PublishedAsset, error) {
	rows, err := r.db.Query(`SELECT `+publishedColumns+` FROM published_assets WHERE media_item_id = $1 ORDER BY library_path`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PublishedAsset
	for rows.Next() {
		p, err := scanPublishedAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkStale flags every published asset of an item, used on webhook deletes.
func (r *PublishRepository) MarkStale(itemID uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE published_assets SET stale = TRUE WHERE media_item_id = $1`, itemID)
	return err
}

// DeleteByPath removes the record for one published file.
func (r *PublishRepository) DeleteByPath(itemID uuid.UUID, path string) error {
	_, err := r.db.Exec(`DELETE FROM published_assets WHERE media_item_id = $1 AND library_path = $2`, itemID, path)
	return err
}

func (r *PublishRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM published_assets WHERE id = $1`, id)
	return err
}

func (r *PublishRepository) DeleteByItem(itemID uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM published_assets WHERE media_item_id = $1`, itemID)
	return err
}

// AppendLog records the outcome of one publish attempt.
func (r *PublishRepository) AppendLog(entry *models.PublishLogEntry) error {
	entry.ID = uuid.New()
	return r.db.QueryRow(`INSERT INTO publish_log (id, media_item_id, success, nfo_hash, assets_written, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		entry.ID, entry.MediaItemID, entry.Success, entry.NFOHash, entry.AssetsWritten, entry.DurationMs, entry.Error,
	).Scan(&entry.CreatedAt)
}

func (r *PublishRepository) ListLog(itemID uuid.UUID, limit int) ([]*models.PublishLogEntry, error) {
	rows, err := r.db.Query(`SELECT id, media_item_id, success, nfo_hash, assets_written, duration_ms, error, created_at
		FROM publish_log WHERE media_item_id = $1 ORDER BY created_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PublishLogEntry
	for rows.Next() {
		e := &models.PublishLogEntry{}
		if err := rows.Scan(&e.ID, &e.MediaItemID, &e.Success, &e.NFOHash, &e.AssetsWritten, &e.DurationMs, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneLog caps the publish log table.
func (r *PublishRepository) PruneLog(keep int) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM publish_log WHERE id IN (
		SELECT id FROM publish_log ORDER BY created_at DESC OFFSET $1)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneStale removes stale rows older than the cutoff; the files themselves
// are left for manual cleanup per the soft-delete policy.
func (r *PublishRepository) PruneStale(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM published_assets WHERE stale AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
