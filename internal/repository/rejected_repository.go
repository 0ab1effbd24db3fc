package repository

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type RejectedRepository struct {
	db *sql.DB
}

func NewRejectedRepository(db *sql.DB) *RejectedRepository {
	return &RejectedRepository{db: db}
}

// Add inserts a (provider, url) pair into the global blacklist. Duplicate
// rejections are a no-op.
func (r *RejectedRepository) Add(rej *models.RejectedAsset) error {
	if rej.ID == uuid.Nil {
		rej.ID = uuid.New()
	}
	_, err := r.db.Exec(`INSERT INTO rejected_assets (id, provider, source_url, media_item_id, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, source_url) DO NOTHING`,
		rej.ID, rej.Provider, rej.SourceURL, rej.MediaItemID, rej.Reason)
	return err
}

func (r *RejectedRepository) IsRejected(provider, sourceURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM rejected_assets WHERE provider = $1 AND source_url = $2)`,
		provider, sourceURL).Scan(&exists)
	return exists, err
}

// RejectedSet loads the whole blacklist keyed provider+"\n"+url, for bulk
// filtering during scoring.
func (r *RejectedRepository) RejectedSet() (map[string]struct{}, error) {
	rows, err := r.db.Query(`SELECT provider, source_url FROM rejected_assets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var provider, url string
		if err := rows.Scan(&provider, &url); err != nil {
			return nil, err
		}
		set[provider+"\n"+url] = struct{}{}
	}
	return set, rows.Err()
}

func (r *RejectedRepository) List(limit, offset int) ([]*models.RejectedAsset, error) {
	rows, err := r.db.Query(`SELECT id, provider, source_url, media_item_id, reason, created_at
		FROM rejected_assets ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RejectedAsset
	for rows.Next() {
		rej := &models.RejectedAsset{}
		if err := rows.Scan(&rej.ID, &rej.Provider, &rej.SourceURL, &rej.MediaItemID, &rej.Reason, &rej.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rej)
	}
	return out, rows.Err()
}

func (r *RejectedRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM rejected_assets WHERE id = $1`, id)
	return err
}
