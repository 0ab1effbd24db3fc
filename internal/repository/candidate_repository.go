package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type CandidateRepository struct {
	db *sql.DB
}

func NewCandidateRepository(db *sql.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

const candidateColumns = `id, media_item_id, asset_type, provider, source_url,
	width, height, language, vote_count, vote_average, score,
	is_downloaded, is_selected, is_rejected, selected_by, pending_review,
	content_hash, perceptual_hash, created_at, updated_at`

func scanCandidate(row interface{ Scan(dest ...interface{}) error }) (*models.AssetCandidate, error) {
	c := &models.AssetCandidate{}
	err := row.Scan(
		&c.ID, &c.MediaItemID, &c.AssetType, &c.Provider, &c.SourceURL,
		&c.Width, &c.Height, &c.Language, &c.VoteCount, &c.VoteAverage, &c.Score,
		&c.IsDownloaded, &c.IsSelected, &c.IsRejected, &c.SelectedBy, &c.PendingReview,
		&c.ContentHash, &c.PerceptualHash, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Upsert inserts a candidate or refreshes the volatile columns of an existing
// one. The (item, type, provider, url) key makes re-enrichment idempotent.
func (r *CandidateRepository) Upsert(c *models.AssetCandidate) error {
	query := `INSERT INTO asset_candidates (
		id, media_item_id, asset_type, provider, source_url, width, height,
		language, vote_count, vote_average, score, is_downloaded, selected_by, content_hash, perceptual_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (media_item_id, asset_type, provider, source_url) DO UPDATE SET
		width = EXCLUDED.width, height = EXCLUDED.height, language = EXCLUDED.language,
		vote_count = EXCLUDED.vote_count, vote_average = EXCLUDED.vote_average,
		score = EXCLUDED.score,
		is_downloaded = asset_candidates.is_downloaded OR EXCLUDED.is_downloaded,
		content_hash = COALESCE(EXCLUDED.content_hash, asset_candidates.content_hash),
		perceptual_hash = COALESCE(EXCLUDED.perceptual_hash, asset_candidates.perceptual_hash),
		updated_at = NOW()
	RETURNING id, created_at, updated_at`
	return r.db.QueryRow(query,
		c.ID, c.MediaItemID, c.AssetType, c.Provider, c.SourceURL, c.Width, c.Height,
		c.Language, c.VoteCount, c.VoteAverage, c.Score, c.IsDownloaded, c.SelectedBy, c.ContentHash, c.PerceptualHash,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetBySource returns the candidate matching the natural key, or nil when no
// row exists yet.
func (r *CandidateRepository) GetBySource(itemID uuid.UUID, assetType models.AssetType, provider, sourceURL string) (*models.AssetCandidate, error) {
	c, err := scanCandidate(r.db.QueryRow(`SELECT `+candidateColumns+` FROM asset_candidates
		WHERE media_item_id = $1 AND asset_type = $2 AND provider = $3 AND source_url = $4`,
		itemID, assetType, provider, sourceURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CandidateRepository) GetByID(id uuid.UUID) (*models.AssetCandidate, error) {
	c, err := scanCandidate(r.db.QueryRow(`SELECT `+candidateColumns+` FROM asset_candidates WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset candidate %s not found", id)
	}
	return c, err
}

func (r *CandidateRepository) ListByItem(itemID uuid.UUID) ([]*models.AssetCandidate, error) {
	return r.collect(`SELECT `+candidateColumns+` FROM asset_candidates
		WHERE media_item_id = $1 ORDER BY asset_type, score DESC`, itemID)
}

func (r *CandidateRepository) ListByItemAndType(itemID uuid.UUID, assetType models.AssetType) ([]*models.AssetCandidate, error) {
	return r.collect(`SELECT `+candidateColumns+` FROM asset_candidates
		WHERE media_item_id = $1 AND asset_type = $2 ORDER BY score DESC`, itemID, assetType)
}

// ListSelected returns the active selections for an item.
func (r *CandidateRepository) ListSelected(itemID uuid.UUID) ([]*models.AssetCandidate, error) {
	return r.collect(`SELECT `+candidateColumns+` FROM asset_candidates
		WHERE media_item_id = $1 AND is_selected ORDER BY asset_type, score DESC`, itemID)
}

// ListSelectedUndownloaded returns selections still awaiting download.
func (r *CandidateRepository) ListSelectedUndownloaded(itemID uuid.UUID) ([]*models.AssetCandidate, error) {
	return r.collect(`SELECT `+candidateColumns+` FROM asset_candidates
		WHERE media_item_id = $1 AND is_selected AND NOT is_downloaded`, itemID)
}

func (r *CandidateRepository) collect(query string, args ...interface{}) ([]*models.AssetCandidate, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AssetCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkDownloaded records the cache hash after a successful download.
func (r *CandidateRepository) MarkDownloaded(id uuid.UUID, contentHash string, phash *string) error {
	_, err := r.db.Exec(`UPDATE asset_candidates
		SET is_downloaded = TRUE, content_hash = $2, perceptual_hash = COALESCE($3, perceptual_hash), updated_at = NOW()
		WHERE id = $1`, id, contentHash, phash)
	return err
}

// SetSelected flips the selection flag. Selecting also clears any rejection.
func (r *CandidateRepository) SetSelected(id uuid.UUID, selected bool, by models.SelectionSource, pendingReview bool) error {
	if selected {
		_, err := r.db.Exec(`UPDATE asset_candidates
			SET is_selected = TRUE, is_rejected = FALSE, selected_by = $2, pending_review = $3, updated_at = NOW()
			WHERE id = $1`, id, by, pendingReview)
		return err
	}
	_, err := r.db.Exec(`UPDATE asset_candidates
		SET is_selected = FALSE, selected_by = NULL, pending_review = FALSE, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// ClearAutoSelections drops auto selections of one asset type before a
// re-score. Manual and local selections survive.
func (r *CandidateRepository) ClearAutoSelections(itemID uuid.UUID, assetType models.AssetType) error {
	_, err := r.db.Exec(`UPDATE asset_candidates
		SET is_selected = FALSE, selected_by = NULL, pending_review = FALSE, updated_at = NOW()
		WHERE media_item_id = $1 AND asset_type = $2 AND is_selected AND selected_by = 'auto'`,
		itemID, assetType)
	return err
}

// ClearPendingReview approves hybrid-mode selections for an item.
func (r *CandidateRepository) ClearPendingReview(itemID uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE asset_candidates SET pending_review = FALSE, updated_at = NOW()
		WHERE media_item_id = $1 AND pending_review`, itemID)
	return err
}

// Reject flags a single candidate. A rejected candidate is never selected again.
func (r *CandidateRepository) Reject(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE asset_candidates
		SET is_rejected = TRUE, is_selected = FALSE, selected_by = NULL, pending_review = FALSE, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (r *CandidateRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM asset_candidates WHERE id = $1`, id)
	return err
}
