package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append writes one audit row. Activity is append-only; failures here are
// logged by callers but never abort the operation being audited.
func (r *ActivityRepository) Append(kind string, itemID, jobID *uuid.UUID, message string, detail interface{}) error {
	var detailJSON *json.RawMessage
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err == nil {
			rm := json.RawMessage(raw)
			detailJSON = &rm
		}
	}
	_, err := r.db.Exec(`INSERT INTO activity (id, kind, media_item_id, job_id, message, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), kind, itemID, jobID, message, detailJSON)
	return err
}

func (r *ActivityRepository) List(limit, offset int) ([]*models.Activity, error) {
	rows, err := r.db.Query(`SELECT id, kind, media_item_id, job_id, message, detail, created_at
		FROM activity ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		if err := rows.Scan(&a.ID, &a.Kind, &a.MediaItemID, &a.JobID, &a.Message, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ActivityRepository) ListByItem(itemID uuid.UUID, limit int) ([]*models.Activity, error) {
	rows, err := r.db.Query(`SELECT id, kind, media_item_id, job_id, message, detail, created_at
		FROM activity WHERE media_item_id = $1 ORDER BY created_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		if err := rows.Scan(&a.ID, &a.Kind, &a.MediaItemID, &a.JobID, &a.Message, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune caps the activity table.
func (r *ActivityRepository) Prune(keep int) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM activity WHERE id IN (
		SELECT id FROM activity ORDER BY created_at DESC OFFSET $1)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
