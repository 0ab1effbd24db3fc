package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type UnknownRepository struct {
	db *sql.DB
}

func NewUnknownRepository(db *sql.DB) *UnknownRepository {
	return &UnknownRepository{db: db}
}

// Upsert records an unclassifiable file; re-scans refresh the size.
func (r *UnknownRepository) Upsert(f *models.UnknownFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return r.db.QueryRow(`INSERT INTO unknown_files (id, library_id, media_item_id, path, extension, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (path) DO UPDATE SET size_bytes = EXCLUDED.size_bytes, media_item_id = EXCLUDED.media_item_id
		RETURNING id, created_at`,
		f.ID, f.LibraryID, f.MediaItemID, f.Path, f.Extension, f.SizeBytes,
	).Scan(&f.ID, &f.CreatedAt)
}

func (r *UnknownRepository) GetByID(id uuid.UUID) (*models.UnknownFile, error) {
	f := &models.UnknownFile{}
	err := r.db.QueryRow(`SELECT id, library_id, media_item_id, path, extension, size_bytes, created_at
		FROM unknown_files WHERE id = $1`, id).
		Scan(&f.ID, &f.LibraryID, &f.MediaItemID, &f.Path, &f.Extension, &f.SizeBytes, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown file %s not found", id)
	}
	return f, err
}

func (r *UnknownRepository) ListByLibrary(libraryID uuid.UUID, limit, offset int) ([]*models.UnknownFile, error) {
	rows, err := r.db.Query(`SELECT id, library_id, media_item_id, path, extension, size_bytes, created_at
		FROM unknown_files WHERE library_id = $1 ORDER BY path LIMIT $2 OFFSET $3`, libraryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.UnknownFile
	for rows.Next() {
		f := &models.UnknownFile{}
		if err := rows.Scan(&f.ID, &f.LibraryID, &f.MediaItemID, &f.Path, &f.Extension, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *UnknownRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM unknown_files WHERE id = $1`, id)
	return err
}
