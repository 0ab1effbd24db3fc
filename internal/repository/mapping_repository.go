package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type MappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

const mappingColumns = `id, scope, manager_type, group_id, source_prefix, target_prefix, position, created_at`

func scanMapping(row interface{ Scan(dest ...interface{}) error }) (*models.PathMapping, error) {
	m := &models.PathMapping{}
	err := row.Scan(&m.ID, &m.Scope, &m.ManagerType, &m.GroupID, &m.SourcePrefix, &m.TargetPrefix, &m.Position, &m.CreatedAt)
	return m, err
}

func (r *MappingRepository) Create(m *models.PathMapping) error {
	return r.db.QueryRow(`INSERT INTO path_mappings (id, scope, manager_type, group_id, source_prefix, target_prefix, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		m.ID, m.Scope, m.ManagerType, m.GroupID, m.SourcePrefix, m.TargetPrefix, m.Position,
	).Scan(&m.CreatedAt)
}

func (r *MappingRepository) Update(m *models.PathMapping) error {
	_, err := r.db.Exec(`UPDATE path_mappings SET source_prefix = $2, target_prefix = $3, position = $4 WHERE id = $1`,
		m.ID, m.SourcePrefix, m.TargetPrefix, m.Position)
	return err
}

func (r *MappingRepository) GetByID(id uuid.UUID) (*models.PathMapping, error) {
	m, err := scanMapping(r.db.QueryRow(`SELECT `+mappingColumns+` FROM path_mappings WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("path mapping %s not found", id)
	}
	return m, err
}

// ListForManager returns the mappings applied to inbound webhook paths from
// the given manager type.
func (r *MappingRepository) ListForManager(managerType string) ([]*models.PathMapping, error) {
	return r.collect(`SELECT `+mappingColumns+` FROM path_mappings
		WHERE scope = 'manager' AND manager_type = $1 ORDER BY position`, managerType)
}

// ListForGroup returns the mappings applied to outbound player notifications.
func (r *MappingRepository) ListForGroup(groupID uuid.UUID) ([]*models.PathMapping, error) {
	return r.collect(`SELECT `+mappingColumns+` FROM path_mappings
		WHERE scope = 'group' AND group_id = $1 ORDER BY position`, groupID)
}

func (r *MappingRepository) List() ([]*models.PathMapping, error) {
	return r.collect(`SELECT ` + mappingColumns + ` FROM path_mappings ORDER BY scope, position`)
}

func (r *MappingRepository) collect(query string, args ...interface{}) ([]*models.PathMapping, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PathMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MappingRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM path_mappings WHERE id = $1`, id)
	return err
}
