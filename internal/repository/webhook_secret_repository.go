package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type WebhookSecretRepository struct {
	db *sql.DB
}

func NewWebhookSecretRepository(db *sql.DB) *WebhookSecretRepository {
	return &WebhookSecretRepository{db: db}
}

const webhookSecretColumns = `id, name, service, secret_hash, library_id, is_active, last_triggered_at, created_at`

func scanWebhookSecret(row interface{ Scan(dest ...interface{}) error }) (*models.WebhookSecret, error) {
	s := &models.WebhookSecret{}
	err := row.Scan(&s.ID, &s.Name, &s.Service, &s.SecretHash, &s.LibraryID, &s.IsActive, &s.LastTriggeredAt, &s.CreatedAt)
	return s, err
}

func (r *WebhookSecretRepository) Create(s *models.WebhookSecret) error {
	return r.db.QueryRow(`INSERT INTO webhook_secrets (id, name, service, secret_hash, library_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		s.ID, s.Name, s.Service, s.SecretHash, s.LibraryID, s.IsActive,
	).Scan(&s.CreatedAt)
}

// GetByHash resolves an inbound secret (already sha256-hexed) to its row.
// Inactive rows do not authenticate.
func (r *WebhookSecretRepository) GetByHash(hash string) (*models.WebhookSecret, error) {
	s, err := scanWebhookSecret(r.db.QueryRow(
		`SELECT `+webhookSecretColumns+` FROM webhook_secrets WHERE secret_hash = $1 AND is_active`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *WebhookSecretRepository) GetByID(id uuid.UUID) (*models.WebhookSecret, error) {
	s, err := scanWebhookSecret(r.db.QueryRow(`SELECT `+webhookSecretColumns+` FROM webhook_secrets WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook secret %s not found", id)
	}
	return s, err
}

func (r *WebhookSecretRepository) List() ([]*models.WebhookSecret, error) {
	rows, err := r.db.Query(`SELECT ` + webhookSecretColumns + ` FROM webhook_secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.WebhookSecret
	for rows.Next() {
		s, err := scanWebhookSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *WebhookSecretRepository) TouchLastTriggered(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE webhook_secrets SET last_triggered_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *WebhookSecretRepository) SetActive(id uuid.UUID, active bool) error {
	_, err := r.db.Exec(`UPDATE webhook_secrets SET is_active = $2 WHERE id = $1`, id, active)
	return err
}

func (r *WebhookSecretRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM webhook_secrets WHERE id = $1`, id)
	return err
}
