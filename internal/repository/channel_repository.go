package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/models"
)

type ChannelRepository struct {
	db *sql.DB
}

func NewChannelRepository(db *sql.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

const channelColumns = `id, name, channel_type, webhook_url, is_enabled, events, config, created_at, updated_at`

func scanChannel(row interface{ Scan(dest ...interface{}) error }) (*models.NotificationChannel, error) {
	c := &models.NotificationChannel{}
	err := row.Scan(&c.ID, &c.Name, &c.ChannelType, &c.WebhookURL, &c.IsEnabled, &c.Events, &c.Config, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *ChannelRepository) Create(c *models.NotificationChannel) error {
	return r.db.QueryRow(`INSERT INTO notification_channels (id, name, channel_type, webhook_url, is_enabled, events, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		c.ID, c.Name, c.ChannelType, c.WebhookURL, c.IsEnabled, pq.Array(orEmpty(c.Events)), c.Config,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *ChannelRepository) Update(c *models.NotificationChannel) error {
	_, err := r.db.Exec(`UPDATE notification_channels SET name = $2, channel_type = $3, webhook_url = $4,
		is_enabled = $5, events = $6, config = $7, updated_at = NOW() WHERE id = $1`,
		c.ID, c.Name, c.ChannelType, c.WebhookURL, c.IsEnabled, pq.Array(orEmpty(c.Events)), c.Config)
	return err
}

func (r *ChannelRepository) GetByID(id uuid.UUID) (*models.NotificationChannel, error) {
	c, err := scanChannel(r.db.QueryRow(`SELECT `+channelColumns+` FROM notification_channels WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification channel %s not found", id)
	}
	return c, err
}

func (r *ChannelRepository) List() ([]*models.NotificationChannel, error) {
	rows, err := r.db.Query(`SELECT ` + channelColumns + ` FROM notification_channels ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEnabledForEvent returns enabled channels subscribed to the event.
func (r *ChannelRepository) ListEnabledForEvent(event string) ([]*models.NotificationChannel, error) {
	channels, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*models.NotificationChannel
	for _, c := range channels {
		if c.IsEnabled && c.SubscribedTo(event) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *ChannelRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM notification_channels WHERE id = $1`, id)
	return err
}
