package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
)

type PlayerRepository struct {
	db *sql.DB
}

func NewPlayerRepository(db *sql.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// ──────────────────── Groups ────────────────────

const groupColumns = `id, name, max_members, notifications_enabled, created_at, updated_at`

func scanGroup(row interface{ Scan(dest ...interface{}) error }) (*models.PlayerGroup, error) {
	g := &models.PlayerGroup{}
	err := row.Scan(&g.ID, &g.Name, &g.MaxMembers, &g.NotificationsEnabled, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func (r *PlayerRepository) CreateGroup(g *models.PlayerGroup) error {
	return r.db.QueryRow(`INSERT INTO player_groups (id, name, max_members, notifications_enabled)
		VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		g.ID, g.Name, g.MaxMembers, g.NotificationsEnabled,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *PlayerRepository) UpdateGroup(g *models.PlayerGroup) error {
	_, err := r.db.Exec(`UPDATE player_groups SET name = $2, max_members = $3,
		notifications_enabled = $4, updated_at = NOW() WHERE id = $1`,
		g.ID, g.Name, g.MaxMembers, g.NotificationsEnabled)
	return err
}

func (r *PlayerRepository) GetGroup(id uuid.UUID) (*models.PlayerGroup, error) {
	g, err := scanGroup(r.db.QueryRow(`SELECT `+groupColumns+` FROM player_groups WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("player group %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	g.Members, err = r.ListPlayersByGroup(g.ID)
	return g, err
}

func (r *PlayerRepository) ListGroups() ([]*models.PlayerGroup, error) {
	rows, err := r.db.Query(`SELECT ` + groupColumns + ` FROM player_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []*models.PlayerGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Members, err = r.ListPlayersByGroup(g.ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// ListNotifiableGroups returns groups that subscribe to publish notifications.
func (r *PlayerRepository) ListNotifiableGroups() ([]*models.PlayerGroup, error) {
	groups, err := r.ListGroups()
	if err != nil {
		return nil, err
	}
	var out []*models.PlayerGroup
	for _, g := range groups {
		if g.NotificationsEnabled {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *PlayerRepository) DeleteGroup(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM player_groups WHERE id = $1`, id)
	return err
}

// ──────────────────── Players ────────────────────

const playerColumns = `id, group_id, name, kind, host, port, username, password, token,
	is_enabled, last_seen_at, created_at, updated_at`

func scanPlayer(row interface{ Scan(dest ...interface{}) error }) (*models.MediaPlayer, error) {
	p := &models.MediaPlayer{}
	err := row.Scan(&p.ID, &p.GroupID, &p.Name, &p.Kind, &p.Host, &p.Port, &p.Username,
		&p.Password, &p.Token, &p.IsEnabled, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePlayer inserts a player after enforcing the group's member limit.
func (r *PlayerRepository) CreatePlayer(p *models.MediaPlayer) error {
	var maxMembers *int
	var members int
	err := r.db.QueryRow(`SELECT g.max_members, COUNT(m.id)
		FROM player_groups g LEFT JOIN media_players m ON m.group_id = g.id
		WHERE g.id = $1 GROUP BY g.max_members`, p.GroupID).Scan(&maxMembers, &members)
	if err == sql.ErrNoRows {
		return fmt.Errorf("player group %s not found", p.GroupID)
	}
	if err != nil {
		return err
	}
	if maxMembers != nil && members >= *maxMembers {
		return fmt.Errorf("player group is full (%d members max)", *maxMembers)
	}
	return r.db.QueryRow(`INSERT INTO media_players (id, group_id, name, kind, host, port, username, password, token, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at, updated_at`,
		p.ID, p.GroupID, p.Name, p.Kind, p.Host, p.Port, p.Username, p.Password, p.Token, p.IsEnabled,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PlayerRepository) UpdatePlayer(p *models.MediaPlayer) error {
	_, err := r.db.Exec(`UPDATE media_players SET name = $2, kind = $3, host = $4, port = $5,
		username = $6, password = $7, token = $8, is_enabled = $9, updated_at = NOW() WHERE id = $1`,
		p.ID, p.Name, p.Kind, p.Host, p.Port, p.Username, p.Password, p.Token, p.IsEnabled)
	return err
}

func (r *PlayerRepository) GetPlayer(id uuid.UUID) (*models.MediaPlayer, error) {
	p, err := scanPlayer(r.db.QueryRow(`SELECT `+playerColumns+` FROM media_players WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("player %s not found", id)
	}
	return p, err
}

func (r *PlayerRepository) ListPlayersByGroup(groupID uuid.UUID) ([]*models.MediaPlayer, error) {
	rows, err := r.db.Query(`SELECT `+playerColumns+` FROM media_players WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.MediaPlayer
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PlayerRepository) DeletePlayer(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM media_players WHERE id = $1`, id)
	return err
}

func (r *PlayerRepository) TouchLastSeen(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE media_players SET last_seen_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ──────────────────── Scheduled updates ────────────────────

const updateColumns = `id, player_id, update_type, path, message, scheduled_for, retry_count, created_at`

func scanUpdate(row interface{ Scan(dest ...interface{}) error }) (*models.PlayerUpdate, error) {
	u := &models.PlayerUpdate{}
	err := row.Scan(&u.ID, &u.PlayerID, &u.UpdateType, &u.Path, &u.Message, &u.ScheduledFor, &u.RetryCount, &u.CreatedAt)
	return u, err
}

func (r *PlayerRepository) EnqueueUpdate(u *models.PlayerUpdate) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return r.db.QueryRow(`INSERT INTO player_updates (id, player_id, update_type, path, message, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		u.ID, u.PlayerID, u.UpdateType, u.Path, u.Message, u.ScheduledFor,
	).Scan(&u.CreatedAt)
}

// ListDueUpdates returns updates whose scheduled time has passed.
func (r *PlayerRepository) ListDueUpdates(limit int) ([]*models.PlayerUpdate, error) {
	rows, err := r.db.Query(`SELECT `+updateColumns+` FROM player_updates
		WHERE scheduled_for <= NOW() ORDER BY scheduled_for LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PlayerUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListDueUpdatesForPlayer is the opportunistic path taken when a player
// reports playback stopped.
func (r *PlayerRepository) ListDueUpdatesForPlayer(playerID uuid.UUID) ([]*models.PlayerUpdate, error) {
	rows, err := r.db.Query(`SELECT `+updateColumns+` FROM player_updates
		WHERE player_id = $1 AND scheduled_for <= NOW() ORDER BY scheduled_for`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PlayerUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountPendingUpdates reports a player's queue depth, used for primary selection.
func (r *PlayerRepository) CountPendingUpdates(playerID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM player_updates WHERE player_id = $1`, playerID).Scan(&n)
	return n, err
}

// Postpone writes back a later scheduled_for, used while the target is playing.
func (r *PlayerRepository) PostponeUpdate(id uuid.UUID, until time.Time) error {
	_, err := r.db.Exec(`UPDATE player_updates SET scheduled_for = $2 WHERE id = $1`, id, until)
	return err
}

// RescheduleWithRetry backs the update off after a delivery failure.
func (r *PlayerRepository) RescheduleWithRetry(id uuid.UUID, until time.Time) error {
	_, err := r.db.Exec(`UPDATE player_updates SET scheduled_for = $2, retry_count = retry_count + 1 WHERE id = $1`, id, until)
	return err
}

func (r *PlayerRepository) DeleteUpdate(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM player_updates WHERE id = $1`, id)
	return err
}
