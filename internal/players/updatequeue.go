package players

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

const (
	queueTick       = 30 * time.Second
	queueBatch      = 50
	maxUpdateRetry  = 3
	retryBackoff    = time.Minute
	noticeTitle     = "Fetcharr"
)

// QueueStore is the scheduled-update slice of repository.PlayerRepository.
type QueueStore interface {
	ListDueUpdates(limit int) ([]*models.PlayerUpdate, error)
	GetPlayer(id uuid.UUID) (*models.MediaPlayer, error)
	PostponeUpdate(id uuid.UUID, until time.Time) error
	RescheduleWithRetry(id uuid.UUID, until time.Time) error
	DeleteUpdate(id uuid.UUID) error
	TouchLastSeen(id uuid.UUID) error
}

// UpdateQueue drains due PlayerUpdate rows. It ticks every 30 seconds and
// can be woken early, typically by a Kodi playback-stopped signal.
type UpdateQueue struct {
	store   QueueStore
	factory Factory
	wake    chan struct{}
	log     zerolog.Logger
}

func NewUpdateQueue(store QueueStore, factory Factory) *UpdateQueue {
	if factory == nil {
		factory = NewClient
	}
	return &UpdateQueue{
		store:   store,
		factory: factory,
		wake:    make(chan struct{}, 1),
		log:     logging.WithComponent("players"),
	}
}

// Wake nudges the queue to drain now. Safe from any goroutine; coalesces.
func (q *UpdateQueue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *UpdateQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(queueTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.Drain(ctx)
	}
}

// Drain processes one batch of due updates.
func (q *UpdateQueue) Drain(ctx context.Context) {
	due, err := q.store.ListDueUpdates(queueBatch)
	if err != nil {
		q.log.Error().Err(err).Msg("list due updates failed")
		return
	}
	for _, u := range due {
		if ctx.Err() != nil {
			return
		}
		q.process(ctx, u)
	}
}

func (q *UpdateQueue) process(ctx context.Context, u *models.PlayerUpdate) {
	player, err := q.store.GetPlayer(u.PlayerID)
	if err != nil || player == nil {
		// Player gone; the row has nothing left to do.
		_ = q.store.DeleteUpdate(u.ID)
		return
	}
	if !player.IsEnabled {
		_ = q.store.DeleteUpdate(u.ID)
		return
	}

	client, err := q.factory(player)
	if err != nil {
		q.fail(u, player, err)
		return
	}

	switch u.UpdateType {
	case models.UpdateScan:
		playing, err := client.IsPlaying(ctx)
		if err != nil {
			q.fail(u, player, err)
			return
		}
		if playing {
			// Not a failure: playback just pushes the scan out.
			if err := q.store.PostponeUpdate(u.ID, time.Now().Add(playingDeferral)); err != nil {
				q.log.Error().Err(err).Str("player", player.Name).Msg("postpone failed")
			}
			return
		}
		if err := client.Scan(ctx, u.Path); err != nil {
			q.fail(u, player, err)
			return
		}
	case models.UpdateNotification:
		msg := strOrEmpty(u.Message)
		if msg == "" {
			msg = u.Path
		}
		if err := client.Announce(ctx, noticeTitle, msg); err != nil {
			q.fail(u, player, err)
			return
		}
	default:
		q.log.Warn().Str("type", string(u.UpdateType)).Msg("unknown update type dropped")
		_ = q.store.DeleteUpdate(u.ID)
		return
	}

	metrics.PlayerNotifications.WithLabelValues(string(player.Kind), "ok").Inc()
	if err := q.store.TouchLastSeen(player.ID); err != nil {
		q.log.Error().Err(err).Str("player", player.Name).Msg("touch last seen failed")
	}
	if err := q.store.DeleteUpdate(u.ID); err != nil {
		q.log.Error().Err(err).Str("player", player.Name).Msg("delete update failed")
	}
}

func (q *UpdateQueue) fail(u *models.PlayerUpdate, player *models.MediaPlayer, err error) {
	metrics.PlayerNotifications.WithLabelValues(string(player.Kind), "error").Inc()
	if u.RetryCount+1 >= maxUpdateRetry {
		q.log.Warn().Err(err).Str("player", player.Name).Str("path", u.Path).Msg("update dropped after retries")
		_ = q.store.DeleteUpdate(u.ID)
		return
	}
	delay := retryBackoff << u.RetryCount
	q.log.Debug().Err(err).Str("player", player.Name).Dur("retry_in", delay).Msg("update failed, rescheduling")
	if rErr := q.store.RescheduleWithRetry(u.ID, time.Now().Add(delay)); rErr != nil {
		q.log.Error().Err(rErr).Str("player", player.Name).Msg("reschedule failed")
	}
}
