package players

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

type fakeQueueStore struct {
	due         []*models.PlayerUpdate
	players     map[uuid.UUID]*models.MediaPlayer
	postponed   map[uuid.UUID]time.Time
	rescheduled map[uuid.UUID]time.Time
	deleted     []uuid.UUID
	touched     []uuid.UUID
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		players:     map[uuid.UUID]*models.MediaPlayer{},
		postponed:   map[uuid.UUID]time.Time{},
		rescheduled: map[uuid.UUID]time.Time{},
	}
}

func (s *fakeQueueStore) addDue(kind models.UpdateType, retries int) (*models.MediaPlayer, *models.PlayerUpdate) {
	p := &models.MediaPlayer{ID: uuid.New(), Name: "kodi", Kind: models.PlayerKodi, IsEnabled: true}
	s.players[p.ID] = p
	u := &models.PlayerUpdate{
		ID:         uuid.New(),
		PlayerID:   p.ID,
		UpdateType: kind,
		Path:       "/mnt/movies/x",
		RetryCount: retries,
	}
	s.due = append(s.due, u)
	return p, u
}

func (s *fakeQueueStore) ListDueUpdates(limit int) ([]*models.PlayerUpdate, error) { return s.due, nil }

func (s *fakeQueueStore) GetPlayer(id uuid.UUID) (*models.MediaPlayer, error) {
	return s.players[id], nil
}

func (s *fakeQueueStore) PostponeUpdate(id uuid.UUID, until time.Time) error {
	s.postponed[id] = until
	return nil
}

func (s *fakeQueueStore) RescheduleWithRetry(id uuid.UUID, until time.Time) error {
	s.rescheduled[id] = until
	return nil
}

func (s *fakeQueueStore) DeleteUpdate(id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeQueueStore) TouchLastSeen(id uuid.UUID) error {
	s.touched = append(s.touched, id)
	return nil
}

func TestQueueProcessesScanWhenIdle(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateScan, 0)
	client := &fakeClient{}
	q := NewUpdateQueue(store, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	q.Drain(context.Background())

	assert.Equal(t, []string{"/mnt/movies/x"}, client.scans)
	assert.Contains(t, store.deleted, u.ID)
	assert.Contains(t, store.touched, p.ID)
}

func TestQueuePostponesWhilePlaying(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateScan, 0)
	client := &fakeClient{playing: true}
	q := NewUpdateQueue(store, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	q.Drain(context.Background())

	assert.Empty(t, client.scans)
	assert.Empty(t, store.deleted)
	until, ok := store.postponed[u.ID]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(playingDeferral), until, 5*time.Second)
}

func TestQueueReschedulesFailureWithBackoff(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateScan, 1)
	client := &fakeClient{scanErr: []error{errors.New("refused")}}
	q := NewUpdateQueue(store, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	q.Drain(context.Background())

	until, ok := store.rescheduled[u.ID]
	require.True(t, ok)
	// Second retry backs off two minutes.
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), until, 5*time.Second)
	assert.Empty(t, store.deleted)
}

func TestQueueDropsAfterMaxRetries(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateScan, maxUpdateRetry-1)
	client := &fakeClient{scanErr: []error{errors.New("refused")}}
	q := NewUpdateQueue(store, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	q.Drain(context.Background())

	assert.Contains(t, store.deleted, u.ID)
	assert.Empty(t, store.rescheduled)
}

func TestQueueDeliversNotification(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateNotification, 0)
	msg := "The Matrix updated"
	u.Message = &msg
	client := &fakeClient{}
	q := NewUpdateQueue(store, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	q.Drain(context.Background())

	assert.Equal(t, []string{"The Matrix updated"}, client.announces)
	assert.Contains(t, store.deleted, u.ID)
}

func TestQueueDropsRowsForMissingOrDisabledPlayers(t *testing.T) {
	store := newFakeQueueStore()
	p, u := store.addDue(models.UpdateScan, 0)
	p.IsEnabled = false
	orphan := &models.PlayerUpdate{ID: uuid.New(), PlayerID: uuid.New(), UpdateType: models.UpdateScan}
	store.due = append(store.due, orphan)
	q := NewUpdateQueue(store, factoryFor(nil))

	q.Drain(context.Background())

	assert.Contains(t, store.deleted, u.ID)
	assert.Contains(t, store.deleted, orphan.ID)
}

func TestWakeCoalesces(t *testing.T) {
	q := NewUpdateQueue(newFakeQueueStore(), factoryFor(nil))
	q.Wake()
	q.Wake()
	q.Wake()
	assert.Len(t, q.wake, 1)
}
