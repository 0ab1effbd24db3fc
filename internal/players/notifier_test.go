package players

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ──────────────────── fakes ────────────────────

type fakeClient struct {
	mu        sync.Mutex
	playing   bool
	playErr   error
	scanErr   []error // popped per call; empty = success
	scans     []string
	announces []string
}

func (f *fakeClient) Scan(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scanErr) > 0 {
		err := f.scanErr[0]
		f.scanErr = f.scanErr[1:]
		if err != nil {
			return err
		}
	}
	f.scans = append(f.scans, path)
	return nil
}

func (f *fakeClient) Announce(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announces = append(f.announces, message)
	return nil
}

func (f *fakeClient) IsPlaying(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing, f.playErr
}

func (f *fakeClient) TestConnection(ctx context.Context) error { return nil }

type fakeStore struct {
	mu       sync.Mutex
	groups   []*models.PlayerGroup
	players  map[uuid.UUID][]*models.MediaPlayer
	byID     map[uuid.UUID]*models.MediaPlayer
	pending  map[uuid.UUID]int
	enqueued []*models.PlayerUpdate
	touched  []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: map[uuid.UUID][]*models.MediaPlayer{},
		byID:    map[uuid.UUID]*models.MediaPlayer{},
		pending: map[uuid.UUID]int{},
	}
}

func (s *fakeStore) addPlayer(groupID uuid.UUID, name string) *models.MediaPlayer {
	p := &models.MediaPlayer{ID: uuid.New(), GroupID: groupID, Name: name, Kind: models.PlayerKodi, IsEnabled: true}
	s.players[groupID] = append(s.players[groupID], p)
	s.byID[p.ID] = p
	return p
}

func (s *fakeStore) ListNotifiableGroups() ([]*models.PlayerGroup, error) { return s.groups, nil }

func (s *fakeStore) GetGroup(id uuid.UUID) (*models.PlayerGroup, error) {
	for _, g := range s.groups {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, errors.New("group not found")
}

func (s *fakeStore) ListPlayersByGroup(groupID uuid.UUID) ([]*models.MediaPlayer, error) {
	return s.players[groupID], nil
}

func (s *fakeStore) EnqueueUpdate(u *models.PlayerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = uuid.New()
	s.enqueued = append(s.enqueued, u)
	return nil
}

func (s *fakeStore) CountPendingUpdates(playerID uuid.UUID) (int, error) {
	return s.pending[playerID], nil
}

func (s *fakeStore) TouchLastSeen(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeStore) updatesFor(playerID uuid.UUID, kind models.UpdateType) []*models.PlayerUpdate {
	var out []*models.PlayerUpdate
	for _, u := range s.enqueued {
		if u.PlayerID == playerID && u.UpdateType == kind {
			out = append(out, u)
		}
	}
	return out
}

type fakeMappings struct {
	maps []*models.PathMapping
}

func (f *fakeMappings) ListForGroup(uuid.UUID) ([]*models.PathMapping, error) {
	return f.maps, nil
}

func factoryFor(clients map[uuid.UUID]*fakeClient) Factory {
	return func(p *models.MediaPlayer) (Client, error) {
		c, ok := clients[p.ID]
		if !ok {
			return nil, errors.New("unreachable player")
		}
		return c, nil
	}
}

func singletonGroup() *models.PlayerGroup {
	one := 1
	return &models.PlayerGroup{ID: uuid.New(), Name: "living room", MaxMembers: &one, NotificationsEnabled: true}
}

// ──────────────────── notifier ────────────────────

func TestNotifySingletonScansTranslatedPath(t *testing.T) {
	group := singletonGroup()
	store := newFakeStore()
	p := store.addPlayer(group.ID, "kodi")
	client := &fakeClient{}
	maps := &fakeMappings{maps: []*models.PathMapping{
		{SourcePrefix: "/data/movies", TargetPrefix: "/mnt/nas/movies"},
	}}
	n := NewNotifier(store, maps, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	err := n.NotifyGroup(context.Background(), group, "/data/movies/The Matrix (1999)", "Fetcharr", "updated")
	require.NoError(t, err)
	require.Len(t, client.scans, 1)
	assert.Equal(t, "/mnt/nas/movies/The Matrix (1999)", client.scans[0])
	assert.Equal(t, []string{"updated"}, client.announces)
	assert.Equal(t, []uuid.UUID{p.ID}, store.touched)
	assert.Empty(t, store.enqueued)
}

func TestNotifySingletonRetriesThenSucceeds(t *testing.T) {
	group := singletonGroup()
	store := newFakeStore()
	p := store.addPlayer(group.ID, "kodi")
	client := &fakeClient{scanErr: []error{errors.New("refused")}}
	n := NewNotifier(store, &fakeMappings{}, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	err := n.NotifyGroup(context.Background(), group, "/data/x", "t", "m")
	require.NoError(t, err)
	assert.Len(t, client.scans, 1)
	assert.Empty(t, store.enqueued)
}

func TestNotifySingletonQueuesAfterExhaustedRetries(t *testing.T) {
	group := singletonGroup()
	store := newFakeStore()
	p := store.addPlayer(group.ID, "kodi")
	boom := errors.New("refused")
	client := &fakeClient{scanErr: []error{boom, boom, boom}}
	n := NewNotifier(store, &fakeMappings{}, factoryFor(map[uuid.UUID]*fakeClient{p.ID: client}))

	err := n.NotifyGroup(context.Background(), group, "/data/x", "t", "m")
	require.NoError(t, err, "publish chain must not fail on an offline player")
	assert.Empty(t, client.scans)
	queued := store.updatesFor(p.ID, models.UpdateScan)
	require.Len(t, queued, 1)
	assert.WithinDuration(t, time.Now(), queued[0].ScheduledFor, 5*time.Second)
}

func TestNotifyMultiDefersPlayingMembers(t *testing.T) {
	group := &models.PlayerGroup{ID: uuid.New(), Name: "house", NotificationsEnabled: true}
	store := newFakeStore()
	idle := store.addPlayer(group.ID, "bedroom")
	busy := store.addPlayer(group.ID, "den")
	clients := map[uuid.UUID]*fakeClient{
		idle.ID: {},
		busy.ID: {playing: true},
	}
	n := NewNotifier(store, &fakeMappings{}, factoryFor(clients))

	err := n.NotifyGroup(context.Background(), group, "/data/x", "t", "m")
	require.NoError(t, err)

	assert.Len(t, clients[idle.ID].scans, 1, "idle member scans immediately")
	assert.Empty(t, clients[busy.ID].scans)

	deferred := store.updatesFor(busy.ID, models.UpdateScan)
	require.Len(t, deferred, 1)
	assert.WithinDuration(t, time.Now().Add(playingDeferral), deferred[0].ScheduledFor, 5*time.Second)
	assert.Len(t, store.updatesFor(busy.ID, models.UpdateNotification), 1)
	assert.Empty(t, store.updatesFor(idle.ID, models.UpdateScan))
}

func TestNotifyMultiAllPlayingPicksSmallestQueuePrimary(t *testing.T) {
	group := &models.PlayerGroup{ID: uuid.New(), Name: "house", NotificationsEnabled: true}
	store := newFakeStore()
	backlogged := store.addPlayer(group.ID, "a-backlogged")
	primary := store.addPlayer(group.ID, "b-quiet")
	store.pending[backlogged.ID] = 4
	store.pending[primary.ID] = 0
	clients := map[uuid.UUID]*fakeClient{
		backlogged.ID: {playing: true},
		primary.ID:    {playing: true},
	}
	n := NewNotifier(store, &fakeMappings{}, factoryFor(clients))

	err := n.NotifyGroup(context.Background(), group, "/data/x", "t", "m")
	require.NoError(t, err)

	primaryScan := store.updatesFor(primary.ID, models.UpdateScan)
	require.Len(t, primaryScan, 1)
	assert.WithinDuration(t, time.Now(), primaryScan[0].ScheduledFor, 5*time.Second,
		"primary scan fires as soon as playback stops")

	otherScan := store.updatesFor(backlogged.ID, models.UpdateScan)
	require.Len(t, otherScan, 1)
	assert.WithinDuration(t, time.Now().Add(playingDeferral), otherScan[0].ScheduledFor, 5*time.Second)
}

func TestNotifyGroupByIDTargetsOneGroup(t *testing.T) {
	group := singletonGroup()
	other := singletonGroup()
	store := newFakeStore()
	store.groups = []*models.PlayerGroup{group, other}
	p := store.addPlayer(group.ID, "kodi")
	bystander := store.addPlayer(other.ID, "den")
	clients := map[uuid.UUID]*fakeClient{p.ID: {}, bystander.ID: {}}
	n := NewNotifier(store, &fakeMappings{}, factoryFor(clients))

	err := n.NotifyGroupByID(context.Background(), group.ID, "/data/x", "t", "m")
	require.NoError(t, err)
	assert.Len(t, clients[p.ID].scans, 1)
	assert.Empty(t, clients[bystander.ID].scans, "other groups stay untouched")

	err = n.NotifyGroupByID(context.Background(), uuid.New(), "/data/x", "t", "m")
	assert.Error(t, err)
}

func TestNotifyGroupSkipsDisabledMembers(t *testing.T) {
	group := singletonGroup()
	store := newFakeStore()
	p := store.addPlayer(group.ID, "kodi")
	p.IsEnabled = false
	n := NewNotifier(store, &fakeMappings{}, factoryFor(nil))

	err := n.NotifyGroup(context.Background(), group, "/data/x", "t", "m")
	require.NoError(t, err)
	assert.Empty(t, store.enqueued)
}
