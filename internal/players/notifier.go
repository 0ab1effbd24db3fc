package players

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pathmap"
)

const (
	singletonAttempts = 3
	playingDeferral   = 5 * time.Minute
)

// Store is the player persistence slice the notifier needs, implemented by
// repository.PlayerRepository.
type Store interface {
	ListNotifiableGroups() ([]*models.PlayerGroup, error)
	GetGroup(id uuid.UUID) (*models.PlayerGroup, error)
	ListPlayersByGroup(groupID uuid.UUID) ([]*models.MediaPlayer, error)
	EnqueueUpdate(u *models.PlayerUpdate) error
	CountPendingUpdates(playerID uuid.UUID) (int, error)
	TouchLastSeen(id uuid.UUID) error
}

// Mappings resolves group-scoped path mappings, implemented by
// repository.MappingRepository.
type Mappings interface {
	ListForGroup(groupID uuid.UUID) ([]*models.PathMapping, error)
}

// Notifier pushes library updates to player groups after a publish.
type Notifier struct {
	store    Store
	mappings Mappings
	factory  Factory
	log      zerolog.Logger
}

func NewNotifier(store Store, mappings Mappings, factory Factory) *Notifier {
	if factory == nil {
		factory = NewClient
	}
	return &Notifier{
		store:    store,
		mappings: mappings,
		factory:  factory,
		log:      logging.WithComponent("players"),
	}
}

// NotifyAll fans a published path out to every group with notifications on.
// Group failures are independent; the first error is returned after all
// groups were attempted.
func (n *Notifier) NotifyAll(ctx context.Context, path, title, message string) error {
	groups, err := n.store.ListNotifiableGroups()
	if err != nil {
		return err
	}
	var firstErr error
	for _, g := range groups {
		if err := n.NotifyGroup(ctx, g, path, title, message); err != nil {
			n.log.Error().Err(err).Str("group", g.Name).Msg("group notify failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Groups returns the groups with notifications enabled.
func (n *Notifier) Groups() ([]*models.PlayerGroup, error) {
	return n.store.ListNotifiableGroups()
}

// NotifyGroupByID loads one group and pushes the update to it.
func (n *Notifier) NotifyGroupByID(ctx context.Context, groupID uuid.UUID, path, title, message string) error {
	group, err := n.store.GetGroup(groupID)
	if err != nil {
		return err
	}
	return n.NotifyGroup(ctx, group, path, title, message)
}

// NotifyGroup translates the path into the group's view and updates its
// members. Singleton groups scan their one player with short retries.
// Larger groups probe playback first: idle members scan immediately, playing
// members get a deferred update so the scan never interrupts a session.
func (n *Notifier) NotifyGroup(ctx context.Context, group *models.PlayerGroup, path, title, message string) error {
	maps, err := n.mappings.ListForGroup(group.ID)
	if err != nil {
		return err
	}
	translated := pathmap.Translate(path, maps)

	members, err := n.store.ListPlayersByGroup(group.ID)
	if err != nil {
		return err
	}
	enabled := members[:0:0]
	for _, m := range members {
		if m.IsEnabled {
			enabled = append(enabled, m)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })

	if group.Singleton() || len(enabled) == 1 {
		return n.notifySingleton(ctx, enabled[0], translated, title, message)
	}
	return n.notifyMulti(ctx, enabled, translated, title, message)
}

func (n *Notifier) notifySingleton(ctx context.Context, p *models.MediaPlayer, path, title, message string) error {
	client, err := n.factory(p)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < singletonAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second << (attempt - 1)):
			}
		}
		if lastErr = client.Scan(ctx, path); lastErr == nil {
			n.scanSucceeded(ctx, client, p, title, message)
			return nil
		}
	}
	metrics.PlayerNotifications.WithLabelValues(string(p.Kind), "error").Inc()
	// Leave it to the update queue instead of failing the publish chain.
	n.log.Warn().Err(lastErr).Str("player", p.Name).Msg("scan failed, queueing for retry")
	return n.enqueue(p.ID, models.UpdateScan, path, nil, time.Now())
}

func (n *Notifier) notifyMulti(ctx context.Context, members []*models.MediaPlayer, path, title, message string) error {
	type probe struct {
		player  *models.MediaPlayer
		client  Client
		playing bool
		err     error
	}
	probes := make([]probe, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *models.MediaPlayer) {
			defer wg.Done()
			probes[i].player = m
			probes[i].client, probes[i].err = n.factory(m)
			if probes[i].err != nil {
				return
			}
			probes[i].playing, probes[i].err = probes[i].client.IsPlaying(ctx)
		}(i, m)
	}
	wg.Wait()

	anyIdle := false
	for _, pr := range probes {
		if pr.err == nil && !pr.playing {
			anyIdle = true
			break
		}
	}
	// With every member mid-playback, the least-backlogged player becomes
	// the primary: its scan is due immediately so the queue fires it the
	// moment playback stops.
	var primary uuid.UUID
	if !anyIdle {
		best := -1
		for _, pr := range probes {
			if pr.err != nil {
				continue
			}
			pending, err := n.store.CountPendingUpdates(pr.player.ID)
			if err != nil {
				continue
			}
			if best < 0 || pending < best {
				best = pending
				primary = pr.player.ID
			}
		}
	}

	var firstErr error
	anyScanned := false
	deferAt := time.Now().Add(playingDeferral)
	for _, pr := range probes {
		scanAt := deferAt
		if pr.player.ID == primary {
			scanAt = time.Now()
		}
		switch {
		case pr.err != nil:
			// Unreachable now; the queue will try again later.
			metrics.PlayerNotifications.WithLabelValues(string(pr.player.Kind), "error").Inc()
			if err := n.enqueue(pr.player.ID, models.UpdateScan, path, nil, time.Now()); err != nil && firstErr == nil {
				firstErr = err
			}
		case pr.playing:
			if err := n.enqueue(pr.player.ID, models.UpdateScan, path, nil, scanAt); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := n.enqueue(pr.player.ID, models.UpdateNotification, path, &message, deferAt); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			if err := pr.client.Scan(ctx, path); err != nil {
				metrics.PlayerNotifications.WithLabelValues(string(pr.player.Kind), "error").Inc()
				if qErr := n.enqueue(pr.player.ID, models.UpdateScan, path, nil, time.Now()); qErr != nil && firstErr == nil {
					firstErr = qErr
				}
				continue
			}
			anyScanned = true
			n.scanSucceeded(ctx, pr.client, pr.player, title, message)
		}
	}

	if !anyScanned && firstErr == nil {
		// Every member is mid-playback; the deferred rows carry the scan.
		n.log.Debug().Str("path", path).Msg("all players busy, scans deferred")
	}
	return firstErr
}

func (n *Notifier) scanSucceeded(ctx context.Context, client Client, p *models.MediaPlayer, title, message string) {
	metrics.PlayerNotifications.WithLabelValues(string(p.Kind), "ok").Inc()
	if err := n.store.TouchLastSeen(p.ID); err != nil {
		n.log.Error().Err(err).Str("player", p.Name).Msg("touch last seen failed")
	}
	if message != "" {
		if err := client.Announce(ctx, title, message); err != nil {
			n.log.Debug().Err(err).Str("player", p.Name).Msg("announce failed")
		}
	}
}

func (n *Notifier) enqueue(playerID uuid.UUID, kind models.UpdateType, path string, message *string, at time.Time) error {
	err := n.store.EnqueueUpdate(&models.PlayerUpdate{
		PlayerID:     playerID,
		UpdateType:   kind,
		Path:         path,
		Message:      message,
		ScheduledFor: at,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s update: %w", kind, err)
	}
	return nil
}
